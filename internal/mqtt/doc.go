// Package mqtt mirrors the in-process event bus to an MQTT broker so
// dashboards and home automation can follow chat activity.
//
// Each event is published as JSON to {prefix}/events/{source}/{kind}.
// A retained "online" message on {prefix}/status is sent on every
// (re-)connect, and a will message flips it to "offline" when the
// connection drops. Connection management, including reconnects, is
// left to Eclipse Paho's [autopaho].
package mqtt
