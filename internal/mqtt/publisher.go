package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/agentcore-local/internal/config"
	"github.com/nugget/agentcore-local/internal/events"
)

// eventBuffer is the bus subscription depth. Events beyond it are
// dropped by the bus while the broker is slow.
const eventBuffer = 128

// publishFunc sends one message. It is autopaho's Publish in production.
type publishFunc func(ctx context.Context, p *paho.Publish) error

// Publisher forwards bus events to an MQTT broker.
type Publisher struct {
	cfg      config.MQTTConfig
	clientID string
	bus      *events.Bus
	logger   *slog.Logger

	mu      sync.Mutex
	cm      *autopaho.ConnectionManager
	publish publishFunc
}

// New creates a Publisher. It does not connect until Start.
func New(cfg config.MQTTConfig, clientID string, bus *events.Bus, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if clientID == "" {
		clientID = cfg.ClientID
	}
	return &Publisher{
		cfg:      cfg,
		clientID: clientID,
		bus:      bus,
		logger:   logger.With("component", "mqtt"),
	}
}

// Start connects to the broker and forwards events until ctx is
// cancelled. A broker that is down at startup is not an error; autopaho
// keeps retrying in the background and events published meanwhile fail
// and are logged at debug level.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	status := p.statusTopic()
	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   status,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("connected to broker", "broker", p.cfg.Broker, "client_id", p.clientID)
			p.sendStatus(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			p.logger.Warn("broker connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{ClientID: p.clientID},
	}
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.mu.Lock()
	p.cm = cm
	p.mu.Unlock()
	p.publish = func(ctx context.Context, msg *paho.Publish) error {
		_, err := cm.Publish(ctx, msg)
		return err
	}

	connCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := cm.AwaitConnection(connCtx); err != nil {
		p.logger.Warn("broker not reachable yet, retrying in background", "error", err)
	}
	cancel()

	ch := p.bus.Subscribe(eventBuffer)
	defer p.bus.Unsubscribe(ch)
	p.forward(ctx, ch)
	return nil
}

// Stop publishes "offline" and disconnects.
func (p *Publisher) Stop(ctx context.Context) error {
	p.mu.Lock()
	cm := p.cm
	p.mu.Unlock()
	if cm == nil {
		return nil
	}
	p.sendStatus(ctx, cm, "offline")
	return cm.Disconnect(ctx)
}

// forward publishes events from ch until ctx is done or ch closes.
func (p *Publisher) forward(ctx context.Context, ch <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			p.publishEvent(ctx, e)
		}
	}
}

func (p *Publisher) publishEvent(ctx context.Context, e events.Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		p.logger.Error("marshal event", "kind", e.Kind, "error", err)
		return
	}
	topic := p.eventTopic(e)
	if err := p.publish(ctx, &paho.Publish{Topic: topic, Payload: payload, QoS: 0}); err != nil {
		p.logger.Debug("event publish failed", "topic", topic, "error", err)
	}
}

func (p *Publisher) sendStatus(ctx context.Context, cm *autopaho.ConnectionManager, status string) {
	if _, err := cm.Publish(ctx, &paho.Publish{
		Topic:   p.statusTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("status publish failed", "status", status, "error", err)
	}
}

func (p *Publisher) prefix() string {
	return strings.TrimRight(p.cfg.TopicPrefix, "/")
}

func (p *Publisher) statusTopic() string {
	return p.prefix() + "/status"
}

func (p *Publisher) eventTopic(e events.Event) string {
	return p.prefix() + "/events/" + topicLevel(e.Source) + "/" + topicLevel(e.Kind)
}

// topicLevel makes s safe for use as one topic level.
func topicLevel(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}
