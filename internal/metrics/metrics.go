// Package metrics provides Prometheus metrics for AgentCore.
//
// Collectors are registered on a caller-supplied registry rather than the
// global default, so tests can build as many Metrics as they like. All
// Record methods are safe to call on a nil *Metrics.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus collectors for AgentCore.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP surface
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Agent invocation
	AgentInvocationsTotal   *prometheus.CounterVec
	AgentInvocationDuration prometheus.Histogram
	AgentInFlight           prometheus.Gauge
	AgentQueueWait          prometheus.Histogram
	ToolCallsTotal          *prometheus.CounterVec

	// Conversations
	ChatsTotal         *prometheus.CounterVec
	ConversationsTotal prometheus.Gauge
	MessagesTotal      prometheus.Gauge

	// Model backend
	ModelUp prometheus.Gauge
}

// New creates a registry with Go and process collectors plus all
// AgentCore metrics.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	f := promauto.With(reg)
	m := &Metrics{registry: reg}

	m.HTTPRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	m.HTTPRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentcore_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: []float64{.005, .025, .1, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"route"},
	)

	m.AgentInvocationsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_agent_invocations_total",
			Help: "Total number of agent invocations by outcome",
		},
		[]string{"status"},
	)

	m.AgentInvocationDuration = f.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentcore_agent_invocation_duration_seconds",
			Help:    "Duration of agent calls in seconds, excluding queue wait",
			Buckets: []float64{.25, .5, 1, 2.5, 5, 10, 20, 40, 80, 160, 300},
		},
	)

	m.AgentInFlight = f.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentcore_agent_in_flight",
			Help: "Number of agent calls currently running on a worker",
		},
	)

	m.AgentQueueWait = f.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "agentcore_agent_queue_wait_seconds",
			Help:    "Time spent waiting for a free agent worker",
			Buckets: []float64{.001, .01, .1, .5, 1, 5, 15, 60},
		},
	)

	m.ToolCallsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_tool_calls_total",
			Help: "Total number of tool calls made by the agent",
		},
		[]string{"tool", "status"},
	)

	m.ChatsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentcore_chats_total",
			Help: "Total number of chat turns by outcome",
		},
		[]string{"outcome"},
	)

	m.ConversationsTotal = f.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentcore_conversations",
			Help: "Number of stored conversations",
		},
	)

	m.MessagesTotal = f.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentcore_messages",
			Help: "Number of stored messages",
		},
	)

	m.ModelUp = f.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentcore_model_backend_up",
			Help: "Whether the model backend answered its last health check (1) or not (0)",
		},
	)

	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the /metrics exposition handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// RecordHTTPRequest records a served HTTP request.
func (m *Metrics) RecordHTTPRequest(method, route, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(method, route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(d.Seconds())
}

// RecordInvocation records a finished agent call.
func (m *Metrics) RecordInvocation(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.AgentInvocationsTotal.WithLabelValues(status).Inc()
	m.AgentInvocationDuration.Observe(d.Seconds())
}

// RecordQueueWait records time spent waiting for a worker.
func (m *Metrics) RecordQueueWait(d time.Duration) {
	if m == nil {
		return
	}
	m.AgentQueueWait.Observe(d.Seconds())
}

// InFlight adjusts the running agent call gauge by delta.
func (m *Metrics) InFlight(delta float64) {
	if m == nil {
		return
	}
	m.AgentInFlight.Add(delta)
}

// RecordToolCall records one tool execution.
func (m *Metrics) RecordToolCall(tool, status string) {
	if m == nil {
		return
	}
	m.ToolCallsTotal.WithLabelValues(tool, status).Inc()
}

// RecordChat records the outcome of a chat turn.
func (m *Metrics) RecordChat(outcome string) {
	if m == nil {
		return
	}
	m.ChatsTotal.WithLabelValues(outcome).Inc()
}

// UpdateStoreStats sets the stored conversation and message gauges.
func (m *Metrics) UpdateStoreStats(conversations, messages int) {
	if m == nil {
		return
	}
	m.ConversationsTotal.Set(float64(conversations))
	m.MessagesTotal.Set(float64(messages))
}

// SetModelUp records the model backend health.
func (m *Metrics) SetModelUp(up bool) {
	if m == nil {
		return
	}
	if up {
		m.ModelUp.Set(1)
	} else {
		m.ModelUp.Set(0)
	}
}
