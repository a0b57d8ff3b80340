// Package api implements the conversation HTTP API.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nugget/agentcore-local/internal/buildinfo"
	"github.com/nugget/agentcore-local/internal/chat"
	"github.com/nugget/agentcore-local/internal/connwatch"
	"github.com/nugget/agentcore-local/internal/events"
	"github.com/nugget/agentcore-local/internal/metrics"
)

// maxBodyBytes bounds a /chat request body.
const maxBodyBytes = 1 << 20

// writeJSON encodes v as JSON to w. Encoding errors mean the client went
// away and are only logged at debug level.
func writeJSON(w http.ResponseWriter, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Config holds the listener and presentation settings of a Server.
type Config struct {
	Address        string
	Port           int
	Model          string
	AllowedOrigins []string
}

// Server is the HTTP API server.
type Server struct {
	cfg     Config
	chat    *chat.Service
	bus     *events.Bus
	metrics *metrics.Metrics
	deps    []*connwatch.Watcher
	logger  *slog.Logger
	server  *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithBus enables the /events WebSocket stream.
func WithBus(b *events.Bus) Option {
	return func(s *Server) { s.bus = b }
}

// WithMetrics serves /metrics and records request metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithDependency reports w's status under /health.
func WithDependency(w *connwatch.Watcher) Option {
	return func(s *Server) {
		if w != nil {
			s.deps = append(s.deps, w)
		}
	}
}

// NewServer creates an API server backed by svc.
func NewServer(cfg Config, svc *chat.Service, logger *slog.Logger, opts ...Option) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{cfg: cfg, chat: svc, logger: logger}
	for _, o := range opts {
		o(s)
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// No WriteTimeout: a chat turn lasts as long as the model takes.
	}
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /version", s.handleVersion)

	mux.HandleFunc("POST /chat", s.handleChat)
	mux.HandleFunc("GET /conversations", s.handleConversationList)
	mux.HandleFunc("GET /conversations/{id}", s.handleConversationGet)
	mux.HandleFunc("DELETE /conversations/{id}", s.handleConversationDelete)
	mux.HandleFunc("GET /conversations/{id}/export", s.handleConversationExport)

	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	if s.bus != nil {
		mux.HandleFunc("GET /events", s.handleEvents)
	}

	return s.withCORS(s.withLogging(mux))
}

// Start serves HTTP until Shutdown is called. It returns
// http.ErrServerClosed after a clean shutdown, including when Shutdown
// ran first.
func (s *Server) Start(_ context.Context) error {
	addr := s.cfg.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.cfg.Port)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status": "healthy",
		"model":  s.cfg.Model,
	}
	if len(s.deps) > 0 {
		deps := make(map[string]connwatch.Status, len(s.deps))
		for _, d := range s.deps {
			st := d.Status()
			deps[st.Name] = st
		}
		resp["dependencies"] = deps
	}
	writeJSON(w, resp, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, buildinfo.RuntimeInfo(), s.logger)
}
