// Package agui serves the agent over the AG-UI protocol: a run request
// carries the whole client-side conversation and the reply comes back
// as a stream of server-sent events.
//
// The surface keeps no conversation state of its own. Each run builds
// its prompt from the posted messages and calls the agent once; the
// answer is sent as a single TEXT_MESSAGE_CONTENT delta.
package agui

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/nugget/agentcore-local/internal/agent"
	"github.com/nugget/agentcore-local/internal/events"
	"github.com/nugget/agentcore-local/internal/metrics"
	"github.com/nugget/agentcore-local/internal/prompts"
)

// DefaultAgentPath is the run endpoint when none is configured.
const DefaultAgentPath = "/invocations"

// keepAliveInterval spaces SSE comments sent while the agent works.
const keepAliveInterval = 15 * time.Second

// Invoker runs the agent. *agent.Invoker implements it.
type Invoker interface {
	Invoke(ctx context.Context, prompt string) (string, error)
}

// Config holds the listener settings.
type Config struct {
	Address   string
	Port      int
	AgentPath string
	Model     string
}

// Server is the AG-UI HTTP server.
type Server struct {
	cfg       Config
	invoker   Invoker
	bus       *events.Bus
	metrics   *metrics.Metrics
	logger    *slog.Logger
	keepAlive time.Duration
	server    *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithBus publishes run events on b.
func WithBus(b *events.Bus) Option {
	return func(s *Server) { s.bus = b }
}

// WithMetrics records request metrics on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer creates an AG-UI server. A nil invoker makes every run end
// in RUN_ERROR.
func NewServer(cfg Config, invoker Invoker, logger *slog.Logger, opts ...Option) *Server {
	if cfg.AgentPath == "" {
		cfg.AgentPath = DefaultAgentPath
	}
	if logger == nil {
		logger = slog.Default()
	}
	if inv, ok := invoker.(*agent.Invoker); ok && inv == nil {
		invoker = nil
	}
	s := &Server{
		cfg:       cfg,
		invoker:   invoker,
		logger:    logger.With("component", "agui"),
		keepAlive: keepAliveInterval,
	}
	for _, o := range opts {
		o(s)
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Address, cfg.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+s.cfg.AgentPath, s.handleRun)
	mux.HandleFunc("GET /ping", s.handlePing)
	mux.HandleFunc("GET /health", s.handleHealth)
	return s.withLogging(mux)
}

// Start serves until Shutdown is called. It returns
// http.ErrServerClosed after a clean shutdown, including when Shutdown
// ran first.
func (s *Server) Start(_ context.Context) error {
	s.logger.Info("starting AG-UI server",
		"address", s.cfg.Address,
		"port", s.cfg.Port,
		"agent_path", s.cfg.AgentPath,
	)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{"status": "ok", "model": s.cfg.Model})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]string{"status": "healthy", "model": s.cfg.Model})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write JSON response", "error", err)
	}
}

// prompt reduces the posted conversation to agent input. Roles other
// than user and assistant are dropped, and the current turn is the last
// user message; anything after it is ignored.
func prompt(msgs []Message) string {
	turns := make([]prompts.Turn, 0, len(msgs))
	lastUser := -1
	for _, m := range msgs {
		if m.Role != "user" && m.Role != "assistant" {
			continue
		}
		if m.Role == "user" {
			lastUser = len(turns)
		}
		turns = append(turns, prompts.Turn{Role: m.Role, Content: m.Content})
	}
	return prompts.ConversationContext(turns[:lastUser+1])
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var in RunInput
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<20)).Decode(&in); err != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		s.writeJSON(w, map[string]string{"detail": "invalid run input: " + err.Error()})
		return
	}
	if in.ThreadID == "" {
		in.ThreadID = uuid.NewString()
	}
	if in.RunID == "" {
		in.RunID = uuid.NewString()
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	stream := &sseWriter{w: w, f: flusher, logger: s.logger}
	log := s.logger.With("thread_id", in.ThreadID, "run_id", in.RunID)

	stream.send(Event{Type: EventRunStarted, ThreadID: in.ThreadID, RunID: in.RunID})
	s.bus.Emit(events.SourceAGUI, events.KindRunStarted, map[string]any{
		"thread_id": in.ThreadID,
		"run_id":    in.RunID,
		"messages":  len(in.Messages),
	})

	reply, err := s.run(r.Context(), prompt(in.Messages), stream)
	if err != nil {
		log.Warn("run failed", "error", err)
		stream.send(Event{Type: EventRunError, Message: errorMessage(err), Code: errorCode(err)})
		s.bus.Emit(events.SourceAGUI, events.KindRunFinished, map[string]any{
			"thread_id": in.ThreadID,
			"run_id":    in.RunID,
			"ok":        false,
		})
		return
	}

	msgID := uuid.NewString()
	stream.send(Event{Type: EventTextMessageStart, MessageID: msgID, Role: "assistant"})
	if reply != "" {
		stream.send(Event{Type: EventTextMessageContent, MessageID: msgID, Delta: reply})
	}
	stream.send(Event{Type: EventTextMessageEnd, MessageID: msgID})
	stream.send(Event{Type: EventRunFinished, ThreadID: in.ThreadID, RunID: in.RunID})

	s.bus.Emit(events.SourceAGUI, events.KindRunFinished, map[string]any{
		"thread_id": in.ThreadID,
		"run_id":    in.RunID,
		"ok":        true,
	})
	log.Info("run finished", "response_len", len(reply))
}

var errNoInput = errors.New("no user message in run input")

// run invokes the agent, sending keep-alive comments until it answers.
func (s *Server) run(ctx context.Context, p string, stream *sseWriter) (string, error) {
	if s.invoker == nil {
		return "", agent.ErrUninitialized
	}
	if p == "" {
		return "", errNoInput
	}

	type result struct {
		reply string
		err   error
	}
	done := make(chan result, 1)
	go func() {
		reply, err := s.invoker.Invoke(ctx, p)
		done <- result{reply, err}
	}()

	tick := time.NewTicker(s.keepAlive)
	defer tick.Stop()
	for {
		select {
		case res := <-done:
			return res.reply, res.err
		case <-tick.C:
			stream.comment("keepalive")
		}
	}
}

func errorMessage(err error) string {
	var invErr *agent.InvocationError
	if errors.As(err, &invErr) && invErr.Err != nil {
		return "Agent error: " + invErr.Err.Error()
	}
	return err.Error()
}

func errorCode(err error) string {
	var invErr *agent.InvocationError
	switch {
	case errors.Is(err, agent.ErrUninitialized):
		return "agent_uninitialized"
	case errors.Is(err, errNoInput):
		return "invalid_input"
	case errors.As(err, &invErr):
		return "agent_error"
	}
	return "internal_error"
}

// sseWriter writes events in text/event-stream framing.
type sseWriter struct {
	w      http.ResponseWriter
	f      http.Flusher
	logger *slog.Logger
}

func (sw *sseWriter) send(e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		sw.logger.Error("marshal event", "type", e.Type, "error", err)
		return
	}
	if _, err := fmt.Fprintf(sw.w, "data: %s\n\n", data); err != nil {
		sw.logger.Debug("failed to write event", "type", e.Type, "error", err)
		return
	}
	sw.f.Flush()
}

func (sw *sseWriter) comment(text string) {
	if _, err := fmt.Fprintf(sw.w, ": %s\n\n", text); err == nil {
		sw.f.Flush()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.metrics.RecordHTTPRequest(r.Method, "agui "+route, strconv.Itoa(rec.status), time.Since(start))
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start),
		)
	})
}
