// Package chat is the conversation orchestrator. It ties the
// conversation store, context assembly and agent invocation together
// into the chat turn, and serves the read, delete and export operations
// behind the HTTP API.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nugget/agentcore-local/internal/agent"
	"github.com/nugget/agentcore-local/internal/conversation"
	"github.com/nugget/agentcore-local/internal/events"
	"github.com/nugget/agentcore-local/internal/metrics"
	"github.com/nugget/agentcore-local/internal/prompts"
	"github.com/nugget/agentcore-local/internal/transcript"
)

var (
	// ErrAgentUninitialized is returned by Chat when no agent is wired.
	ErrAgentUninitialized = agent.ErrUninitialized

	// ErrEmptyMessage is returned by Chat for a blank message.
	ErrEmptyMessage = errors.New("message must not be empty")
)

// Store is the persistence the service needs. *conversation.Store
// implements it.
type Store interface {
	CreateConversation(ctx context.Context, id, title string) error
	AppendMessage(ctx context.Context, conversationID, role, content string) (conversation.Message, error)
	GetMessages(ctx context.Context, conversationID string) ([]conversation.Message, error)
	GetConversation(ctx context.Context, id string) (*conversation.Conversation, error)
	ListConversations(ctx context.Context) ([]conversation.Conversation, error)
	DeleteConversation(ctx context.Context, id string) error
	Stats(ctx context.Context) (conversation.Stats, error)
}

// Invoker runs the agent. *agent.Invoker implements it.
type Invoker interface {
	Invoke(ctx context.Context, prompt string) (string, error)
}

// ChatRequest is one user turn. An empty ConversationID starts a new
// conversation.
type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// ChatResponse is the agent's reply to a turn.
type ChatResponse struct {
	Response       string `json:"response"`
	ConversationID string `json:"conversation_id"`
	Timestamp      string `json:"timestamp"`
}

// Detail is a conversation with its messages in order.
type Detail struct {
	ID        string                 `json:"id"`
	Title     string                 `json:"title"`
	Messages  []conversation.Message `json:"messages"`
	CreatedAt string                 `json:"created_at"`
	UpdatedAt string                 `json:"updated_at"`
}

// Export is a rendered transcript.
type Export struct {
	Format   transcript.Format
	Filename string
	Data     []byte
}

// Service orchestrates chat turns. Requests on the same conversation
// are not serialized.
type Service struct {
	store   Store
	invoker Invoker
	ids     *IDGenerator
	bus     *events.Bus
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithBus publishes chat events on b.
func WithBus(b *events.Bus) Option {
	return func(s *Service) { s.bus = b }
}

// WithMetrics records chat outcomes and store size on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithClock sets the clock used for ids and response timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a chat service. invoker may be nil, in which case
// Chat fails with ErrAgentUninitialized and every other operation works.
func NewService(store Store, invoker Invoker, opts ...Option) *Service {
	s := &Service{
		store:   store,
		invoker: invoker,
		logger:  slog.Default(),
		now:     time.Now,
	}
	// A nil *agent.Invoker in the interface would pass the nil check.
	if inv, ok := invoker.(*agent.Invoker); ok && inv == nil {
		s.invoker = nil
	}
	for _, o := range opts {
		o(s)
	}
	s.ids = NewIDGenerator(s.now)
	return s
}

// Chat runs one turn: the user message is stored, the full history is
// reduced to a prompt, the agent answers and the answer is stored.
//
// If the agent fails, the user message stays in the conversation and
// the error (an *agent.InvocationError) is returned.
func (s *Service) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if s.invoker == nil {
		return nil, ErrAgentUninitialized
	}
	if req.Message == "" {
		return nil, ErrEmptyMessage
	}

	start := time.Now()
	convID := req.ConversationID
	isNew := convID == ""
	if isNew {
		convID = s.ids.Next()
		if err := s.store.CreateConversation(ctx, convID, Title(req.Message)); err != nil {
			return nil, s.fail(convID, start, err)
		}
	}

	log := s.logger.With("conversation_id", convID)
	s.bus.Emit(events.SourceChat, events.KindChatStarted, map[string]any{
		"conversation_id": convID,
		"new":             isNew,
		"message_len":     len(req.Message),
	})

	if _, err := s.store.AppendMessage(ctx, convID, conversation.RoleUser, req.Message); err != nil {
		return nil, s.fail(convID, start, err)
	}

	history, err := s.store.GetMessages(ctx, convID)
	if err != nil {
		return nil, s.fail(convID, start, err)
	}
	turns := make([]prompts.Turn, len(history))
	for i, m := range history {
		turns[i] = prompts.Turn{Role: m.Role, Content: m.Content}
	}
	prompt := prompts.ConversationContext(turns)
	log.Debug("invoking agent", "history", len(history), "prompt_len", len(prompt))

	reply, err := s.invoker.Invoke(ctx, prompt)
	if err != nil {
		log.Error("agent failed", "error", err)
		return nil, s.fail(convID, start, err)
	}

	// The reply is already paid for; keep it even if the client left.
	if _, err := s.store.AppendMessage(context.WithoutCancel(ctx), convID, conversation.RoleAssistant, reply); err != nil {
		return nil, s.fail(convID, start, err)
	}

	elapsed := time.Since(start)
	s.metrics.RecordChat("ok")
	s.refreshStats(ctx)
	s.bus.Emit(events.SourceChat, events.KindChatCompleted, map[string]any{
		"conversation_id": convID,
		"response_len":    len(reply),
		"elapsed_ms":      elapsed.Milliseconds(),
	})
	log.Info("chat completed", "new", isNew, "elapsed", elapsed)

	return &ChatResponse{
		Response:       reply,
		ConversationID: convID,
		Timestamp:      s.now().UTC().Format(conversation.TimeFormat),
	}, nil
}

func (s *Service) fail(convID string, start time.Time, err error) error {
	s.metrics.RecordChat("error")
	s.bus.Emit(events.SourceChat, events.KindChatFailed, map[string]any{
		"conversation_id": convID,
		"error":           err.Error(),
		"elapsed_ms":      time.Since(start).Milliseconds(),
	})
	return err
}

// List returns all conversations, most recently updated first.
func (s *Service) List(ctx context.Context) ([]conversation.Conversation, error) {
	return s.store.ListConversations(ctx)
}

// Get returns a conversation and its messages, or conversation.ErrNotFound.
func (s *Service) Get(ctx context.Context, id string) (*Detail, error) {
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	msgs, err := s.store.GetMessages(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Detail{
		ID:        conv.ID,
		Title:     conv.Title,
		Messages:  msgs,
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
	}, nil
}

// Delete removes a conversation and its messages. Unknown ids succeed.
func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.store.DeleteConversation(ctx, id); err != nil {
		return err
	}
	s.refreshStats(ctx)
	s.bus.Emit(events.SourceChat, events.KindConversationDeleted, map[string]any{"conversation_id": id})
	s.logger.Info("conversation deleted", "conversation_id", id)
	return nil
}

// Export renders a conversation transcript. format is a query value
// accepted by transcript.ParseFormat.
func (s *Service) Export(ctx context.Context, id, format string) (*Export, error) {
	f, err := transcript.ParseFormat(format)
	if err != nil {
		return nil, err
	}
	conv, err := s.store.GetConversation(ctx, id)
	if err != nil {
		return nil, err
	}
	msgs, err := s.store.GetMessages(ctx, id)
	if err != nil {
		return nil, err
	}
	data, err := transcript.Render(f, conv, msgs)
	if err != nil {
		return nil, err
	}
	return &Export{
		Format:   f,
		Filename: fmt.Sprintf("conversation-%s.%s", conv.ID, f.Extension()),
		Data:     data,
	}, nil
}

// Stats returns store counts.
func (s *Service) Stats(ctx context.Context) (conversation.Stats, error) {
	return s.store.Stats(ctx)
}

func (s *Service) refreshStats(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	st, err := s.store.Stats(context.WithoutCancel(ctx))
	if err != nil {
		s.logger.Warn("store stats unavailable", "error", err)
		return
	}
	s.metrics.UpdateStoreStats(st.Conversations, st.Messages)
}
