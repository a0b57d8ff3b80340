// Package llm talks to the language model backend. The only provider is
// Ollama's /api/chat endpoint; the Client interface exists so the agent
// can be tested against a scripted model.
package llm

import (
	"context"
	"log/slog"
	"time"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Client is implemented by model providers.
type Client interface {
	// Chat sends a non-streaming chat request and returns the reply.
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error)

	// Ping checks that the provider is reachable.
	Ping(ctx context.Context) error
}

// Message is one chat message exchanged with the model.
type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	ToolName  string     `json:"tool_name,omitempty"` // set on role "tool"
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	Function ToolFunction `json:"function"`
}

// ToolFunction names the tool and carries its decoded arguments. Ollama
// sends arguments as an object, not a JSON string.
type ToolFunction struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ChatResponse is a completed model reply with usage and timing.
type ChatResponse struct {
	Model     string
	CreatedAt time.Time
	Message   Message

	InputTokens  int
	OutputTokens int

	TotalDuration time.Duration
	LoadDuration  time.Duration
	EvalDuration  time.Duration
}
