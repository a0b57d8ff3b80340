// Package agent runs the language model as a tool-calling assistant and
// adapts that blocking call for use from concurrent request handlers.
//
// Agent is the synchronous part: one Call sends the prompt to the model,
// executes any tool calls it asks for, and returns the final answer.
// Invoker bounds how many Calls run at once and turns their failures
// into *InvocationError.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/nugget/agentcore-local/internal/events"
	"github.com/nugget/agentcore-local/internal/llm"
	"github.com/nugget/agentcore-local/internal/metrics"
	"github.com/nugget/agentcore-local/internal/prompts"
	"github.com/nugget/agentcore-local/internal/tools"
)

// DefaultMaxIterations caps model round trips per call.
const DefaultMaxIterations = 8

// Config configures an Agent.
type Config struct {
	Client        llm.Client
	Model         string
	Tools         *tools.Registry
	SystemPrompt  string
	MaxIterations int
	Logger        *slog.Logger
	Bus           *events.Bus
	Metrics       *metrics.Metrics
}

// Agent is a tool-calling assistant backed by an llm.Client. It keeps no
// state between calls and is safe for concurrent use.
type Agent struct {
	client       llm.Client
	model        string
	tools        *tools.Registry
	systemPrompt string
	maxIter      int
	logger       *slog.Logger
	bus          *events.Bus
	metrics      *metrics.Metrics
}

// New creates an Agent. A nil Tools registry means no tools are offered
// and an empty SystemPrompt selects the default persona.
func New(cfg Config) *Agent {
	a := &Agent{
		client:       cfg.Client,
		model:        cfg.Model,
		tools:        cfg.Tools,
		systemPrompt: cfg.SystemPrompt,
		maxIter:      cfg.MaxIterations,
		logger:       cfg.Logger,
		bus:          cfg.Bus,
		metrics:      cfg.Metrics,
	}
	if a.tools == nil {
		a.tools = tools.NewRegistry()
	}
	if a.systemPrompt == "" {
		a.systemPrompt = prompts.SystemPrompt()
	}
	if a.maxIter <= 0 {
		a.maxIter = DefaultMaxIterations
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	return a
}

// Model returns the model name the agent sends requests to.
func (a *Agent) Model() string { return a.model }

// Ping checks the model backend.
func (a *Agent) Ping(ctx context.Context) error {
	if a.client == nil {
		return ErrUninitialized
	}
	return a.client.Ping(ctx)
}

// Result is the outcome of one agent call.
type Result struct {
	Content      string
	Model        string
	Iterations   int
	ToolCalls    []string
	InputTokens  int
	OutputTokens int
}

// String returns the answer text.
func (r *Result) String() string {
	if r == nil {
		return ""
	}
	return r.Content
}

// Call runs the prompt through the model, executing tool calls until the
// model answers in text or the iteration budget runs out. It implements
// Caller.
func (a *Agent) Call(ctx context.Context, prompt string) (any, error) {
	return a.Run(ctx, prompt)
}

// Run is Call with a concrete result type.
func (a *Agent) Run(ctx context.Context, prompt string) (*Result, error) {
	if a.client == nil {
		return nil, ErrUninitialized
	}

	messages := []llm.Message{
		{Role: "system", Content: a.systemPrompt},
		{Role: "user", Content: prompt},
	}
	toolDefs := a.tools.List()
	result := &Result{Model: a.model}
	nudged := false

	for iter := 0; iter < a.maxIter; iter++ {
		resp, err := a.chat(ctx, iter, messages, toolDefs, result)
		if err != nil {
			return nil, err
		}

		if len(resp.Message.ToolCalls) == 0 {
			content := StripThinking(resp.Message.Content)
			if content == "" && len(result.ToolCalls) > 0 && !nudged {
				// Tools ran but the model said nothing; ask once more.
				nudged = true
				messages = append(messages, resp.Message,
					llm.Message{Role: "user", Content: prompts.EmptyResponseNudge})
				continue
			}
			if content == "" && len(result.ToolCalls) > 0 {
				content = prompts.EmptyResponseFallback
			}
			result.Content = content
			return result, nil
		}

		messages = append(messages, resp.Message)
		for _, tc := range resp.Message.ToolCalls {
			messages = append(messages, a.runTool(ctx, tc, result))
		}
	}

	// Budget spent on tool calls: ask for a final answer without tools.
	a.logger.Warn("agent reached max iterations", "max", a.maxIter, "tool_calls", len(result.ToolCalls))
	messages = append(messages, llm.Message{Role: "user", Content: prompts.MaxIterationsNudge})
	resp, err := a.chat(ctx, a.maxIter, messages, nil, result)
	if err != nil {
		return nil, err
	}
	result.Content = StripThinking(resp.Message.Content)
	if result.Content == "" {
		result.Content = prompts.EmptyResponseFallback
	}
	return result, nil
}

func (a *Agent) chat(ctx context.Context, iter int, messages []llm.Message, toolDefs []map[string]any, result *Result) (*llm.ChatResponse, error) {
	a.bus.Emit(events.SourceAgent, events.KindLLMCall, map[string]any{"iter": iter, "model": a.model})
	a.logger.Debug("calling model", "model", a.model, "iter", iter, "messages", len(messages))

	resp, err := a.client.Chat(ctx, a.model, messages, toolDefs)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", a.model, err)
	}

	result.Iterations = iter + 1
	result.InputTokens += resp.InputTokens
	result.OutputTokens += resp.OutputTokens
	if resp.Model != "" {
		result.Model = resp.Model
	}

	a.bus.Emit(events.SourceAgent, events.KindLLMResponse, map[string]any{
		"iter":       iter,
		"model":      result.Model,
		"tokens_in":  resp.InputTokens,
		"tokens_out": resp.OutputTokens,
		"tool_calls": len(resp.Message.ToolCalls),
	})
	return resp, nil
}

// runTool executes one tool call and returns the tool message to feed
// back. Tool failures are reported to the model, not to the caller.
func (a *Agent) runTool(ctx context.Context, tc llm.ToolCall, result *Result) llm.Message {
	name := tc.Function.Name
	result.ToolCalls = append(result.ToolCalls, name)
	a.bus.Emit(events.SourceAgent, events.KindToolCall, map[string]any{"tool": name})

	start := time.Now()
	out, err := a.tools.Execute(ctx, name, tc.Function.Arguments)
	elapsed := time.Since(start)

	status := "ok"
	if err != nil {
		status = "error"
		out = "Error: " + err.Error()
		a.logger.Warn("tool call failed", "tool", name, "error", err)
	} else {
		a.logger.Debug("tool call done", "tool", name, "duration", elapsed)
	}
	a.metrics.RecordToolCall(name, status)
	a.bus.Emit(events.SourceAgent, events.KindToolDone, map[string]any{
		"tool":        name,
		"ok":          err == nil,
		"duration_ms": elapsed.Milliseconds(),
	})

	return llm.Message{Role: "tool", Content: out, ToolName: name}
}

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// StripThinking removes <think>...</think> blocks emitted by reasoning
// models, including an unterminated block at the end, and trims the
// remaining text.
func StripThinking(s string) string {
	s = thinkBlock.ReplaceAllString(s, "")
	if i := strings.Index(s, "<think>"); i != -1 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
