package llm

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseTextToolCalls(t *testing.T) {
	tests := []struct {
		name       string
		content    string
		validTools []string
		wantCount  int
		wantName   string
	}{
		{name: "empty content", content: "", wantCount: 0},
		{name: "whitespace only", content: "   \n\t  ", wantCount: 0},
		{name: "plain text", content: "今日は晴れです。", wantCount: 0},
		{
			name:      "single object",
			content:   `{"name": "current_time", "arguments": {"timezone": "Asia/Tokyo"}}`,
			wantCount: 1,
			wantName:  "current_time",
		},
		{
			name:      "array",
			content:   `[{"name": "current_time", "arguments": {}}, {"name": "other", "arguments": {}}]`,
			wantCount: 2,
			wantName:  "current_time",
		},
		{
			name:      "tagged",
			content:   `<tool_call>{"name": "current_time", "arguments": {}}</tool_call>`,
			wantCount: 1,
			wantName:  "current_time",
		},
		{
			name:      "tagged without closing tag",
			content:   `<tool_call>{"name": "current_time", "arguments": {}}`,
			wantCount: 1,
			wantName:  "current_time",
		},
		{
			name:      "tagged with preamble",
			content:   `確認します。<tool_call>{"name": "current_time", "arguments": {}}</tool_call>`,
			wantCount: 1,
			wantName:  "current_time",
		},
		{
			name:       "concatenated with trailing prose",
			content:    `{"name": "current_time", "arguments": {}}{"name": "current_time", "arguments": {"timezone": "UTC"}}以上です`,
			validTools: []string{"current_time"},
			wantCount:  2,
			wantName:   "current_time",
		},
		{name: "malformed", content: `{"name": "current_time", "arguments": {`, wantCount: 0},
		{name: "no name", content: `{"foo": "bar", "arguments": {}}`, wantCount: 0},
		{
			name:       "unknown tool rejected",
			content:    `{"name": "rm_rf", "arguments": {}}`,
			validTools: []string{"current_time"},
			wantCount:  0,
		},
		{
			name:       "name space json",
			content:    `current_time {"timezone": "Asia/Tokyo"} では確認します`,
			validTools: []string{"current_time"},
			wantCount:  1,
			wantName:   "current_time",
		},
		{
			name:      "name space json needs known tools",
			content:   `current_time {"timezone": "Asia/Tokyo"}`,
			wantCount: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseTextToolCalls(tt.content, tt.validTools)
			if len(got) != tt.wantCount {
				t.Fatalf("parseTextToolCalls() returned %d calls, want %d", len(got), tt.wantCount)
			}
			if tt.wantCount > 0 && got[0].Function.Name != tt.wantName {
				t.Errorf("first call = %q, want %q", got[0].Function.Name, tt.wantName)
			}
		})
	}
}

func TestExtractToolNames(t *testing.T) {
	tools := []map[string]any{
		{"function": map[string]any{"name": "current_time"}},
		{"broken": "entry"},
		{"function": map[string]any{"name": "other"}},
	}
	got := extractToolNames(tools)
	if len(got) != 2 || got[0] != "current_time" || got[1] != "other" {
		t.Errorf("extractToolNames() = %v", got)
	}
	if extractToolNames(nil) != nil {
		t.Error("nil tools should yield nil")
	}
}

func TestOllamaClient_Chat(t *testing.T) {
	var gotReq ollamaChatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/chat" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewDecoder(r.Body).Decode(&gotReq)
		w.Write([]byte(`{
			"model": "qwen3:8b",
			"created_at": "2025-03-01T09:00:00.123Z",
			"message": {"role": "assistant", "content": "こんにちは!"},
			"done": true,
			"prompt_eval_count": 12,
			"eval_count": 5,
			"total_duration": 1500000000
		}`))
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL+"/", quietLogger())
	resp, err := c.Chat(context.Background(), "qwen3:8b", []Message{{Role: "user", Content: "こんにちは"}}, nil)
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}

	if gotReq.Stream {
		t.Error("request should be non-streaming")
	}
	if gotReq.Model != "qwen3:8b" || len(gotReq.Messages) != 1 {
		t.Errorf("request = %+v", gotReq)
	}
	if resp.Message.Content != "こんにちは!" {
		t.Errorf("content = %q", resp.Message.Content)
	}
	if resp.InputTokens != 12 || resp.OutputTokens != 5 {
		t.Errorf("tokens = %d/%d, want 12/5", resp.InputTokens, resp.OutputTokens)
	}
	if resp.TotalDuration.Seconds() != 1.5 {
		t.Errorf("total duration = %v", resp.TotalDuration)
	}
	if resp.CreatedAt.IsZero() {
		t.Error("created_at not parsed")
	}
}

func TestOllamaClient_Chat_NativeToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"model":"m","message":{"role":"assistant","content":"","tool_calls":[{"function":{"name":"current_time","arguments":{"timezone":"UTC"}}}]},"done":true}`))
	}))
	defer srv.Close()

	resp, err := NewOllamaClient(srv.URL, quietLogger()).Chat(context.Background(), "m", nil, nil)
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if len(resp.Message.ToolCalls) != 1 {
		t.Fatalf("tool calls = %d, want 1", len(resp.Message.ToolCalls))
	}
	if resp.Message.ToolCalls[0].Function.Arguments["timezone"] != "UTC" {
		t.Errorf("arguments = %v", resp.Message.ToolCalls[0].Function.Arguments)
	}
}

func TestOllamaClient_Chat_TextToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"model":"m","message":{"role":"assistant","content":"<tool_call>{\"name\":\"current_time\",\"arguments\":{}}</tool_call>"},"done":true}`))
	}))
	defer srv.Close()

	tools := []map[string]any{{"type": "function", "function": map[string]any{"name": "current_time"}}}
	resp, err := NewOllamaClient(srv.URL, quietLogger()).Chat(context.Background(), "m", nil, tools)
	if err != nil {
		t.Fatalf("Chat() error: %v", err)
	}
	if len(resp.Message.ToolCalls) != 1 || resp.Message.Content != "" {
		t.Errorf("message = %+v, want one recovered call and empty content", resp.Message)
	}
}

func TestOllamaClient_Chat_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"model 'nope' not found"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaClient(srv.URL, quietLogger()).Chat(context.Background(), "nope", nil, nil)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %v, want status and body", err)
	}
}

func TestOllamaClient_PingAndListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/tags" {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte(`{"models":[{"name":"qwen3:8b"},{"name":"llama3:8b"}]}`))
	}))
	defer srv.Close()

	c := NewOllamaClient(srv.URL, quietLogger())
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error: %v", err)
	}
	models, err := c.ListModels(context.Background())
	if err != nil {
		t.Fatalf("ListModels() error: %v", err)
	}
	if len(models) != 2 || models[0] != "qwen3:8b" {
		t.Errorf("models = %v", models)
	}
}

func TestOllamaClient_PingFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if err := NewOllamaClient(srv.URL, quietLogger()).Ping(context.Background()); err == nil {
		t.Fatal("Ping() should fail on 503")
	}
}
