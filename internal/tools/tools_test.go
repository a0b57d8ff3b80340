package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestRegistry_ListSorted(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		r.Register(&Tool{Name: name, Handler: func(context.Context, map[string]any) (string, error) { return "", nil }})
	}

	list := r.List()
	if len(list) != 3 {
		t.Fatalf("List() len = %d, want 3", len(list))
	}
	fn := list[0]["function"].(map[string]any)
	if fn["name"] != "alpha" {
		t.Errorf("first tool = %v, want alpha", fn["name"])
	}
	if list[0]["type"] != "function" {
		t.Errorf("type = %v, want function", list[0]["type"])
	}
}

func TestRegistry_ExecuteUnknown(t *testing.T) {
	_, err := NewRegistry().Execute(context.Background(), "missing", nil)
	var unavailable *ErrToolUnavailable
	if !errors.As(err, &unavailable) {
		t.Fatalf("err = %v, want *ErrToolUnavailable", err)
	}
	if unavailable.ToolName != "missing" {
		t.Errorf("ToolName = %q", unavailable.ToolName)
	}
}

func TestRegistry_ExecuteJSON(t *testing.T) {
	r := NewRegistry()
	r.Register(&Tool{Name: "echo", Handler: func(_ context.Context, args map[string]any) (string, error) {
		s, _ := args["text"].(string)
		return s, nil
	}})

	got, err := r.ExecuteJSON(context.Background(), "echo", `{"text":"やあ"}`)
	if err != nil || got != "やあ" {
		t.Errorf("ExecuteJSON() = %q, %v", got, err)
	}
	if _, err := r.ExecuteJSON(context.Background(), "echo", `{bad`); err == nil {
		t.Error("invalid JSON should error")
	}
}

func TestCurrentTime(t *testing.T) {
	tokyo, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	fixed := time.Date(2025, 3, 1, 0, 30, 0, 0, time.UTC)

	r := NewRegistry()
	RegisterCurrentTime(r, tokyo, func() time.Time { return fixed })

	tests := []struct {
		name string
		args map[string]any
		want string
	}{
		{"default zone", nil, "2025-03-01T09:30:00+09:00"},
		{"explicit utc", map[string]any{"timezone": "UTC"}, "2025-03-01T00:30:00Z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Execute(context.Background(), CurrentTimeName, tt.args)
			if err != nil {
				t.Fatalf("Execute() error: %v", err)
			}
			if !strings.HasPrefix(got, tt.want) {
				t.Errorf("got %q, want prefix %q", got, tt.want)
			}
			if !strings.Contains(got, "Saturday") {
				t.Errorf("got %q, want weekday", got)
			}
		})
	}

	if _, err := r.Execute(context.Background(), CurrentTimeName, map[string]any{"timezone": "Mars/Base"}); err == nil {
		t.Error("unknown timezone should error")
	}
}
