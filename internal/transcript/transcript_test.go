package transcript

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/nugget/agentcore-local/internal/conversation"
)

func sample() (*conversation.Conversation, []conversation.Message) {
	conv := &conversation.Conversation{
		ID:        "20250301090000000001",
		Title:     "こんにちは",
		CreatedAt: "2025-03-01T09:00:00.000001Z",
		UpdatedAt: "2025-03-01T09:00:02.000000Z",
	}
	msgs := []conversation.Message{
		{Role: "user", Content: "こんにちは", Timestamp: "2025-03-01T09:00:00.000001Z"},
		{Role: "assistant", Content: "**こんにちは!** <script>alert(1)</script>", Timestamp: "2025-03-01T09:00:02.000000Z"},
	}
	return conv, msgs
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
		err  bool
	}{
		{"", FormatMarkdown, false},
		{"MD", FormatMarkdown, false},
		{"html", FormatHTML, false},
		{"json", FormatJSON, false},
		{"pdf", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if (err != nil) != tt.err {
			t.Errorf("ParseFormat(%q) err = %v", tt.in, err)
		}
		if tt.err && !errors.Is(err, ErrUnknownFormat) {
			t.Errorf("ParseFormat(%q) err = %v, want ErrUnknownFormat", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestMarkdown(t *testing.T) {
	md := Markdown(sample())
	for _, want := range []string{"# こんにちは", "## ユーザー", "## アシスタント", "`20250301090000000001`"} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q:\n%s", want, md)
		}
	}
	if strings.Index(md, "## ユーザー") > strings.Index(md, "## アシスタント") {
		t.Error("messages out of order")
	}
}

func TestHTML(t *testing.T) {
	out, err := HTML(sample())
	if err != nil {
		t.Fatalf("HTML() error: %v", err)
	}
	if !strings.Contains(out, "<strong>こんにちは!</strong>") {
		t.Errorf("markdown not rendered:\n%s", out)
	}
	if strings.Contains(out, "<script>") {
		t.Error("raw HTML passed through")
	}
	if !strings.Contains(out, "<title>こんにちは</title>") {
		t.Error("missing title")
	}
}

func TestJSON(t *testing.T) {
	conv, msgs := sample()
	data, err := Render(FormatJSON, conv, msgs)
	if err != nil {
		t.Fatalf("Render() error: %v", err)
	}
	var got jsonTranscript
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(got.Messages) != 2 || got.Messages[1].Role != "assistant" || got.Messages[0].Timestamp == "" {
		t.Errorf("transcript = %+v", got)
	}
}

func TestFormat_ContentType(t *testing.T) {
	if !strings.HasPrefix(FormatHTML.ContentType(), "text/html") {
		t.Error("html content type")
	}
	if FormatMarkdown.Extension() != "md" || FormatJSON.Extension() != "json" {
		t.Error("extensions")
	}
}
