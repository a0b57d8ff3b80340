// Package transcript renders a stored conversation for export as
// Markdown, standalone HTML or JSON.
package transcript

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/nugget/agentcore-local/internal/conversation"
)

// Format selects an export rendering.
type Format string

// Supported formats.
const (
	FormatMarkdown Format = "markdown"
	FormatHTML     Format = "html"
	FormatJSON     Format = "json"
)

// ErrUnknownFormat is returned for unsupported format names.
var ErrUnknownFormat = errors.New("unknown transcript format")

// ParseFormat maps a query value to a Format. Empty selects Markdown;
// "md" is accepted as an alias.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "markdown", "md":
		return FormatMarkdown, nil
	case "html":
		return FormatHTML, nil
	case "json":
		return FormatJSON, nil
	default:
		return "", fmt.Errorf("%w: %q (valid: markdown, html, json)", ErrUnknownFormat, s)
	}
}

// ContentType returns the HTTP media type for f.
func (f Format) ContentType() string {
	switch f {
	case FormatHTML:
		return "text/html; charset=utf-8"
	case FormatJSON:
		return "application/json"
	default:
		return "text/markdown; charset=utf-8"
	}
}

// Extension returns the file extension for f, without the dot.
func (f Format) Extension() string {
	if f == FormatMarkdown {
		return "md"
	}
	return string(f)
}

// Render produces the transcript in the requested format.
func Render(f Format, conv *conversation.Conversation, msgs []conversation.Message) ([]byte, error) {
	switch f {
	case FormatMarkdown:
		return []byte(Markdown(conv, msgs)), nil
	case FormatHTML:
		s, err := HTML(conv, msgs)
		return []byte(s), err
	case FormatJSON:
		return JSON(conv, msgs)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, f)
	}
}

func roleLabel(role string) string {
	switch role {
	case conversation.RoleUser:
		return "ユーザー"
	case conversation.RoleAssistant:
		return "アシスタント"
	default:
		return role
	}
}

// Markdown renders the conversation as a Markdown document with one
// section per message.
func Markdown(conv *conversation.Conversation, msgs []conversation.Message) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", conv.Title)
	fmt.Fprintf(&b, "- ID: `%s`\n", conv.ID)
	fmt.Fprintf(&b, "- 作成日時: %s\n", conv.CreatedAt)
	fmt.Fprintf(&b, "- 更新日時: %s\n", conv.UpdatedAt)

	for _, m := range msgs {
		fmt.Fprintf(&b, "\n## %s\n\n", roleLabel(m.Role))
		if m.Timestamp != "" {
			fmt.Fprintf(&b, "_%s_\n\n", m.Timestamp)
		}
		b.WriteString(strings.TrimRight(m.Content, "\n"))
		b.WriteString("\n")
	}
	return b.String()
}

// HTML renders the Markdown transcript to a self-contained HTML page.
// Raw HTML inside messages is not passed through.
func HTML(conv *conversation.Conversation, msgs []conversation.Message) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(Markdown(conv, msgs)), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html lang="ja"><head><meta charset="utf-8"><title>%s</title></head>
<body style="font-family: sans-serif; font-size: 14px; line-height: 1.6; max-width: 48em; margin: auto;">
%s
</body></html>
`, html.EscapeString(conv.Title), buf.String()), nil
}

type jsonMessage struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

type jsonTranscript struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	CreatedAt string        `json:"created_at"`
	UpdatedAt string        `json:"updated_at"`
	Messages  []jsonMessage `json:"messages"`
}

// JSON renders the conversation with per-message timestamps.
func JSON(conv *conversation.Conversation, msgs []conversation.Message) ([]byte, error) {
	out := jsonTranscript{
		ID:        conv.ID,
		Title:     conv.Title,
		CreatedAt: conv.CreatedAt,
		UpdatedAt: conv.UpdatedAt,
		Messages:  make([]jsonMessage, 0, len(msgs)),
	}
	for _, m := range msgs {
		out.Messages = append(out.Messages, jsonMessage{Role: m.Role, Content: m.Content, Timestamp: m.Timestamp})
	}
	return json.MarshalIndent(out, "", "  ")
}
