package prompts

import "strings"

// Turn is one role-tagged entry of a conversation history.
type Turn struct {
	Role    string
	Content string
}

const (
	historyHeader = "これまでの会話:\n"
	userLabel     = "\n\nユーザー: "
)

// ConversationContext reduces a history to the single prompt sent to the
// agent. The last turn is the current message; every earlier turn is
// rendered as "role: content", one per line, under a history header.
// With no earlier turns the current message is returned unchanged, and
// an empty history yields "".
//
// The output depends only on the input, so identical histories always
// produce identical prompts.
func ConversationContext(history []Turn) string {
	if len(history) == 0 {
		return ""
	}

	prior := history[:len(history)-1]
	current := history[len(history)-1].Content
	if len(prior) == 0 {
		return current
	}

	var b strings.Builder
	b.WriteString(historyHeader)
	for i, t := range prior {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(t.Role)
		b.WriteString(": ")
		b.WriteString(t.Content)
	}
	b.WriteString(userLabel)
	b.WriteString(current)
	return b.String()
}
