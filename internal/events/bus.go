// Package events is an in-process publish/subscribe bus for activity
// events. The chat service and agent publish; the /events WebSocket and
// the MQTT publisher subscribe. A nil *Bus accepts Publish as a no-op, so
// components never need guard checks.
package events

import (
	"sync"
	"time"
)

// Sources identify the publishing component.
const (
	// SourceChat identifies events from the conversation service.
	SourceChat = "chat"
	// SourceAgent identifies events from the agent tool loop.
	SourceAgent = "agent"
	// SourceModel identifies model backend health transitions.
	SourceModel = "model"
	// SourceAGUI identifies events from the AG-UI surface.
	SourceAGUI = "agui"
)

// Kinds describe the event within a source.
const (
	// KindChatStarted: conversation_id, new, message_len.
	KindChatStarted = "chat_started"
	// KindChatCompleted: conversation_id, response_len, elapsed_ms.
	KindChatCompleted = "chat_completed"
	// KindChatFailed: conversation_id, error, elapsed_ms.
	KindChatFailed = "chat_failed"
	// KindConversationDeleted: conversation_id.
	KindConversationDeleted = "conversation_deleted"

	// KindLLMCall: iter, model.
	KindLLMCall = "llm_call"
	// KindLLMResponse: iter, model, tokens_in, tokens_out, tool_calls.
	KindLLMResponse = "llm_response"
	// KindToolCall: tool.
	KindToolCall = "tool_call"
	// KindToolDone: tool, ok, duration_ms.
	KindToolDone = "tool_done"

	// KindBackendUp and KindBackendDown: url, error.
	KindBackendUp   = "backend_up"
	KindBackendDown = "backend_down"

	// KindRunStarted and KindRunFinished: thread_id, run_id, ok.
	KindRunStarted  = "run_started"
	KindRunFinished = "run_finished"
)

// Event is a single activity event.
type Event struct {
	Timestamp time.Time      `json:"ts"`
	Source    string         `json:"source"`
	Kind      string         `json:"kind"`
	Data      map[string]any `json:"data,omitempty"`
}

// Bus is a non-blocking broadcast bus. Slow subscribers miss events
// rather than blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend lets Unsubscribe take the receive-only channel the
	// caller holds.
	recvToSend map[<-chan Event]chan Event
}

// New creates an event bus.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends e to every subscriber whose buffer has room. A zero
// Timestamp is set to now. Safe on a nil receiver.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Emit is shorthand for publishing an event stamped now.
func (b *Bus) Emit(source, kind string, data map[string]any) {
	b.Publish(Event{Timestamp: time.Now(), Source: source, Kind: kind, Data: data})
}

// Subscribe returns a channel of published events with the given
// buffer. Callers must Unsubscribe when done.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes its channel. Unknown
// channels are ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
