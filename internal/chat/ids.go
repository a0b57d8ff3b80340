package chat

import (
	"fmt"
	"sync"
	"time"
	"unicode/utf8"
)

// idLayout is the seconds part of a conversation id; six digits of
// microseconds follow it.
const idLayout = "20060102150405"

// IDGenerator issues time-based conversation ids of the form
// YYYYMMDDhhmmss plus six microsecond digits (UTC). Ids from one
// generator are strictly increasing even when the clock stalls or
// steps backwards, so two requests in the same microsecond never
// collide.
type IDGenerator struct {
	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

// NewIDGenerator returns a generator reading the given clock, or the
// system clock when now is nil.
func NewIDGenerator(now func() time.Time) *IDGenerator {
	if now == nil {
		now = time.Now
	}
	return &IDGenerator{now: now}
}

// Next returns a new id.
func (g *IDGenerator) Next() string {
	g.mu.Lock()
	defer g.mu.Unlock()

	t := g.now().UTC().Truncate(time.Microsecond)
	if !t.After(g.last) {
		t = g.last.Add(time.Microsecond)
	}
	g.last = t
	return t.Format(idLayout) + fmt.Sprintf("%06d", t.Nanosecond()/1000)
}

// titleLimit is the number of characters kept in a derived title.
const titleLimit = 50

// Title derives a conversation title from its first message: the first
// 50 characters, with "..." appended when the message is longer.
func Title(message string) string {
	if utf8.RuneCountInString(message) <= titleLimit {
		return message
	}
	runes := []rune(message)
	return string(runes[:titleLimit]) + "..."
}
