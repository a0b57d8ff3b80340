package conversation

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

// stepClock returns a clock that advances one second per call.
func stepClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	t := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func setupTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "conversations.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db, opts...)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store
}

func TestCreateAndGetConversation(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	store := setupTestStore(t, WithClock(stepClock(start)))

	if err := store.CreateConversation(ctx, "c1", "hello"); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := store.GetConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "hello" {
		t.Errorf("title = %q, want %q", got.Title, "hello")
	}
	if got.CreatedAt != got.UpdatedAt {
		t.Errorf("created_at %q != updated_at %q on creation", got.CreatedAt, got.UpdatedAt)
	}
	if want := "2025-03-01T09:00:01.000000Z"; got.CreatedAt != want {
		t.Errorf("created_at = %q, want %q", got.CreatedAt, want)
	}
}

func TestCreateConversation_Duplicate(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	if err := store.CreateConversation(ctx, "c1", "first"); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := store.CreateConversation(ctx, "c1", "second")
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("duplicate create err = %v, want ErrDuplicateKey", err)
	}

	got, err := store.GetConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != "first" {
		t.Errorf("title = %q, duplicate create must not overwrite", got.Title)
	}
}

func TestGetConversation_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetConversation(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestAppendMessage_OrderAndUpdatedAt(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t, WithClock(stepClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))))

	if err := store.CreateConversation(ctx, "c1", "t"); err != nil {
		t.Fatalf("create: %v", err)
	}

	turns := []struct{ role, content string }{
		{RoleUser, "こんにちは"},
		{RoleAssistant, "こんにちは!"},
		{RoleUser, "ありがとう"},
	}
	var last Message
	for _, tt := range turns {
		m, err := store.AppendMessage(ctx, "c1", tt.role, tt.content)
		if err != nil {
			t.Fatalf("append %s: %v", tt.role, err)
		}
		if m.ID <= last.ID {
			t.Errorf("message id %d not greater than previous %d", m.ID, last.ID)
		}
		last = m
	}

	msgs, err := store.GetMessages(ctx, "c1")
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(msgs) != len(turns) {
		t.Fatalf("got %d messages, want %d", len(msgs), len(turns))
	}
	for i, tt := range turns {
		if msgs[i].Role != tt.role || msgs[i].Content != tt.content {
			t.Errorf("msgs[%d] = %s/%q, want %s/%q", i, msgs[i].Role, msgs[i].Content, tt.role, tt.content)
		}
	}

	conv, err := store.GetConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if conv.UpdatedAt != last.Timestamp {
		t.Errorf("updated_at = %q, want last message timestamp %q", conv.UpdatedAt, last.Timestamp)
	}
	if conv.UpdatedAt <= conv.CreatedAt {
		t.Errorf("updated_at %q should be after created_at %q", conv.UpdatedAt, conv.CreatedAt)
	}
}

func TestAppendMessage_ClockStepsBack(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	times := []time.Time{t0, t0.Add(-time.Second)}
	var calls int
	store := setupTestStore(t, WithClock(func() time.Time {
		tm := times[min(calls, len(times)-1)]
		calls++
		return tm
	}))

	if err := store.CreateConversation(ctx, "c1", "t"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := store.AppendMessage(ctx, "c1", RoleUser, "hi"); err != nil {
		t.Fatalf("append: %v", err)
	}

	got, err := store.GetConversation(ctx, "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.UpdatedAt < got.CreatedAt {
		t.Errorf("updated_at %q went before created_at %q", got.UpdatedAt, got.CreatedAt)
	}
}

func TestAppendMessage_InvalidRole(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.AppendMessage(context.Background(), "c1", "system", "x")
	if !errors.Is(err, ErrInvalidRole) {
		t.Fatalf("err = %v, want ErrInvalidRole", err)
	}
}

func TestAppendMessage_WithoutConversation(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	if _, err := store.AppendMessage(ctx, "orphan", RoleUser, "hi"); err != nil {
		t.Fatalf("append: %v", err)
	}
	msgs, err := store.GetMessages(ctx, "orphan")
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if len(msgs) != 1 {
		t.Errorf("got %d messages, want 1", len(msgs))
	}
	if _, err := store.GetConversation(ctx, "orphan"); !errors.Is(err, ErrNotFound) {
		t.Errorf("orphan message should not create a conversation, err = %v", err)
	}
}

func TestGetMessages_UnknownIsEmpty(t *testing.T) {
	msgs, err := setupTestStore(t).GetMessages(context.Background(), "nope")
	if err != nil {
		t.Fatalf("get messages: %v", err)
	}
	if msgs == nil || len(msgs) != 0 {
		t.Errorf("msgs = %#v, want empty non-nil slice", msgs)
	}
}

func TestListConversations_ByUpdatedAt(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t, WithClock(stepClock(time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC))))

	for _, id := range []string{"a", "b", "c"} {
		if err := store.CreateConversation(ctx, id, id); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	// Touching the oldest conversation moves it to the front.
	if _, err := store.AppendMessage(ctx, "a", RoleUser, "bump"); err != nil {
		t.Fatalf("append: %v", err)
	}

	convs, err := store.ListConversations(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var got []string
	for _, c := range convs {
		got = append(got, c.ID)
	}
	want := []string{"a", "c", "b"}
	if len(got) != len(want) {
		t.Fatalf("ids = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ids = %v, want %v", got, want)
		}
	}
}

func TestListConversations_TieBreaksNewestFirst(t *testing.T) {
	ctx := context.Background()
	fixed := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	store := setupTestStore(t, WithClock(func() time.Time { return fixed }))

	for _, id := range []string{"x", "y"} {
		if err := store.CreateConversation(ctx, id, id); err != nil {
			t.Fatalf("create %s: %v", id, err)
		}
	}
	convs, err := store.ListConversations(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(convs) != 2 || convs[0].ID != "y" {
		t.Errorf("convs = %+v, want y first", convs)
	}
}

func TestListConversations_Empty(t *testing.T) {
	convs, err := setupTestStore(t).ListConversations(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if convs == nil || len(convs) != 0 {
		t.Errorf("convs = %#v, want empty non-nil slice", convs)
	}
}

func TestDeleteConversation(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	store.CreateConversation(ctx, "keep", "keep")
	store.AppendMessage(ctx, "keep", RoleUser, "stay")
	store.CreateConversation(ctx, "gone", "gone")
	store.AppendMessage(ctx, "gone", RoleUser, "bye")
	store.AppendMessage(ctx, "gone", RoleAssistant, "bye!")

	if err := store.DeleteConversation(ctx, "gone"); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if _, err := store.GetConversation(ctx, "gone"); !errors.Is(err, ErrNotFound) {
		t.Errorf("get after delete err = %v, want ErrNotFound", err)
	}
	msgs, _ := store.GetMessages(ctx, "gone")
	if len(msgs) != 0 {
		t.Errorf("got %d messages after delete, want 0", len(msgs))
	}

	st, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.Conversations != 1 || st.Messages != 1 {
		t.Errorf("stats = %+v, want 1 conversation and 1 message", st)
	}
}

func TestDeleteConversation_Idempotent(t *testing.T) {
	ctx := context.Background()
	store := setupTestStore(t)

	store.CreateConversation(ctx, "c1", "t")
	store.AppendMessage(ctx, "c1", RoleUser, "hi")
	before, _ := store.Stats(ctx)

	for i := 0; i < 2; i++ {
		if err := store.DeleteConversation(ctx, "unknown"); err != nil {
			t.Fatalf("delete unknown (pass %d): %v", i, err)
		}
	}

	after, _ := store.Stats(ctx)
	if before != after {
		t.Errorf("stats changed from %+v to %+v deleting an unknown id", before, after)
	}
}

func TestTimeFormat_SortsLexically(t *testing.T) {
	a := time.Date(2025, 1, 2, 3, 4, 5, 999_000, time.UTC).Format(TimeFormat)
	b := time.Date(2025, 1, 2, 3, 4, 5, 1_000_000, time.UTC).Format(TimeFormat)
	if len(a) != len(b) {
		t.Fatalf("timestamps differ in width: %q vs %q", a, b)
	}
	if !(a < b) {
		t.Errorf("%q should sort before %q", a, b)
	}
}
