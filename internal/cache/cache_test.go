package cache

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/innosphere/chatsync/internal/store"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestMigrateIdempotent(t *testing.T) {
	db := testDB(t)
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second migrate reported changes")
	}
}

func TestUpsertMessageIdempotent(t *testing.T) {
	db := testDB(t)
	msg := store.Message{
		ID: 7, ConversationID: 42, SenderID: 42, SenderName: "Nova Labs",
		Content: "hello", Status: store.StatusDelivered, Timestamp: time.Now(),
	}

	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}
	msg.Status = store.StatusSent
	if err := db.UpsertMessage(msg); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages(42, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (idempotent)", len(msgs))
	}
	if msgs[0].Status != store.StatusSent {
		t.Errorf("status = %q, want sent (updated)", msgs[0].Status)
	}
}

func TestUpsertMessageSkipsPending(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertMessage(store.Message{CorrelationID: "c1", ConversationID: 1, Content: "pending", Status: store.StatusPending}); err != nil {
		t.Fatal(err)
	}
	count, err := db.MessageCount()
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("cached %d pending messages, want 0", count)
	}
}

func TestListConversationsRecencyOrder(t *testing.T) {
	db := testDB(t)
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	for _, c := range []store.Conversation{
		{CounterpartID: 1, Name: "older", LastActivity: base},
		{CounterpartID: 2, Name: "newer", LastActivity: base.Add(time.Hour)},
	} {
		if err := db.UpsertConversation(c); err != nil {
			t.Fatal(err)
		}
	}

	convs, err := db.ListConversations()
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 2 || convs[0].CounterpartID != 2 {
		t.Fatalf("order = %+v, want counterpart 2 first", convs)
	}
}

func TestUpsertConversationKeepsNewestActivity(t *testing.T) {
	db := testDB(t)
	base := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	if err := db.UpsertConversation(store.Conversation{CounterpartID: 1, Name: "Acme", LastActivity: base.Add(time.Hour), LastMessage: "new"}); err != nil {
		t.Fatal(err)
	}
	// A stale bootstrap write must not roll back last_activity.
	if err := db.UpsertConversation(store.Conversation{CounterpartID: 1, LastActivity: base, LastMessage: "old"}); err != nil {
		t.Fatal(err)
	}

	convs, _ := db.ListConversations()
	if got := convs[0].LastActivity; !got.Equal(base.Add(time.Hour)) {
		t.Errorf("last_activity = %v, want newest kept", got)
	}
	if convs[0].Name != "Acme" {
		t.Errorf("name = %q, want Acme (empty update ignored)", convs[0].Name)
	}
}

func TestDeleteConversationRemovesMessages(t *testing.T) {
	db := testDB(t)
	if err := db.UpsertConversation(store.Conversation{CounterpartID: 9, LastActivity: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(store.Message{ID: 1, ConversationID: 9, SenderID: 9, Content: "x", Status: store.StatusDelivered, Timestamp: time.Now()}); err != nil {
		t.Fatal(err)
	}

	if err := db.DeleteConversation(9); err != nil {
		t.Fatal(err)
	}

	convs, _ := db.ListConversations()
	if len(convs) != 0 {
		t.Error("conversation still cached after delete")
	}
	msgs, _ := db.ListMessages(9, 0)
	if len(msgs) != 0 {
		t.Error("messages still cached after delete")
	}
}

func TestSyncStateRoundTrip(t *testing.T) {
	db := testDB(t)

	got, err := db.GetState("last_bootstrap")
	if err != nil {
		t.Fatal(err)
	}
	if got != "" {
		t.Errorf("unwritten key = %q, want empty", got)
	}

	if err := db.SetState("last_bootstrap", "2026-02-01T10:30:00Z"); err != nil {
		t.Fatal(err)
	}
	if err := db.SetState("last_bootstrap", "2026-02-01T11:00:00Z"); err != nil {
		t.Fatal(err)
	}

	got, err = db.GetState("last_bootstrap")
	if err != nil {
		t.Fatal(err)
	}
	if got != "2026-02-01T11:00:00Z" {
		t.Errorf("value = %q, want latest write", got)
	}
}
