package store

import (
	"path/filepath"
	"testing"
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
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	r1, err := db.Migrate()
	if err != nil {
		t.Fatalf("first Migrate() error = %v", err)
	}
	if !r1.Changed {
		t.Error("first migration should apply changes")
	}

	r2, err := db.Migrate()
	if err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}
	if r2.Changed {
		t.Error("second migration should be a no-op")
	}
}

func TestUpsertMessageIdempotent(t *testing.T) {
	db := testDB(t)

	m := &Message{
		TargetKey: "channel:general",
		MsgID:     "m1",
		AuthorID:  "u1",
		Body:      "hello",
		Timestamp: 1000,
	}
	if err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("channel:general", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1 (duplicate upsert must not duplicate)", len(msgs))
	}
}

// TestUpsertReconcilesPendingEcho verifies the optimistic-echo contract: the
// server's authoritative copy arrives with the same client-generated id and
// replaces the pending row rather than adding a second message.
func TestUpsertReconcilesPendingEcho(t *testing.T) {
	db := testDB(t)

	pending := &Message{
		TargetKey: "direct:u2",
		MsgID:     "c-77",
		AuthorID:  "me",
		Body:      "hi there",
		FromMe:    true,
		Status:    StatusPending,
		Timestamp: 1000,
	}
	if err := db.UpsertMessage(pending); err != nil {
		t.Fatal(err)
	}

	confirmed := *pending
	confirmed.Status = StatusSent
	if err := db.UpsertMessage(&confirmed); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("direct:u2", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
	if msgs[0].Status != StatusSent {
		t.Errorf("status = %q, want %q", msgs[0].Status, StatusSent)
	}
}

func TestListMessagesOrderAndTombstone(t *testing.T) {
	db := testDB(t)

	for i, body := range []string{"one", "two", "three"} {
		m := &Message{
			TargetKey: "channel:general",
			MsgID:     body,
			Body:      body,
			Timestamp: int64(1000 + i),
		}
		if err := db.UpsertMessage(m); err != nil {
			t.Fatal(err)
		}
	}
	if err := db.TombstoneMessage("channel:general", "two"); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("channel:general", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2 (tombstoned excluded)", len(msgs))
	}
	// Newest first.
	if msgs[0].Body != "three" || msgs[1].Body != "one" {
		t.Errorf("order = [%s, %s], want [three, one]", msgs[0].Body, msgs[1].Body)
	}
}

func TestAttachmentsRoundTrip(t *testing.T) {
	db := testDB(t)

	m := &Message{
		TargetKey:   "channel:general",
		MsgID:       "m1",
		Body:        "with files",
		Attachments: []string{"a.png", "b.pdf"},
		Timestamp:   1000,
	}
	if err := db.UpsertMessage(m); err != nil {
		t.Fatal(err)
	}

	msgs, err := db.ListMessages("channel:general", 0, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 {
		t.Fatal("message not found")
	}
	if len(msgs[0].Attachments) != 2 || msgs[0].Attachments[0] != "a.png" {
		t.Errorf("attachments = %v, want [a.png b.pdf]", msgs[0].Attachments)
	}
}

func TestOutboxJournal(t *testing.T) {
	db := testDB(t)

	entries := []OutboxEntry{
		{ClientMsgID: "c1", TargetKey: "channel:general", Body: "A", CreatedAt: 1},
		{ClientMsgID: "c2", TargetKey: "channel:general", Body: "B", CreatedAt: 2},
		{ClientMsgID: "c3", TargetKey: "direct:u9", Body: "C", CreatedAt: 3},
	}
	for i := range entries {
		if err := db.JournalOutbox(&entries[i]); err != nil {
			t.Fatal(err)
		}
	}

	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 3 {
		t.Fatalf("got %d pending, want 3", len(pending))
	}
	// Enqueue order preserved.
	if pending[0].ClientMsgID != "c1" || pending[2].ClientMsgID != "c3" {
		t.Errorf("order = [%s ... %s], want [c1 ... c3]", pending[0].ClientMsgID, pending[2].ClientMsgID)
	}

	// Retry bump updates in place.
	entries[0].Retries = 2
	if err := db.JournalOutbox(&entries[0]); err != nil {
		t.Fatal(err)
	}
	pending, _ = db.PendingOutbox()
	if len(pending) != 3 {
		t.Fatalf("got %d pending after retry bump, want 3", len(pending))
	}
	if pending[0].Retries != 2 {
		t.Errorf("retries = %d, want 2", pending[0].Retries)
	}

	if err := db.ClearOutbox("c1"); err != nil {
		t.Fatal(err)
	}
	pending, _ = db.PendingOutbox()
	if len(pending) != 2 {
		t.Fatalf("got %d pending after clear, want 2", len(pending))
	}
}

func TestScrollPositions(t *testing.T) {
	db := testDB(t)

	_, ok, err := db.LoadScrollPosition("channel:general")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("never-visited conversation should have no record")
	}

	if err := db.SaveScrollPosition("channel:general", 1234); err != nil {
		t.Fatal(err)
	}
	if err := db.SaveScrollPosition("channel:general", 2345); err != nil {
		t.Fatal(err)
	}

	top, ok, err := db.LoadScrollPosition("channel:general")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || top != 2345 {
		t.Errorf("got (%d, %v), want (2345, true)", top, ok)
	}
}

func TestSearchMessages(t *testing.T) {
	db := testDB(t)

	bodies := []string{"deploy finished", "lunch anyone", "deploy failed again"}
	for i, body := range bodies {
		if err := db.UpsertMessage(&Message{
			TargetKey: "channel:ops",
			MsgID:     body,
			Body:      body,
			Timestamp: int64(1000 + i),
		}); err != nil {
			t.Fatal(err)
		}
	}

	results, err := db.SearchMessages("deploy", "", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}

	results, err = db.SearchMessages("lunch", "channel:ops", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d scoped results, want 1", len(results))
	}
	if results[0].Snippet == "" {
		t.Error("expected a non-empty snippet")
	}
}

func TestConversationNameFallback(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertAuthor(&Author{AuthorID: "u7", DisplayName: "Ana"}); err != nil {
		t.Fatal(err)
	}
	if err := db.UpsertConversation(&Conversation{
		TargetKey:     "direct:u7",
		Kind:          TargetDirect,
		LastMessageAt: 500,
	}); err != nil {
		t.Fatal(err)
	}

	convs, err := db.ListConversations(10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(convs) != 1 {
		t.Fatalf("got %d conversations, want 1", len(convs))
	}
	if convs[0].Name != "Ana" {
		t.Errorf("name = %q, want %q (author fallback)", convs[0].Name, "Ana")
	}
}

func TestConversationPreviewKeepsNewest(t *testing.T) {
	db := testDB(t)

	if err := db.UpsertConversation(&Conversation{
		TargetKey: "channel:general", Kind: TargetChannel,
		LastMessageAt: 2000, LastMessagePreview: "newer",
	}); err != nil {
		t.Fatal(err)
	}
	// An older history batch must not clobber the newer preview.
	if err := db.UpsertConversation(&Conversation{
		TargetKey: "channel:general", Kind: TargetChannel,
		LastMessageAt: 1000, LastMessagePreview: "older",
	}); err != nil {
		t.Fatal(err)
	}

	c, err := db.GetConversation("channel:general")
	if err != nil {
		t.Fatal(err)
	}
	if c.LastMessageAt != 2000 {
		t.Errorf("last_message_at = %d, want 2000", c.LastMessageAt)
	}
	if c.LastMessagePreview != "newer" {
		t.Errorf("preview = %q, want %q", c.LastMessagePreview, "newer")
	}
}

func TestTargetKey(t *testing.T) {
	tests := []struct {
		target Target
		want   string
	}{
		{Target{TargetChannel, "general"}, "channel:general"},
		{Target{TargetDirect, "u42"}, "direct:u42"},
	}
	for _, tt := range tests {
		if got := tt.target.Key(); got != tt.want {
			t.Errorf("Key() = %q, want %q", got, tt.want)
		}
	}
}
