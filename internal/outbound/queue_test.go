package outbound

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/quillchat/quill/internal/bus"
	"github.com/quillchat/quill/internal/conn"
	"github.com/quillchat/quill/internal/store"
	"github.com/quillchat/quill/internal/transport"
	"go.uber.org/zap"
)

func testQueue(t *testing.T, connected bool) (*Queue, *transport.Memory, *conn.Tracker, *bus.Bus) {
	t.Helper()
	b := bus.New()
	tracker := conn.NewTracker(b)
	mem := transport.NewMemory()
	_ = mem.Connect(context.Background())
	if connected {
		if err := tracker.Transition(conn.Connected); err != nil {
			t.Fatal(err)
		}
	}
	logger, _ := zap.NewDevelopment()
	q := New(tracker, mem, nil, b, logger, 2000, 3)
	t.Cleanup(q.Stop)
	return q, mem, tracker, b
}

func TestSendRejectsEmpty(t *testing.T) {
	q, _, _, _ := testQueue(t, true)

	tests := []struct {
		name    string
		content string
	}{
		{"empty", ""},
		{"whitespace", "   \n\t "},
		{"control chars only", "\x00\x01\x02"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := q.Send(context.Background(), "channel:general", tt.content, nil, "")
			if err != ErrEmptyMessage {
				t.Errorf("Send(%q) error = %v, want ErrEmptyMessage", tt.content, err)
			}
		})
	}
	if q.QueuedCount() != 0 {
		t.Errorf("queued = %d, want 0 (rejected messages never enqueue)", q.QueuedCount())
	}
}

func TestSendRejectsOversized(t *testing.T) {
	q, _, _, _ := testQueue(t, true)

	long := make([]rune, 2001)
	for i := range long {
		long[i] = 'a'
	}
	_, _, err := q.Send(context.Background(), "channel:general", string(long), nil, "")
	if err != ErrMessageTooLong {
		t.Errorf("error = %v, want ErrMessageTooLong", err)
	}
	if q.QueuedCount() != 0 {
		t.Errorf("queued = %d, want 0", q.QueuedCount())
	}
}

func TestSendAttachmentOnlyAccepted(t *testing.T) {
	q, mem, _, _ := testQueue(t, true)

	m, pending, err := q.Send(context.Background(), "channel:general", "", []string{"photo.png"}, "")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if pending {
		t.Error("pending = true, want false (connected, immediate transmit)")
	}
	if len(mem.Sent()) != 1 {
		t.Fatalf("sent = %d, want 1", len(mem.Sent()))
	}
	if mem.Sent()[0].ID != m.ID {
		t.Error("transmitted id differs from returned message id")
	}
}

func TestSendWhileDisconnectedQueues(t *testing.T) {
	q, mem, _, b := testQueue(t, false)

	ch, unsub := b.Subscribe(bus.KindMessagePending, 10)
	defer unsub()

	_, pending, err := q.Send(context.Background(), "channel:general", "hello", nil, "")
	if err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	if !pending {
		t.Error("pending = false, want true (disconnected)")
	}
	if q.QueuedCount() != 1 {
		t.Errorf("queued = %d, want 1", q.QueuedCount())
	}
	if len(mem.Sent()) != 0 {
		t.Errorf("sent = %d, want 0", len(mem.Sent()))
	}

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message.pending event")
	}
}

func TestImmediateFailureFallsThroughToQueue(t *testing.T) {
	q, mem, _, _ := testQueue(t, true)
	mem.SetFailSends(true)

	_, pending, err := q.Send(context.Background(), "channel:general", "hello", nil, "")
	if err != nil {
		t.Fatalf("Send() error = %v (transient failures must not surface)", err)
	}
	if !pending {
		t.Error("pending = false, want true (failed transmit falls through to enqueue)")
	}
	if q.QueuedCount() != 1 {
		t.Errorf("queued = %d, want 1", q.QueuedCount())
	}
}

// TestFlushFIFO verifies the core ordering property: messages queued
// offline to the same target are transmitted in enqueue order after
// reconnection.
func TestFlushFIFO(t *testing.T) {
	q, mem, tracker, _ := testQueue(t, false)

	for _, body := range []string{"A", "B", "C"} {
		if _, _, err := q.Send(context.Background(), "channel:general", body, nil, ""); err != nil {
			t.Fatal(err)
		}
	}

	if err := tracker.Transition(conn.Connected); err != nil {
		t.Fatal(err)
	}
	q.Flush(context.Background())

	sent := mem.Sent()
	if len(sent) != 3 {
		t.Fatalf("sent = %d, want 3", len(sent))
	}
	for i, want := range []string{"A", "B", "C"} {
		if sent[i].Body != want {
			t.Errorf("sent[%d].Body = %q, want %q", i, sent[i].Body, want)
		}
	}
	if q.QueuedCount() != 0 {
		t.Errorf("queued = %d after flush, want 0", q.QueuedCount())
	}
}

// TestRetryCap verifies a message whose every attempt fails is dropped and
// reported exactly once after maxRetryAttempts+1 attempts.
func TestRetryCap(t *testing.T) {
	q, mem, tracker, b := testQueue(t, false)
	mem.SetFailSends(true)

	dropped, unsub := b.Subscribe(bus.KindMessageDropped, 10)
	defer unsub()

	m, _, err := q.Send(context.Background(), "channel:general", "doomed", nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := tracker.Transition(conn.Connected); err != nil {
		t.Fatal(err)
	}

	// Each flush pass attempts the blocked head once; the fourth failure
	// (retries = 4 > 3) drops it.
	for i := 0; i < 4; i++ {
		q.Flush(context.Background())
	}

	select {
	case evt := <-dropped:
		d, ok := evt.Payload.(Delivery)
		if !ok {
			t.Fatalf("payload type = %T, want Delivery", evt.Payload)
		}
		if d.Message.ID != m.ID {
			t.Errorf("dropped id = %q, want %q", d.Message.ID, m.ID)
		}
		if d.Message.Retries != 4 {
			t.Errorf("retries = %d, want 4 (maxRetryAttempts+1 attempts)", d.Message.Retries)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message.dropped event")
	}

	// Exactly once: no further drop events, nothing left queued.
	select {
	case evt := <-dropped:
		t.Errorf("unexpected second drop event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
	if q.QueuedCount() != 0 {
		t.Errorf("queued = %d, want 0 (dropped, not retried forever)", q.QueuedCount())
	}

	// A later flush must not touch the dropped message again.
	mem.SetFailSends(false)
	q.Flush(context.Background())
	if len(mem.Sent()) != 0 {
		t.Errorf("sent = %d, want 0 (dropped message must not resurrect)", len(mem.Sent()))
	}
}

// TestIDStableAcrossRetries verifies the idempotency key: every attempt for
// the same logical message carries the same id.
func TestIDStableAcrossRetries(t *testing.T) {
	q, mem, tracker, _ := testQueue(t, false)
	mem.SetFailSends(true)

	m, _, err := q.Send(context.Background(), "channel:general", "hello", nil, "")
	if err != nil {
		t.Fatal(err)
	}
	if err := tracker.Transition(conn.Connected); err != nil {
		t.Fatal(err)
	}

	q.Flush(context.Background())
	q.Flush(context.Background())
	mem.SetFailSends(false)
	q.Flush(context.Background())

	sent := mem.Sent()
	if len(sent) != 1 {
		t.Fatalf("delivered = %d, want 1", len(sent))
	}
	if sent[0].ID != m.ID {
		t.Errorf("delivered id = %q, want original %q", sent[0].ID, m.ID)
	}
}

// TestFlushCoalesced verifies that concurrent flush triggers fold into one
// drain: every queued message is transmitted exactly once.
func TestFlushCoalesced(t *testing.T) {
	q, mem, tracker, _ := testQueue(t, false)
	mem.SetLatency(20 * time.Millisecond)

	for _, body := range []string{"A", "B", "C", "D"} {
		if _, _, err := q.Send(context.Background(), "channel:general", body, nil, ""); err != nil {
			t.Fatal(err)
		}
	}
	if err := tracker.Transition(conn.Connected); err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Flush(context.Background())
		}()
	}
	wg.Wait()
	// The coalesced rerun may still be draining after the losers return.
	deadline := time.Now().Add(2 * time.Second)
	for q.QueuedCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	if got := len(mem.Sent()); got != 4 {
		t.Errorf("sent = %d, want 4 (no duplicates, no losses)", got)
	}
}

func TestFlushOnConnFlushSignal(t *testing.T) {
	q, mem, tracker, _ := testQueue(t, false)

	if _, _, err := q.Send(context.Background(), "channel:general", "hello", nil, ""); err != nil {
		t.Fatal(err)
	}

	q.Start(context.Background())
	// The tracker publishes conn.flush on entering CONNECTED.
	if err := tracker.Transition(conn.Connected); err != nil {
		t.Fatal(err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for q.QueuedCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if len(mem.Sent()) != 1 {
		t.Errorf("sent = %d, want 1 (drained on flush signal)", len(mem.Sent()))
	}
}

// TestCrossTargetIndependence verifies a blocked head on one target does
// not stall delivery to another target.
func TestCrossTargetIndependence(t *testing.T) {
	q, mem, tracker, _ := testQueue(t, false)

	if _, _, err := q.Send(context.Background(), "channel:stuck", "X", nil, ""); err != nil {
		t.Fatal(err)
	}
	if _, _, err := q.Send(context.Background(), "direct:u2", "Y", nil, ""); err != nil {
		t.Fatal(err)
	}

	// First pass fails everything, so channel:stuck's head blocks.
	mem.SetFailSends(true)
	if err := tracker.Transition(conn.Connected); err != nil {
		t.Fatal(err)
	}
	q.Flush(context.Background())

	mem.SetFailSends(false)
	q.Flush(context.Background())

	sent := mem.Sent()
	if len(sent) != 2 {
		t.Fatalf("sent = %d, want 2", len(sent))
	}
}

func TestJournalRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := store.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}

	b := bus.New()
	tracker := conn.NewTracker(b)
	mem := transport.NewMemory()
	_ = mem.Connect(context.Background())
	logger, _ := zap.NewDevelopment()

	q := New(tracker, mem, db, b, logger, 2000, 3)
	m, _, err := q.Send(context.Background(), "channel:general", "survives restart", nil, "")
	if err != nil {
		t.Fatal(err)
	}

	// Simulate a restart: a fresh queue restores from the journal.
	q2 := New(tracker, mem, db, b, logger, 2000, 3)
	if err := q2.Restore(); err != nil {
		t.Fatal(err)
	}
	if q2.QueuedCount() != 1 {
		t.Fatalf("restored queued = %d, want 1", q2.QueuedCount())
	}

	if err := tracker.Transition(conn.Connected); err != nil {
		t.Fatal(err)
	}
	q2.Flush(context.Background())

	sent := mem.Sent()
	if len(sent) != 1 || sent[0].ID != m.ID {
		t.Fatalf("restored message not delivered with original id")
	}

	// Journal cleared after ack.
	pending, err := db.PendingOutbox()
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("journal entries = %d after ack, want 0", len(pending))
	}
}
