package outbound

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/quillchat/quill/internal/bus"
	"github.com/quillchat/quill/internal/conn"
	"github.com/quillchat/quill/internal/store"
	"github.com/quillchat/quill/internal/transport"
	"go.uber.org/zap"
)

// Validation errors. These are rejected synchronously before any state
// mutation and are never retried.
var (
	ErrEmptyMessage   = errors.New("outbound: message is empty")
	ErrMessageTooLong = errors.New("outbound: message exceeds maximum length")
)

const sendTimeout = 10 * time.Second

// Message is an outbound message owned by the queue. The ID is
// client-generated and stable across retries so the transport or server
// can deduplicate. Immutable except Retries.
type Message struct {
	ID          string
	TargetKey   string
	Body        string
	Attachments []string
	ReplyTo     string
	CreatedAt   time.Time
	Retries     int
}

// Delivery is the payload for send_failed and dropped events.
type Delivery struct {
	Message *Message
	Err     string
}

// Journal persists queued messages across restarts. The store implements
// it; tests may pass nil to run purely in memory.
type Journal interface {
	JournalOutbox(e *store.OutboxEntry) error
	ClearOutbox(clientMsgID string) error
	PendingOutbox() ([]store.OutboxEntry, error)
}

// Queue is the outbound delivery queue: it validates compose actions,
// transmits immediately while connected, queues per-target FIFO otherwise,
// and drains on the tracker's flush signal with bounded retries.
type Queue struct {
	mu      sync.Mutex
	queues  map[string][]*Message
	targets []string // keys holding pending messages, first-enqueue order
	flushing bool
	rerun    bool
	backoff  *time.Timer

	tracker    *conn.Tracker
	tr         transport.Transport
	journal    Journal
	bus        *bus.Bus
	logger     *zap.Logger
	maxLength  int
	maxRetries int
	cancel     context.CancelFunc
}

// New creates a delivery queue. journal may be nil.
func New(tracker *conn.Tracker, tr transport.Transport, journal Journal, b *bus.Bus, logger *zap.Logger, maxLength, maxRetries int) *Queue {
	return &Queue{
		queues:     make(map[string][]*Message),
		tracker:    tracker,
		tr:         tr,
		journal:    journal,
		bus:        b,
		logger:     logger,
		maxLength:  maxLength,
		maxRetries: maxRetries,
	}
}

// Start subscribes to the tracker's flush signal.
func (q *Queue) Start(ctx context.Context) {
	ctx, q.cancel = context.WithCancel(ctx)
	ch, unsub := q.bus.Subscribe(bus.KindConnFlush, 16)

	go func() {
		defer unsub()
		for {
			select {
			case <-ch:
				q.Flush(ctx)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the flush subscription and any pending retry timer.
func (q *Queue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.mu.Lock()
	if q.backoff != nil {
		q.backoff.Stop()
		q.backoff = nil
	}
	q.mu.Unlock()
}

// Send validates and either transmits or enqueues a compose action.
// Returns the accepted message and whether it is pending (queued) rather
// than delivered. Validation failures return a typed error and mutate
// nothing.
func (q *Queue) Send(ctx context.Context, targetKey, content string, attachments []string, replyTo string) (*Message, bool, error) {
	body := sanitize(content)
	if body == "" && len(attachments) == 0 {
		return nil, false, ErrEmptyMessage
	}
	if utf8.RuneCountInString(body) > q.maxLength {
		return nil, false, ErrMessageTooLong
	}

	m := &Message{
		ID:          uuid.New().String(),
		TargetKey:   targetKey,
		Body:        body,
		Attachments: attachments,
		ReplyTo:     replyTo,
		CreatedAt:   time.Now(),
	}

	if q.tracker.IsConnected() {
		if err := q.transmit(ctx, m); err == nil {
			q.bus.PublishKind(bus.KindMessageSendAck, m)
			return m, false, nil
		} else {
			q.logger.Warn("immediate send failed, queueing",
				zap.Error(err), zap.String("client_msg_id", m.ID))
		}
	}

	q.enqueue(m)
	q.bus.PublishKind(bus.KindMessagePending, m)
	return m, true, nil
}

// QueuedCount returns the total number of pending messages.
func (q *Queue) QueuedCount() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, msgs := range q.queues {
		n += len(msgs)
	}
	return n
}

// Restore reloads journaled messages after a restart, preserving ids and
// retry counts.
func (q *Queue) Restore() error {
	if q.journal == nil {
		return nil
	}
	entries, err := q.journal.PendingOutbox()
	if err != nil {
		return err
	}
	q.mu.Lock()
	for _, e := range entries {
		m := &Message{
			ID:          e.ClientMsgID,
			TargetKey:   e.TargetKey,
			Body:        e.Body,
			Attachments: e.Attachments,
			ReplyTo:     e.ReplyTo,
			CreatedAt:   time.UnixMilli(e.CreatedAt),
			Retries:     e.Retries,
		}
		if len(q.queues[m.TargetKey]) == 0 {
			q.targets = append(q.targets, m.TargetKey)
		}
		q.queues[m.TargetKey] = append(q.queues[m.TargetKey], m)
	}
	count := len(entries)
	q.mu.Unlock()

	if count > 0 {
		q.logger.Info("restored queued messages", zap.Int("count", count))
	}
	return nil
}

// Flush drains the queue in per-target FIFO order. It is coalescing: a
// flush requested while one is already running folds into the current
// pass instead of starting a second drain.
func (q *Queue) Flush(ctx context.Context) {
	q.mu.Lock()
	if q.flushing {
		q.rerun = true
		q.mu.Unlock()
		return
	}
	q.flushing = true
	q.mu.Unlock()

	for {
		q.drainOnce(ctx)

		q.mu.Lock()
		if !q.rerun {
			q.flushing = false
			q.mu.Unlock()
			return
		}
		q.rerun = false
		q.mu.Unlock()
	}
}

func (q *Queue) drainOnce(ctx context.Context) {
	q.mu.Lock()
	targets := make([]string, len(q.targets))
	copy(targets, q.targets)
	q.mu.Unlock()

	for _, key := range targets {
		q.drainTarget(ctx, key)
		if !q.tracker.IsConnected() {
			return
		}
	}
}

// drainTarget sends the head of one target's queue until it empties or a
// transient failure blocks it. A blocked head stays put so per-target FIFO
// order is preserved; a retry is scheduled with backoff instead.
func (q *Queue) drainTarget(ctx context.Context, key string) {
	for {
		if !q.tracker.IsConnected() {
			return
		}

		q.mu.Lock()
		queue := q.queues[key]
		if len(queue) == 0 {
			q.removeTarget(key)
			q.mu.Unlock()
			return
		}
		m := queue[0]
		q.mu.Unlock()

		err := q.transmit(ctx, m)
		if err == nil {
			q.pop(key, m)
			q.bus.PublishKind(bus.KindMessageSendAck, m)
			continue
		}

		m.Retries++
		if m.Retries > q.maxRetries {
			q.pop(key, m)
			q.logger.Error("message dropped after retry cap",
				zap.String("client_msg_id", m.ID), zap.Int("retries", m.Retries), zap.Error(err))
			q.bus.PublishKind(bus.KindMessageDropped, Delivery{Message: m, Err: err.Error()})
			continue
		}

		if q.journal != nil {
			_ = q.journal.JournalOutbox(q.entryFor(m))
		}
		q.logger.Warn("send failed, will retry",
			zap.String("client_msg_id", m.ID), zap.Int("retries", m.Retries), zap.Error(err))
		q.bus.PublishKind(bus.KindMessageSendFailed, Delivery{Message: m, Err: err.Error()})
		q.scheduleRetry(ctx, m.Retries)
		return
	}
}

func (q *Queue) transmit(ctx context.Context, m *Message) error {
	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	return q.tr.Send(ctx, &transport.Outgoing{
		ID:          m.ID,
		TargetKey:   m.TargetKey,
		Body:        m.Body,
		Attachments: m.Attachments,
		ReplyTo:     m.ReplyTo,
	})
}

func (q *Queue) enqueue(m *Message) {
	q.mu.Lock()
	if len(q.queues[m.TargetKey]) == 0 {
		q.targets = append(q.targets, m.TargetKey)
	}
	q.queues[m.TargetKey] = append(q.queues[m.TargetKey], m)
	q.mu.Unlock()

	if q.journal != nil {
		_ = q.journal.JournalOutbox(q.entryFor(m))
	}
}

// pop removes m from the head of its target queue and clears its journal
// entry.
func (q *Queue) pop(key string, m *Message) {
	q.mu.Lock()
	queue := q.queues[key]
	if len(queue) > 0 && queue[0] == m {
		q.queues[key] = queue[1:]
	}
	if len(q.queues[key]) == 0 {
		q.removeTarget(key)
	}
	q.mu.Unlock()

	if q.journal != nil {
		_ = q.journal.ClearOutbox(m.ID)
	}
}

// removeTarget must be called with q.mu held.
func (q *Queue) removeTarget(key string) {
	delete(q.queues, key)
	for i, k := range q.targets {
		if k == key {
			q.targets = append(q.targets[:i], q.targets[i+1:]...)
			return
		}
	}
}

// scheduleRetry arms a single backoff timer that re-triggers a flush. A
// newer failure replaces the pending timer.
func (q *Queue) scheduleRetry(ctx context.Context, retries int) {
	d := backoffFor(retries)
	q.mu.Lock()
	if q.backoff != nil {
		q.backoff.Stop()
	}
	q.backoff = time.AfterFunc(d, func() {
		if q.tracker.IsConnected() {
			q.Flush(ctx)
		}
	})
	q.mu.Unlock()
}

func backoffFor(retries int) time.Duration {
	d := 500 * time.Millisecond << uint(retries)
	if d > 30*time.Second {
		d = 30 * time.Second
	}
	return d
}

func (q *Queue) entryFor(m *Message) *store.OutboxEntry {
	return &store.OutboxEntry{
		ClientMsgID: m.ID,
		TargetKey:   m.TargetKey,
		Body:        m.Body,
		Attachments: m.Attachments,
		ReplyTo:     m.ReplyTo,
		Retries:     m.Retries,
		CreatedAt:   m.CreatedAt.UnixMilli(),
	}
}

// sanitize trims surrounding whitespace and strips control characters that
// have no place in a chat body.
func sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\n' && r != '\t' {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(s)
}
