package transport

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrSendFailed is returned by Memory.Send while failure injection is on.
var ErrSendFailed = errors.New("transport: send failed")

// ErrNotConnected is returned when Send is called on a closed channel.
var ErrNotConnected = errors.New("transport: not connected")

// Memory is an in-process Transport used by tests and the local echo
// harness. Failure injection and latency are tunable at runtime so the
// delivery pipeline can be exercised through disconnects and retries.
type Memory struct {
	mu        sync.Mutex
	handler   Handler
	connected bool
	failSends bool
	latency   time.Duration
	echo      bool
	sent      []*Outgoing
}

// NewMemory creates a disconnected in-memory transport.
func NewMemory() *Memory {
	return &Memory{}
}

// SetHandler implements Transport.
func (m *Memory) SetHandler(h Handler) {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
}

// Connect implements Transport.
func (m *Memory) Connect(_ context.Context) error {
	m.mu.Lock()
	m.connected = true
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h.HandleConnected()
	}
	return nil
}

// Close implements Transport.
func (m *Memory) Close() error {
	m.mu.Lock()
	m.connected = false
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h.HandleDisconnected()
	}
	return nil
}

// Send implements Transport. When echo mode is on, a successful send is
// reflected back through the handler as the server's authoritative copy,
// reusing the outgoing id so reconciliation can replace the pending row.
func (m *Memory) Send(ctx context.Context, msg *Outgoing) error {
	m.mu.Lock()
	connected := m.connected
	fail := m.failSends
	latency := m.latency
	echo := m.echo
	h := m.handler
	m.mu.Unlock()

	if !connected {
		return ErrNotConnected
	}
	if latency > 0 {
		select {
		case <-time.After(latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if fail {
		return ErrSendFailed
	}

	m.mu.Lock()
	m.sent = append(m.sent, msg)
	m.mu.Unlock()

	if echo && h != nil {
		h.HandleMessage(&Inbound{
			ID:          msg.ID,
			TargetKey:   msg.TargetKey,
			AuthorID:    "me",
			Body:        msg.Body,
			Attachments: msg.Attachments,
			ReplyTo:     msg.ReplyTo,
			FromMe:      true,
			Timestamp:   time.Now().UnixMilli(),
		})
	}
	return nil
}

// EmitTyping implements Transport. Typing presence is fire-and-forget and
// silently dropped while disconnected.
func (m *Memory) EmitTyping(_ string, _ bool) {}

// SetFailSends toggles failure injection for subsequent sends.
func (m *Memory) SetFailSends(fail bool) {
	m.mu.Lock()
	m.failSends = fail
	m.mu.Unlock()
}

// SetLatency sets an artificial delay on each send.
func (m *Memory) SetLatency(d time.Duration) {
	m.mu.Lock()
	m.latency = d
	m.mu.Unlock()
}

// SetEcho toggles echo mode.
func (m *Memory) SetEcho(on bool) {
	m.mu.Lock()
	m.echo = on
	m.mu.Unlock()
}

// Sent returns a snapshot of successfully delivered messages in order.
func (m *Memory) Sent() []*Outgoing {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Outgoing, len(m.sent))
	copy(out, m.sent)
	return out
}

// Drop simulates a transport-level connection loss with automatic
// retries: the handler observes reconnect attempts, not a deliberate
// disconnect.
func (m *Memory) Drop(attempts int) {
	m.mu.Lock()
	m.connected = false
	h := m.handler
	m.mu.Unlock()
	if h == nil {
		return
	}
	for i := 1; i <= attempts; i++ {
		h.HandleReconnecting(i)
	}
}

// PushMessage injects a remote message as if pushed by the server.
func (m *Memory) PushMessage(targetKey, authorID, authorName, body string) *Inbound {
	msg := &Inbound{
		ID:         uuid.New().String(),
		TargetKey:  targetKey,
		AuthorID:   authorID,
		AuthorName: authorName,
		Body:       body,
		Timestamp:  time.Now().UnixMilli(),
	}
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h.HandleMessage(msg)
	}
	return msg
}

// PushTyping injects a remote typing event.
func (m *Memory) PushTyping(targetKey, userID, displayName string, started bool) {
	m.mu.Lock()
	h := m.handler
	m.mu.Unlock()
	if h != nil {
		h.HandleTyping(targetKey, userID, displayName, started)
	}
}
