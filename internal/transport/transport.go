// Package transport defines the abstract bidirectional event channel the
// engine speaks over. The wire encoding is deliberately out of scope; a
// concrete backend implements Transport and feeds lifecycle and inbound
// events through the registered Handler.
package transport

import "context"

// Outgoing is a message handed to the transport for delivery. ID is the
// client-generated idempotency key: retries reuse it so the far side can
// deduplicate.
type Outgoing struct {
	ID          string
	TargetKey   string
	Body        string
	Attachments []string
	ReplyTo     string
}

// Inbound is a message pushed from the transport, either a remote author's
// message or the server's authoritative echo of an own send.
type Inbound struct {
	ID          string
	TargetKey   string
	AuthorID    string
	AuthorName  string
	Username    string
	AvatarURL   string
	Body        string
	Attachments []string
	ReplyTo     string
	FromMe      bool
	Edited      bool
	Deleted     bool
	Timestamp   int64 // unix millis; <= 0 means unparsable
}

// Handler receives transport lifecycle and push events. Implementations
// must not block: each callback is expected to complete within one turn.
type Handler interface {
	HandleConnected()
	HandleDisconnected()
	HandleReconnecting(attempt int)
	HandleFault(err error)
	HandleMessage(msg *Inbound)
	HandleTyping(targetKey, userID, displayName string, started bool)
}

// Transport is the narrow contract to the chat backend.
type Transport interface {
	// SetHandler registers the event sink. Must be called before Connect.
	SetHandler(h Handler)
	// Connect opens the channel; lifecycle events arrive on the handler.
	Connect(ctx context.Context) error
	// Close shuts the channel down; the handler sees a disconnect.
	Close() error
	// Send delivers one message. It may time out; any error is treated as
	// a transient delivery failure by the queue.
	Send(ctx context.Context, msg *Outgoing) error
	// EmitTyping is fire-and-forget typing presence.
	EmitTyping(targetKey string, started bool)
}
