package store

import "fmt"

// TargetKind distinguishes the two conversation shapes. A target is the
// unit of outbound FIFO ordering.
type TargetKind string

const (
	TargetChannel TargetKind = "channel"
	TargetDirect  TargetKind = "direct"
)

// Target identifies a channel or a direct-message conversation.
type Target struct {
	Kind TargetKind
	ID   string
}

// Key returns the canonical string key used throughout the store and the
// delivery pipeline, e.g. "channel:general" or "direct:u42".
func (t Target) Key() string {
	return fmt.Sprintf("%s:%s", t.Kind, t.ID)
}

// Conversation represents a known conversation (channel or DM).
type Conversation struct {
	TargetKey          string
	Kind               TargetKind
	Name               string
	UnreadCount        int
	LastMessageAt      int64
	LastMessagePreview string
}

// Author represents a message author's profile as last seen.
type Author struct {
	AuthorID    string
	DisplayName string
	Username    string
	AvatarURL   string
}

// Message represents a message in the local history store. Inbound
// messages are immutable once received; edits and deletes arrive as
// replacements or tombstones keyed by MsgID. Own messages additionally
// carry a delivery Status.
type Message struct {
	ID          int64
	TargetKey   string
	MsgID       string
	AuthorID    string
	AuthorName  string
	Body        string
	Attachments []string
	ReplyTo     string
	MessageType string
	FromMe      bool
	Status      string // pending, sent, failed; empty for inbound
	Pinned      bool
	Edited      bool
	Deleted     bool
	Timestamp   int64
}

// Delivery status values for own messages.
const (
	StatusPending = "pending"
	StatusSent    = "sent"
	StatusFailed  = "failed"
)

// HasValidTimestamp reports whether the message carries a usable
// timestamp. Messages without one are isolated by the grouping engine.
func (m *Message) HasValidTimestamp() bool {
	return m != nil && m.Timestamp > 0
}

// OutboxEntry is a journaled pending outgoing message, reloaded into the
// delivery queue on startup.
type OutboxEntry struct {
	ID          int64
	ClientMsgID string
	TargetKey   string
	Body        string
	Attachments []string
	ReplyTo     string
	Retries     int
	CreatedAt   int64
}

// ScrollPosition is a persisted per-conversation scroll offset.
type ScrollPosition struct {
	TargetKey string
	ScrollTop int
}

// SearchResult holds a message with a search snippet.
type SearchResult struct {
	Message Message
	Snippet string
}
