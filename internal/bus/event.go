package bus

import "time"

// Event represents a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// Well-known event kinds. Subscribers filter by namespace prefix, so
// "conn." matches every connection event and "message." every delivery
// lifecycle event.
const (
	KindConnStateChanged = "conn.state_changed"
	KindConnFlush        = "conn.flush"

	KindMessagePending    = "message.pending"
	KindMessageUpserted   = "message.upserted"
	KindMessageSendAck    = "message.send_ack"
	KindMessageSendFailed = "message.send_failed"
	KindMessageDropped    = "message.dropped"

	KindTypingChanged     = "typing.changed"
	KindScrollNewMessages = "scroll.new_messages"
)
