// Package timeline turns a flat ordered message sequence into a
// render-ready sequence with group boundaries and date dividers. The
// transformation is pure and deterministic: it is recomputed on every
// change to the underlying list without drift.
package timeline

import (
	"time"

	"github.com/quillchat/quill/internal/store"
)

// GroupThreshold is the maximum gap between two messages of the same
// author that still groups them.
const GroupThreshold = 5 * time.Minute

// ItemKind distinguishes render item shapes.
type ItemKind string

const (
	KindMessage ItemKind = "message"
	KindDivider ItemKind = "divider"
)

// Item is one renderable element: a message with its grouping decision, or
// a date divider. Derived, never persisted.
type Item struct {
	ID         string
	Kind       ItemKind
	Message    *store.Message // nil for dividers
	GroupStart bool
	GroupEnd   bool
	Label      string // divider display text
}

// Decide computes the grouping decision for m given its neighbors. A
// message groups with a neighbor when both carry valid timestamps, share
// an author, and sit within GroupThreshold of each other. With grouping
// disabled every message is its own group.
func Decide(prev, m, next *store.Message, groupingEnabled bool) (start, end bool) {
	if !groupingEnabled {
		return true, true
	}
	return !sameGroup(prev, m), !sameGroup(m, next)
}

func sameGroup(a, b *store.Message) bool {
	if a == nil || b == nil {
		return false
	}
	// Unparsable timestamps never match a neighbor.
	if !a.HasValidTimestamp() || !b.HasValidTimestamp() {
		return false
	}
	if a.AuthorID != b.AuthorID {
		return false
	}
	delta := b.Timestamp - a.Timestamp
	if delta < 0 {
		delta = -delta
	}
	return delta < GroupThreshold.Milliseconds()
}

// GroupAndDivide walks the ordered message list once, assigning group
// boundaries and inserting a divider wherever the viewer-local calendar
// date changes between adjacent messages. A divider is never emitted
// before the first message, and messages without a valid timestamp never
// trigger one.
func GroupAndDivide(msgs []*store.Message, groupingEnabled bool) []Item {
	items := make([]Item, 0, len(msgs)+len(msgs)/8+1)

	for i, m := range msgs {
		var prev, next *store.Message
		if i > 0 {
			prev = msgs[i-1]
		}
		if i < len(msgs)-1 {
			next = msgs[i+1]
		}

		if prev != nil && crossesDate(prev, m) {
			day := localDate(m.Timestamp)
			items = append(items, Item{
				ID:    "divider:" + day.Format("2006-01-02") + ":" + m.MsgID,
				Kind:  KindDivider,
				Label: day.Format("Monday, January 2, 2006"),
			})
		}

		start, end := Decide(prev, m, next, groupingEnabled)
		items = append(items, Item{
			ID:         m.MsgID,
			Kind:       KindMessage,
			Message:    m,
			GroupStart: start,
			GroupEnd:   end,
		})
	}
	return items
}

func crossesDate(prev, m *store.Message) bool {
	if !prev.HasValidTimestamp() || !m.HasValidTimestamp() {
		return false
	}
	return !localDate(prev.Timestamp).Equal(localDate(m.Timestamp))
}

// localDate truncates a unix-milli timestamp to the viewer-local midnight.
func localDate(ms int64) time.Time {
	t := time.UnixMilli(ms).Local()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
