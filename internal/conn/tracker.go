package conn

import (
	"fmt"
	"slices"
	"sync"

	"github.com/quillchat/quill/internal/bus"
)

// State represents a transport connection state.
type State string

const (
	Connecting   State = "CONNECTING"
	Connected    State = "CONNECTED"
	Reconnecting State = "RECONNECTING"
	Disconnected State = "DISCONNECTED"
	Error        State = "ERROR"
)

// validTransitions defines allowed state transitions. Reconnecting allows a
// self-transition: each repeated failure re-enters the state and bumps the
// attempt counter.
var validTransitions = map[State][]State{
	Connecting:   {Connected, Disconnected, Error},
	Connected:    {Reconnecting, Disconnected, Error},
	Reconnecting: {Connected, Reconnecting, Disconnected, Error},
	Disconnected: {Connecting, Error},
	Error:        {Connecting},
}

// Tracker observes the transport lifecycle and enforces connection state
// transitions. It is the only writer of the connection status; every other
// component observes it via Current/Attempts or bus events. Each transition
// into Connected additionally publishes a flush signal for the delivery
// queue.
type Tracker struct {
	mu       sync.RWMutex
	current  State
	attempts int
	bus      *bus.Bus
}

// NewTracker creates a tracker starting in Connecting state.
func NewTracker(b *bus.Bus) *Tracker {
	return &Tracker{
		current: Connecting,
		bus:     b,
	}
}

// Current returns the current state.
func (t *Tracker) Current() State {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// Attempts returns the reconnect attempt counter.
func (t *Tracker) Attempts() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.attempts
}

// Connected reports whether sends may be attempted immediately.
func (t *Tracker) IsConnected() bool {
	return t.Current() == Connected
}

// Transition attempts to move to a new state. Returns an error if the
// transition is not allowed; the state is unchanged in that case.
func (t *Tracker) Transition(to State) error {
	t.mu.Lock()

	allowed := validTransitions[t.current]
	if !slices.Contains(allowed, to) {
		from := t.current
		t.mu.Unlock()
		return fmt.Errorf("invalid transition from %s to %s", from, to)
	}
	from := t.current
	t.current = to

	switch to {
	case Connected:
		t.attempts = 0
	case Reconnecting:
		t.attempts++
	}
	attempts := t.attempts
	t.mu.Unlock()

	if t.bus != nil {
		t.bus.PublishKind(bus.KindConnStateChanged, StateChange{
			From:     from,
			To:       to,
			Attempts: attempts,
		})
		if to == Connected {
			t.bus.PublishKind(bus.KindConnFlush, nil)
		}
	}
	return nil
}

// StateChange is the payload for connection state change events.
type StateChange struct {
	From     State
	To       State
	Attempts int
}
