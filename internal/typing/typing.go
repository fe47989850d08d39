// Package typing implements both sides of typing presence: the local
// debouncer that turns keystrokes into start/stop signals, and the remote
// aggregator that folds other users' signals into display text.
package typing

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/quillchat/quill/internal/bus"
)

// Emitter sends typing presence upstream.
type Emitter interface {
	EmitTyping(targetKey string, started bool)
}

// Debouncer converts composer content changes into at-most-one
// typing_start per burst of keystrokes, followed by a typing_stop once
// the debounce window passes without input.
type Debouncer struct {
	mu        sync.Mutex
	emitter   Emitter
	window    time.Duration
	target    string
	typing    bool
	composing bool
	timer     *time.Timer
}

// NewDebouncer creates a debouncer with the given debounce window.
func NewDebouncer(emitter Emitter, window time.Duration) *Debouncer {
	return &Debouncer{emitter: emitter, window: window}
}

// OnContentChange handles a composer edit. Non-empty content signals
// typing_start once and re-arms the expiry timer; each subsequent
// keystroke resets it. IME composition never transitions the state.
func (d *Debouncer) OnContentChange(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.composing || d.target == "" {
		return
	}
	if text == "" {
		d.stopLocked()
		return
	}
	if !d.typing {
		d.typing = true
		d.emitter.EmitTyping(d.target, true)
	}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.expire)
}

// SetComposing marks an IME composition session. Transitions are held
// until composition ends.
func (d *Debouncer) SetComposing(composing bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.composing = composing
}

// SwitchTarget cancels any in-flight timer, stops typing on the
// conversation being left, and activates targetKey.
func (d *Debouncer) SwitchTarget(targetKey string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
	d.target = targetKey
}

// Cancel stops typing immediately, used when the composer is cleared by
// a send.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
}

// IsTyping reports whether a typing_start is currently outstanding.
func (d *Debouncer) IsTyping() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.typing
}

func (d *Debouncer) expire() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
}

func (d *Debouncer) stopLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.typing {
		d.typing = false
		d.emitter.EmitTyping(d.target, false)
	}
}

// Changed is the payload published on bus.KindTypingChanged.
type Changed struct {
	TargetKey string
	Text      string
}

type typist struct {
	name    string
	expires time.Time
}

// Aggregator maintains per-conversation sets of remote typists. Entries
// expire implicitly when no refresh arrives within the debounce window.
type Aggregator struct {
	mu      sync.Mutex
	bus     *bus.Bus
	window  time.Duration
	now     func() time.Time
	targets map[string]map[string]typist // target key -> user id -> typist
	timers  map[string]*time.Timer
}

// NewAggregator creates an aggregator whose entries expire after window.
func NewAggregator(b *bus.Bus, window time.Duration) *Aggregator {
	return &Aggregator{
		bus:     b,
		window:  window,
		now:     time.Now,
		targets: make(map[string]map[string]typist),
		timers:  make(map[string]*time.Timer),
	}
}

// Observe folds one remote typing signal into the set for targetKey.
func (a *Aggregator) Observe(targetKey, userID, displayName string, started bool) {
	a.mu.Lock()

	set := a.targets[targetKey]
	if started {
		if set == nil {
			set = make(map[string]typist)
			a.targets[targetKey] = set
		}
		if displayName == "" {
			displayName = userID
		}
		set[userID] = typist{name: displayName, expires: a.now().Add(a.window)}
	} else if set != nil {
		delete(set, userID)
		if len(set) == 0 {
			delete(a.targets, targetKey)
		}
	}
	a.rescheduleLocked(targetKey)
	text := a.textLocked(targetKey)
	a.mu.Unlock()

	a.bus.PublishKind(bus.KindTypingChanged, Changed{TargetKey: targetKey, Text: text})
}

// DisplayText returns the aggregated indicator text for targetKey, empty
// when nobody is typing.
func (a *Aggregator) DisplayText(targetKey string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pruneLocked(targetKey)
	return a.textLocked(targetKey)
}

func (a *Aggregator) expire(targetKey string) {
	a.mu.Lock()
	a.pruneLocked(targetKey)
	a.rescheduleLocked(targetKey)
	text := a.textLocked(targetKey)
	a.mu.Unlock()

	a.bus.PublishKind(bus.KindTypingChanged, Changed{TargetKey: targetKey, Text: text})
}

// pruneLocked drops entries past their deadline.
func (a *Aggregator) pruneLocked(targetKey string) {
	set := a.targets[targetKey]
	now := a.now()
	for id, t := range set {
		if !t.expires.After(now) {
			delete(set, id)
		}
	}
	if len(set) == 0 {
		delete(a.targets, targetKey)
	}
}

// rescheduleLocked arms one timer per target for its earliest deadline.
func (a *Aggregator) rescheduleLocked(targetKey string) {
	if timer := a.timers[targetKey]; timer != nil {
		timer.Stop()
		delete(a.timers, targetKey)
	}
	set := a.targets[targetKey]
	if len(set) == 0 {
		return
	}
	var earliest time.Time
	for _, t := range set {
		if earliest.IsZero() || t.expires.Before(earliest) {
			earliest = t.expires
		}
	}
	d := earliest.Sub(a.now())
	if d < 0 {
		d = 0
	}
	a.timers[targetKey] = time.AfterFunc(d, func() { a.expire(targetKey) })
}

func (a *Aggregator) textLocked(targetKey string) string {
	set := a.targets[targetKey]
	names := make([]string, 0, len(set))
	seen := make(map[string]bool, len(set))
	// Order by insertion is not tracked; sort for stable output.
	for _, t := range set {
		if !seen[t.name] {
			seen[t.name] = true
			names = append(names, t.name)
		}
	}
	sort.Strings(names)

	switch len(names) {
	case 0:
		return ""
	case 1:
		return fmt.Sprintf("%s is typing…", names[0])
	case 2:
		return fmt.Sprintf("%s and %s are typing…", names[0], names[1])
	case 3:
		return fmt.Sprintf("%s, %s, and %s are typing…", names[0], names[1], names[2])
	default:
		return "Several people are typing…"
	}
}
