package typing

import (
	"sync"
	"testing"
	"time"

	"github.com/quillchat/quill/internal/bus"
)

type signal struct {
	target  string
	started bool
}

type fakeEmitter struct {
	mu      sync.Mutex
	signals []signal
}

func (f *fakeEmitter) EmitTyping(targetKey string, started bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.signals = append(f.signals, signal{target: targetKey, started: started})
}

func (f *fakeEmitter) snapshot() []signal {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]signal, len(f.signals))
	copy(out, f.signals)
	return out
}

func TestDebouncerEmitsStartOnce(t *testing.T) {
	em := &fakeEmitter{}
	d := NewDebouncer(em, time.Minute)
	d.SwitchTarget("channel:general")

	d.OnContentChange("h")
	d.OnContentChange("he")
	d.OnContentChange("hel")

	got := em.snapshot()
	if len(got) != 1 || !got[0].started {
		t.Fatalf("signals = %+v, want single typing_start", got)
	}
	if !d.IsTyping() {
		t.Fatal("expected typing state to be set")
	}
}

func TestDebouncerStopsOnExpiry(t *testing.T) {
	em := &fakeEmitter{}
	d := NewDebouncer(em, 30*time.Millisecond)
	d.SwitchTarget("channel:general")

	d.OnContentChange("h")
	deadline := time.Now().Add(time.Second)
	for d.IsTyping() {
		if time.Now().After(deadline) {
			t.Fatal("timer never expired")
		}
		time.Sleep(5 * time.Millisecond)
	}

	got := em.snapshot()
	if len(got) != 2 || got[1].started {
		t.Fatalf("signals = %+v, want start then stop", got)
	}
}

func TestDebouncerKeystrokeResetsTimer(t *testing.T) {
	em := &fakeEmitter{}
	d := NewDebouncer(em, 60*time.Millisecond)
	d.SwitchTarget("channel:general")

	d.OnContentChange("h")
	for i := 0; i < 4; i++ {
		time.Sleep(30 * time.Millisecond)
		d.OnContentChange("hello")
	}
	// 120ms past the first keystroke, still inside the last window.
	if !d.IsTyping() {
		t.Fatal("typing should persist while keystrokes keep arriving")
	}
}

func TestDebouncerClearedContentStops(t *testing.T) {
	em := &fakeEmitter{}
	d := NewDebouncer(em, time.Minute)
	d.SwitchTarget("channel:general")

	d.OnContentChange("hello")
	d.OnContentChange("")

	got := em.snapshot()
	if len(got) != 2 || got[1].started {
		t.Fatalf("signals = %+v, want start then stop", got)
	}
}

func TestDebouncerCompositionGuard(t *testing.T) {
	em := &fakeEmitter{}
	d := NewDebouncer(em, time.Minute)
	d.SwitchTarget("channel:general")

	d.SetComposing(true)
	d.OnContentChange("に")
	d.OnContentChange("にほ")
	if len(em.snapshot()) != 0 {
		t.Fatalf("signals = %+v, want none mid-composition", em.snapshot())
	}

	d.SetComposing(false)
	d.OnContentChange("日本")
	got := em.snapshot()
	if len(got) != 1 || !got[0].started {
		t.Fatalf("signals = %+v, want typing_start after composition", got)
	}
}

func TestDebouncerSwitchTargetStopsOldConversation(t *testing.T) {
	em := &fakeEmitter{}
	d := NewDebouncer(em, time.Minute)
	d.SwitchTarget("channel:general")
	d.OnContentChange("hello")

	d.SwitchTarget("direct:ana")

	got := em.snapshot()
	if len(got) != 2 {
		t.Fatalf("signals = %+v, want start then stop", got)
	}
	if got[1].started || got[1].target != "channel:general" {
		t.Fatalf("stop = %+v, want typing_stop on channel:general", got[1])
	}
	if d.IsTyping() {
		t.Fatal("typing state should reset on switch")
	}
}

func TestAggregatorDisplayText(t *testing.T) {
	b := bus.New()
	a := NewAggregator(b, time.Minute)

	tests := []struct {
		name    string
		typists []string
		want    string
	}{
		{"nobody", nil, ""},
		{"one", []string{"Ana"}, "Ana is typing…"},
		{"two", []string{"Ana", "Ben"}, "Ana and Ben are typing…"},
		{"three", []string{"Ana", "Ben", "Cid"}, "Ana, Ben, and Cid are typing…"},
		{"many", []string{"Ana", "Ben", "Cid", "Dee"}, "Several people are typing…"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := "channel:" + tt.name
			for _, name := range tt.typists {
				a.Observe(target, name+"-id", name, true)
			}
			if got := a.DisplayText(target); got != tt.want {
				t.Fatalf("DisplayText = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAggregatorStopRemovesTypist(t *testing.T) {
	b := bus.New()
	a := NewAggregator(b, time.Minute)

	a.Observe("channel:general", "u1", "Ana", true)
	a.Observe("channel:general", "u2", "Ben", true)
	a.Observe("channel:general", "u1", "Ana", false)

	if got := a.DisplayText("channel:general"); got != "Ben is typing…" {
		t.Fatalf("DisplayText = %q", got)
	}
}

func TestAggregatorEntriesExpire(t *testing.T) {
	b := bus.New()
	a := NewAggregator(b, time.Minute)
	now := time.Now()
	a.now = func() time.Time { return now }

	a.Observe("channel:general", "u1", "Ana", true)
	a.Observe("channel:general", "u2", "Ben", true)
	if got := a.DisplayText("channel:general"); got != "Ana and Ben are typing…" {
		t.Fatalf("DisplayText = %q", got)
	}

	// Ana refreshes, Ben does not.
	now = now.Add(30 * time.Second)
	a.Observe("channel:general", "u1", "Ana", true)
	now = now.Add(45 * time.Second)
	if got := a.DisplayText("channel:general"); got != "Ana is typing…" {
		t.Fatalf("DisplayText = %q after partial expiry", got)
	}

	now = now.Add(time.Minute)
	if got := a.DisplayText("channel:general"); got != "" {
		t.Fatalf("DisplayText = %q after full expiry, want empty", got)
	}
}

func TestAggregatorPublishesChanges(t *testing.T) {
	b := bus.New()
	events, cancel := b.Subscribe(bus.KindTypingChanged, 8)
	defer cancel()
	a := NewAggregator(b, time.Minute)

	a.Observe("channel:general", "u1", "Ana", true)
	select {
	case evt := <-events:
		p := evt.Payload.(Changed)
		if p.TargetKey != "channel:general" || p.Text != "Ana is typing…" {
			t.Fatalf("payload = %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for typing.changed")
	}

	a.Observe("channel:general", "u1", "Ana", false)
	select {
	case evt := <-events:
		if p := evt.Payload.(Changed); p.Text != "" {
			t.Fatalf("payload = %+v, want empty text", p)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for typing.changed")
	}
}

func TestAggregatorTargetsIndependent(t *testing.T) {
	b := bus.New()
	a := NewAggregator(b, time.Minute)

	a.Observe("channel:general", "u1", "Ana", true)
	a.Observe("direct:ben", "u2", "Ben", true)

	if got := a.DisplayText("channel:general"); got != "Ana is typing…" {
		t.Fatalf("general = %q", got)
	}
	if got := a.DisplayText("direct:ben"); got != "Ben is typing…" {
		t.Fatalf("direct = %q", got)
	}
}

func TestAggregatorFallsBackToUserID(t *testing.T) {
	b := bus.New()
	a := NewAggregator(b, time.Minute)

	a.Observe("channel:general", "u1", "", true)
	if got := a.DisplayText("channel:general"); got != "u1 is typing…" {
		t.Fatalf("DisplayText = %q", got)
	}
}
