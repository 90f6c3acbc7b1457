package execution

import (
	"sync"
	"testing"
	"time"

	"github.com/GoCodeAlone/diag/event"
)

type recordingObserver struct {
	mu          sync.Mutex
	transitions []Transition
}

func (r *recordingObserver) ExecutionStateChanged(t Transition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, t)
}

func (r *recordingObserver) all() []Transition {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Transition, len(r.transitions))
	copy(out, r.transitions)
	return out
}

func newTestController(t *testing.T, stepDelay time.Duration) (*Controller, *event.Dispatcher) {
	t.Helper()
	d := event.NewDispatcher(nil)
	t.Cleanup(d.Stop)
	bus := event.NewBus(d, nil)
	return NewController(bus, d, WithStepDelay(stepDelay)), d
}

func TestControllerInitialState(t *testing.T) {
	c, _ := newTestController(t, time.Millisecond)
	if c.State() != Running {
		t.Fatalf("expected initial state running, got %s", c.State())
	}
}

func TestPauseResumeNotifyOnlyOnChange(t *testing.T) {
	c, d := newTestController(t, time.Millisecond)
	obs := &recordingObserver{}
	c.SetObserver(obs)

	c.Pause()
	c.Pause() // repeat: no transition, no notification
	c.Resume()
	c.Resume()
	d.Flush()

	got := obs.all()
	if len(got) != 2 {
		t.Fatalf("expected 2 transitions, got %d: %+v", len(got), got)
	}
	if got[0].From != Running || got[0].To != Paused {
		t.Errorf("unexpected first transition: %+v", got[0])
	}
	if got[1].From != Paused || got[1].To != Running {
		t.Errorf("unexpected second transition: %+v", got[1])
	}
}

func TestStepLandsInPaused(t *testing.T) {
	c, d := newTestController(t, 10*time.Millisecond)

	c.Step()
	if c.State() != Stepping {
		t.Fatalf("expected stepping, got %s", c.State())
	}

	deadline := time.Now().Add(time.Second)
	for c.State() != Paused {
		if time.Now().After(deadline) {
			t.Fatalf("step never landed in paused, state %s", c.State())
		}
		time.Sleep(time.Millisecond)
	}
	d.Flush()
}

func TestStepCancelledByLaterCommand(t *testing.T) {
	c, d := newTestController(t, 20*time.Millisecond)
	obs := &recordingObserver{}
	c.SetObserver(obs)

	c.Step()
	c.Resume() // cancels the pending step landing

	time.Sleep(60 * time.Millisecond)
	d.Flush()

	if c.State() != Running {
		t.Fatalf("expected running after resume, got %s", c.State())
	}
	for _, tr := range obs.all() {
		if tr.From == Running && tr.To == Paused {
			t.Errorf("cancelled step still landed: %+v", tr)
		}
	}
}

func TestForcePausedAlwaysNotifies(t *testing.T) {
	c, d := newTestController(t, time.Millisecond)
	obs := &recordingObserver{}
	c.SetObserver(obs)

	c.Pause()
	c.ForcePaused() // same state, but forced: must notify
	d.Flush()

	got := obs.all()
	if len(got) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(got))
	}
	if !got[1].Forced {
		t.Error("expected second transition to be marked forced")
	}
}

func TestBroadcastOnBus(t *testing.T) {
	d := event.NewDispatcher(nil)
	defer d.Stop()
	bus := event.NewBus(d, nil)
	c := NewController(bus, d, WithStepDelay(time.Millisecond))

	var mu sync.Mutex
	var events []event.Event
	cancel := bus.SubscribeTo(event.ExecutionStateChanged, func(evt event.Event) {
		mu.Lock()
		events = append(events, evt)
		mu.Unlock()
	})
	defer cancel()

	c.Pause()
	d.Flush()

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 {
		t.Fatalf("expected 1 broadcast, got %d", len(events))
	}
	tr, ok := events[0].Payload.(Transition)
	if !ok {
		t.Fatalf("unexpected payload type %T", events[0].Payload)
	}
	if tr.To != Paused {
		t.Errorf("expected transition to paused, got %s", tr.To)
	}
}

func TestCheckBreakpointPausesAndCallsBack(t *testing.T) {
	c, d := newTestController(t, time.Millisecond)

	var mu sync.Mutex
	var hits []Breakpoint
	c.SetBreakpointCallback(func(bp Breakpoint) {
		mu.Lock()
		hits = append(hits, bp)
		mu.Unlock()
	})

	if _, err := c.Breakpoints().Set("main.go", 42, ""); err != nil {
		t.Fatalf("set breakpoint: %v", err)
	}

	if !c.CheckBreakpoint("main.go", 42, nil) {
		t.Fatal("expected breakpoint to fire")
	}
	if c.State() != Paused {
		t.Errorf("expected paused after breakpoint, got %s", c.State())
	}
	if c.CheckBreakpoint("main.go", 99, nil) {
		t.Error("breakpoint fired for wrong line")
	}

	d.Flush()
	mu.Lock()
	defer mu.Unlock()
	if len(hits) != 1 {
		t.Fatalf("expected 1 breakpoint callback, got %d", len(hits))
	}
	if hits[0].File != "main.go" || hits[0].Line != 42 {
		t.Errorf("unexpected breakpoint payload: %+v", hits[0])
	}
}

func TestWatchpointTriggeredOnChange(t *testing.T) {
	d := event.NewDispatcher(nil)
	defer d.Stop()
	bus := event.NewBus(d, nil)
	c := NewController(bus, d)

	var mu sync.Mutex
	var triggered []Watchpoint
	cancel := bus.SubscribeTo(event.WatchpointTriggered, func(evt event.Event) {
		if wp, ok := evt.Payload.(Watchpoint); ok {
			mu.Lock()
			triggered = append(triggered, wp)
			mu.Unlock()
		}
	})
	defer cancel()

	c.Watchpoints().Watch("counter", 1)
	c.UpdateWatch("counter", 1) // unchanged: no trigger
	c.UpdateWatch("counter", 2)
	c.UpdateWatch("unwatched", 5)
	d.Flush()

	mu.Lock()
	defer mu.Unlock()
	if len(triggered) != 1 {
		t.Fatalf("expected 1 watchpoint, got %d", len(triggered))
	}
	if triggered[0].OldValue != 1 || triggered[0].NewValue != 2 {
		t.Errorf("unexpected watchpoint values: %+v", triggered[0])
	}
}
