// Package execution owns the debugger's execution-state machine and the
// breakpoint/watchpoint stores consulted when it would suspend.
package execution

import (
	"log/slog"
	"sync"
	"time"

	"github.com/GoCodeAlone/diag/event"
)

// State is the debugger's run mode, independent of the host process's own
// goroutines.
type State string

const (
	Running  State = "running"
	Paused   State = "paused"
	Stepping State = "stepping"
)

// Transition is the payload broadcast on every state change.
type Transition struct {
	From State `json:"from"`
	To   State `json:"to"`
	// Forced marks transitions that bypassed the equality check, such as the
	// pause forced by exception capture.
	Forced bool `json:"forced,omitempty"`
}

// Observer receives state transitions. At most one observer is registered at
// a time; broadcast consumers subscribe to the event bus instead.
type Observer interface {
	ExecutionStateChanged(t Transition)
}

// defaultStepDelay emulates a single step: there is no real
// single-instruction-step primitive, so Stepping lands in Paused after a
// short pause point.
const defaultStepDelay = 300 * time.Millisecond

// Option configures a Controller.
type Option func(*Controller)

// WithStepDelay overrides the simulated single-step delay.
func WithStepDelay(d time.Duration) Option {
	return func(c *Controller) { c.stepDelay = d }
}

// WithLogger sets the controller's logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// Controller owns the execution state. All mutation goes through
// Pause/Resume/Step/ForcePaused; transitions notify the observer and the
// event bus on the serialized dispatcher.
type Controller struct {
	bus        *event.Bus
	dispatcher *event.Dispatcher
	logger     *slog.Logger
	stepDelay  time.Duration

	mu        sync.Mutex
	state     State
	observer  Observer
	stepTimer *time.Timer
	stepSeq   uint64 // invalidates a pending step timer on any later command

	onBreakpoint func(Breakpoint)
	breakpoints  *BreakpointStore
	watchpoints  *WatchSet
}

// NewController creates a Controller in the Running state. Observer
// callbacks and broadcasts are delivered through dispatcher.
func NewController(bus *event.Bus, dispatcher *event.Dispatcher, opts ...Option) *Controller {
	c := &Controller{
		bus:        bus,
		dispatcher: dispatcher,
		logger:     slog.Default(),
		stepDelay:  defaultStepDelay,
		state:      Running,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breakpoints = NewBreakpointStore(c.logger)
	c.watchpoints = NewWatchSet()
	return c
}

// SetObserver installs the single observer. Passing nil clears it.
func (c *Controller) SetObserver(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observer = o
}

// SetBreakpointCallback installs the callback invoked when a breakpoint
// pauses execution.
func (c *Controller) SetBreakpointCallback(fn func(Breakpoint)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onBreakpoint = fn
}

// State returns the current execution state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Breakpoints returns the controller's breakpoint store.
func (c *Controller) Breakpoints() *BreakpointStore { return c.breakpoints }

// Watchpoints returns the controller's watch set.
func (c *Controller) Watchpoints() *WatchSet { return c.watchpoints }

// Pause moves to Paused. A no-op (and no notification) if already paused.
func (c *Controller) Pause() { c.setState(Paused, false) }

// Resume moves to Running. A no-op if already running.
func (c *Controller) Resume() { c.setState(Running, false) }

// ForcePaused moves to Paused unconditionally, notifying even if the state
// did not change. Used by exception capture.
func (c *Controller) ForcePaused() { c.setState(Paused, true) }

// Step enters Stepping, then lands in Paused after the simulated step delay.
// Any Pause/Resume/Step issued before the delay fires cancels the pending
// landing instead of being overwritten by it.
func (c *Controller) Step() {
	c.setState(Stepping, false)

	c.mu.Lock()
	if c.state != Stepping {
		// A racing forced pause won; do not arm the timer.
		c.mu.Unlock()
		return
	}
	// Step while already stepping restarts the landing window.
	c.stepSeq++
	if c.stepTimer != nil {
		c.stepTimer.Stop()
	}
	seq := c.stepSeq
	c.stepTimer = time.AfterFunc(c.stepDelay, func() { c.completeStep(seq) })
	c.mu.Unlock()
}

// completeStep lands a step in Paused unless a later command invalidated it.
func (c *Controller) completeStep(seq uint64) {
	c.mu.Lock()
	if seq != c.stepSeq {
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.setState(Paused, false)
}

// setState applies a transition. When force is false and the state is
// unchanged, nothing happens and nobody is notified.
func (c *Controller) setState(next State, force bool) {
	c.mu.Lock()
	if !force && c.state == next {
		c.mu.Unlock()
		return
	}

	// Any explicit transition invalidates a pending step landing.
	c.stepSeq++
	if c.stepTimer != nil {
		c.stepTimer.Stop()
		c.stepTimer = nil
	}

	t := Transition{From: c.state, To: next, Forced: force}
	c.state = next
	observer := c.observer
	c.mu.Unlock()

	c.logger.Debug("execution state changed", "from", t.From, "to", t.To, "forced", t.Forced)

	// Observer and broadcast both ride the serialized dispatcher so
	// presentation updates never race.
	if observer != nil {
		c.dispatcher.Dispatch(func() { observer.ExecutionStateChanged(t) })
	}
	c.bus.Publish(event.ExecutionStateChanged, t)
}

// CheckBreakpoint asks the breakpoint store whether execution should suspend
// at file:line with the given environment. On a hit the controller pauses and
// the breakpoint callback fires. Returns whether a breakpoint fired.
func (c *Controller) CheckBreakpoint(file string, line int, env map[string]any) bool {
	bp, ok := c.breakpoints.ShouldBreak(file, line, env)
	if !ok {
		return false
	}
	c.Pause()

	c.mu.Lock()
	fn := c.onBreakpoint
	c.mu.Unlock()
	if fn != nil {
		fn(bp)
	}
	c.bus.Publish(event.BreakpointHit, bp)
	return true
}

// UpdateWatch records a new value for a watched identifier. If the value
// changed, a Watchpoint is generated and broadcast.
func (c *Controller) UpdateWatch(id string, value any) {
	wp, triggered := c.watchpoints.Update(id, value)
	if !triggered {
		return
	}
	c.bus.Publish(event.WatchpointTriggered, wp)
}
