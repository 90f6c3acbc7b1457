package event

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Name identifies a broadcast event.
type Name string

// Events published by the diagnostic services.
const (
	ExecutionStateChanged  Name = "executionStateChanged"
	ExceptionCaught        Name = "exceptionCaught"
	BreakpointHit          Name = "breakpointHit"
	WatchpointTriggered    Name = "watchpointTriggered"
	NetworkRequestAdded    Name = "networkRequestAdded"
	NetworkRequestUpdated  Name = "networkRequestUpdated"
	NetworkRequestsCleared Name = "networkRequestsCleared"
	SafeModeEntered        Name = "safeModeEntered"
)

// Event pairs a name with its payload record.
type Event struct {
	Name    Name `json:"name"`
	Payload any  `json:"payload,omitempty"`
}

// Bus fans events out to subscribers. Callbacks are invoked on the Bus's
// Dispatcher, so subscribers observe events serialized and in publish order.
type Bus struct {
	dispatcher *Dispatcher
	logger     *slog.Logger

	mu          sync.RWMutex
	subscribers map[uint64]subscription
	nextID      atomic.Uint64
}

type subscription struct {
	name Name // empty matches every event
	fn   func(Event)
}

// NewBus creates a Bus delivering through the given dispatcher.
func NewBus(dispatcher *Dispatcher, logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{
		dispatcher:  dispatcher,
		logger:      logger,
		subscribers: make(map[uint64]subscription),
	}
}

// Subscribe registers fn for every event. The returned function cancels the
// subscription.
func (b *Bus) Subscribe(fn func(Event)) (cancel func()) {
	return b.subscribe("", fn)
}

// SubscribeTo registers fn for events with the given name only.
func (b *Bus) SubscribeTo(name Name, fn func(Event)) (cancel func()) {
	return b.subscribe(name, fn)
}

func (b *Bus) subscribe(name Name, fn func(Event)) func() {
	id := b.nextID.Add(1)
	b.mu.Lock()
	b.subscribers[id] = subscription{name: name, fn: fn}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
	}
}

// Publish delivers the event to all matching subscribers via the dispatcher.
func (b *Bus) Publish(name Name, payload any) {
	evt := Event{Name: name, Payload: payload}

	b.mu.RLock()
	targets := make([]func(Event), 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		if sub.name == "" || sub.name == name {
			targets = append(targets, sub.fn)
		}
	}
	b.mu.RUnlock()

	if len(targets) == 0 {
		return
	}
	b.dispatcher.Dispatch(func() {
		for _, fn := range targets {
			fn(evt)
		}
	})
}
