// Package event provides the serialized dispatch context and the broadcast
// channel that diagnostic services notify observers through. All observer
// callbacks run on a single goroutine so presentation code never races
// concurrent state changes.
package event

import (
	"log/slog"
	"sync"
)

// Dispatcher is a single-goroutine serial execution queue, the equivalent of
// a UI main queue. Work submitted with Dispatch runs in submission order.
type Dispatcher struct {
	logger *slog.Logger
	work   chan func()

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewDispatcher creates and starts a Dispatcher.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		logger: logger,
		work:   make(chan func(), 256),
		done:   make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case fn := <-d.work:
			d.invoke(fn)
		case <-d.done:
			// Drain anything already queued before exiting.
			for {
				select {
				case fn := <-d.work:
					d.invoke(fn)
				default:
					return
				}
			}
		}
	}
}

// invoke runs fn, recovering panics so one misbehaving observer cannot take
// down the dispatch loop.
func (d *Dispatcher) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatched callback panicked", "panic", r)
		}
	}()
	fn()
}

// Dispatch enqueues fn for serialized execution. It never blocks the caller:
// if the queue is full or the dispatcher is stopped, fn is dropped with a
// warning.
func (d *Dispatcher) Dispatch(fn func()) {
	select {
	case <-d.done:
		d.logger.Warn("dispatch after stop, callback dropped")
	default:
		select {
		case d.work <- fn:
		default:
			d.logger.Warn("dispatch queue full, callback dropped")
		}
	}
}

// Flush blocks until everything queued before the call has executed. Intended
// for tests and shutdown paths.
func (d *Dispatcher) Flush() {
	ch := make(chan struct{})
	d.Dispatch(func() { close(ch) })
	select {
	case <-ch:
	case <-d.done:
	}
}

// Stop shuts the dispatcher down after draining queued work. Safe to call
// more than once.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() { close(d.done) })
	d.wg.Wait()
}
