// Package diag wires the diagnostic services into a single engine. All
// services are explicitly constructed here with lifetimes owned by the
// host's startup sequence; there is no ambient global state.
package diag

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/GoCodeAlone/diag/config"
	"github.com/GoCodeAlone/diag/console"
	"github.com/GoCodeAlone/diag/crashloop"
	"github.com/GoCodeAlone/diag/event"
	"github.com/GoCodeAlone/diag/exception"
	"github.com/GoCodeAlone/diag/execution"
	"github.com/GoCodeAlone/diag/featureflag"
	"github.com/GoCodeAlone/diag/introspect"
	"github.com/GoCodeAlone/diag/logging"
	"github.com/GoCodeAlone/diag/metrics"
	"github.com/GoCodeAlone/diag/netlog"
	"github.com/GoCodeAlone/diag/store"
)

// Delegate is the single-subscriber callback surface. All callbacks are
// delivered on the engine's serialized dispatcher.
type Delegate interface {
	ExecutionStateChanged(t execution.Transition)
	BreakpointHit(bp execution.Breakpoint)
	WatchpointTriggered(wp execution.Watchpoint)
	ExceptionCaught(rec exception.Record)
}

// Engine owns the diagnostic services and their shared infrastructure.
type Engine struct {
	Dispatcher *event.Dispatcher
	Bus        *event.Bus
	Store      store.KV
	Flags      *featureflag.Service
	Crash      *crashloop.Tracker
	Controller *execution.Controller
	Exceptions *exception.Handler
	Network    *netlog.Interceptor
	Console    *console.Interpreter
	Types      *introspect.Registry
	Metrics    *metrics.Metrics

	cfg           *config.Config
	logger        *slog.Logger
	unsubs        []func()
	delegateUnsub func()
}

// New constructs the engine from configuration. raw is the never-failing
// sink used by the exception path; nil falls back to stderr.
func New(cfg *config.Config, logger *slog.Logger, raw *logging.RawSink) (*Engine, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if raw == nil {
		raw = logging.NewRawSink(nil)
	}

	kv, err := openStore(cfg.StorePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	dispatcher := event.NewDispatcher(logger)
	bus := event.NewBus(dispatcher, logger)
	m := metrics.New("diag")

	flags, err := featureflag.NewService(context.Background(), kv, cfg.SafeModeDisables, logger)
	if err != nil {
		kv.Close()
		dispatcher.Stop()
		return nil, fmt.Errorf("load feature flags: %w", err)
	}

	crash := crashloop.NewTracker(kv, flags, cfg.SafeModeDisables, crashloop.WithLogger(logger))

	controller := execution.NewController(bus, dispatcher,
		execution.WithStepDelay(cfg.StepDelay()),
		execution.WithLogger(logger),
	)

	handler := exception.NewHandler(raw, logger, controller, crash, bus, dispatcher)

	network := netlog.NewInterceptor(nil, bus,
		netlog.WithLogger(logger),
		netlog.WithMetrics(m),
		netlog.WithMaxBody(cfg.Network.MaxBodyBytes),
	)

	interp := console.New(controller, console.NewHistory(kv),
		console.WithLogger(logger),
		console.WithMetrics(m),
	)

	e := &Engine{
		Dispatcher: dispatcher,
		Bus:        bus,
		Store:      kv,
		Flags:      flags,
		Crash:      crash,
		Controller: controller,
		Exceptions: handler,
		Network:    network,
		Console:    interp,
		Types:      introspect.NewRegistry(logger),
		Metrics:    m,
		cfg:        cfg,
		logger:     logger,
	}
	e.wireMetrics()
	return e, nil
}

func openStore(path string) (store.KV, error) {
	if path == "" || path == ":memory:" {
		// SQLite in-memory still exercises the real schema; MemoryKV is for
		// tests only.
		return store.NewSQLiteKV(":memory:")
	}
	return store.NewSQLiteKV(path)
}

func (e *Engine) wireMetrics() {
	e.unsubs = append(e.unsubs,
		e.Bus.SubscribeTo(event.ExecutionStateChanged, func(evt event.Event) {
			if t, ok := evt.Payload.(execution.Transition); ok {
				e.Metrics.StateTransitions.WithLabelValues(string(t.To)).Inc()
			}
		}),
		e.Bus.SubscribeTo(event.ExceptionCaught, func(event.Event) {
			e.Metrics.ExceptionsCaptured.Inc()
		}),
	)
}

// SetDelegate installs the single delegate, replacing any previous one.
// Passing nil clears it.
func (e *Engine) SetDelegate(d Delegate) {
	if e.delegateUnsub != nil {
		e.delegateUnsub()
		e.delegateUnsub = nil
	}
	if d == nil {
		e.Controller.SetObserver(nil)
		e.Controller.SetBreakpointCallback(nil)
		e.Exceptions.SetObserver(nil)
		return
	}

	e.Controller.SetObserver(observerFunc(func(t execution.Transition) { d.ExecutionStateChanged(t) }))
	e.Controller.SetBreakpointCallback(func(bp execution.Breakpoint) {
		e.Dispatcher.Dispatch(func() { d.BreakpointHit(bp) })
	})
	e.Exceptions.SetObserver(exceptionObserverFunc(func(rec exception.Record) { d.ExceptionCaught(rec) }))
	e.delegateUnsub = e.Bus.SubscribeTo(event.WatchpointTriggered, func(evt event.Event) {
		if wp, ok := evt.Payload.(execution.Watchpoint); ok {
			d.WatchpointTriggered(wp)
		}
	})
}

// Start installs the exception hook, records this launch attempt, and brings
// up the optional interception layer. Call MarkHealthy once the host
// considers the launch stable.
func (e *Engine) Start(ctx context.Context) error {
	e.Exceptions.Install()

	attempts, err := e.Crash.RecordLaunchAttempt(ctx)
	if err != nil {
		return fmt.Errorf("record launch attempt: %w", err)
	}

	if e.Crash.InSafeMode(ctx) {
		e.logger.Warn("starting in safe mode", "attempts", attempts)
	} else {
		e.logger.Info("diagnostic engine started", "attempts", attempts)
		if e.cfg.Network.EnableOnStart {
			e.Network.Enable()
		}
	}
	return nil
}

// MarkHealthy tells the crash-loop tracker this launch succeeded.
func (e *Engine) MarkHealthy(ctx context.Context) error {
	return e.Crash.MarkLaunchSuccessful(ctx)
}

// Close releases all resources. The dispatcher drains before stopping so
// queued notifications still land.
func (e *Engine) Close() error {
	for _, unsub := range e.unsubs {
		unsub()
	}
	if e.delegateUnsub != nil {
		e.delegateUnsub()
	}
	e.Crash.Close()
	e.Dispatcher.Stop()
	return e.Store.Close()
}

type observerFunc func(execution.Transition)

func (f observerFunc) ExecutionStateChanged(t execution.Transition) { f(t) }

type exceptionObserverFunc func(exception.Record)

func (f exceptionObserverFunc) ExceptionCaught(rec exception.Record) { f(rec) }
