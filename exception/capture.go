// Package exception converts uncaught faults into immutable records, logs
// them, forces the execution controller into a safe paused state, and feeds
// the crash-loop tracker. The capture path is the last line of defense: no
// step in it may itself crash the process.
package exception

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/GoCodeAlone/diag/event"
	"github.com/GoCodeAlone/diag/logging"
)

// Record is an immutable description of a captured fault.
type Record struct {
	ID       string            `json:"id"`
	Name     string            `json:"name"`
	Reason   string            `json:"reason"`
	Metadata map[string]string `json:"metadata,omitempty"`
	Frames   []string          `json:"frames"`
	At       time.Time         `json:"at"`
}

// Pauser is what the handler forces into a paused state on capture.
// Implemented by execution.Controller.
type Pauser interface {
	ForcePaused()
}

// CrashRecorder receives the deferred crash-loop update. The update must not
// reset the attempt counter; RecordLaunchAttempt satisfies that.
type CrashRecorder interface {
	RecordLaunchAttempt(ctx context.Context) (int, error)
}

// Observer receives captured records. At most one is registered at a time.
type Observer interface {
	ExceptionCaught(rec Record)
}

// Handler is the process-wide fault capture hook.
type Handler struct {
	raw        *logging.RawSink
	logger     *slog.Logger
	pauser     Pauser
	crash      CrashRecorder
	bus        *event.Bus
	dispatcher *event.Dispatcher

	installOnce sync.Once
	installed   bool

	mu       sync.Mutex
	observer Observer
	captured []Record
}

// NewHandler wires the capture path. raw must never fail; it is written
// before anything else.
func NewHandler(raw *logging.RawSink, logger *slog.Logger, pauser Pauser, crash CrashRecorder, bus *event.Bus, dispatcher *event.Dispatcher) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		raw:        raw,
		logger:     logger,
		pauser:     pauser,
		crash:      crash,
		bus:        bus,
		dispatcher: dispatcher,
	}
}

// Install marks the handler as the process-wide hook. Calling it again is a
// no-op. Go has no global uncaught-panic callback, so installation hands out
// the Guard entry point the host defers at its goroutine boundaries.
func (h *Handler) Install() {
	h.installOnce.Do(func() {
		h.installed = true
		h.logger.Info("exception handler installed")
	})
}

// Installed reports whether Install has run.
func (h *Handler) Installed() bool { return h.installed }

// SetObserver installs the single observer. Passing nil clears it.
func (h *Handler) SetObserver(o Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.observer = o
}

// Captured returns copies of every record captured so far, oldest first.
func (h *Handler) Captured() []Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Record, len(h.captured))
	copy(out, h.captured)
	return out
}

// Guard recovers a panic on the current goroutine and routes it through
// Capture. Use as:
//
//	defer handler.Guard("worker")
func (h *Handler) Guard(name string) {
	if r := recover(); r != nil {
		h.Capture(name, r, callStack(2))
	}
}

// Capture converts a recovered fault into a Record and runs the full capture
// sequence: raw sink, structured log, forced pause, then deferred crash-loop
// update and observer/broadcast dispatch. Secondary failures inside this path
// are swallowed into the raw sink; Capture itself never panics.
func (h *Handler) Capture(name string, recovered any, frames []string) Record {
	defer func() {
		if r := recover(); r != nil {
			// The handler's own failure goes to the raw sink only.
			h.raw.Printf("exception handler failed: %v", r)
		}
	}()

	rec := Record{
		ID:     uuid.NewString(),
		Name:   name,
		Reason: fmt.Sprint(recovered),
		Metadata: map[string]string{
			"goroutines": fmt.Sprint(runtime.NumGoroutine()),
		},
		Frames: frames,
		At:     time.Now(),
	}

	// Raw sink first: it has no failure mode.
	h.raw.Printf("FAULT %s: %s", rec.Name, rec.Reason)

	h.logger.Log(context.Background(), logging.LevelFault, "uncaught exception",
		"id", rec.ID,
		"name", rec.Name,
		"reason", rec.Reason,
		"frames", len(rec.Frames),
	)

	if h.pauser != nil {
		h.pauser.ForcePaused()
	}

	h.mu.Lock()
	h.captured = append(h.captured, rec)
	observer := h.observer
	h.mu.Unlock()

	// Crash-loop update and notification are deferred to the serialized
	// context; neither blocks the faulting goroutine.
	h.dispatcher.Dispatch(func() {
		if h.crash != nil {
			if _, err := h.crash.RecordLaunchAttempt(context.Background()); err != nil {
				h.raw.Printf("crash-loop update failed: %v", err)
			}
		}
		if observer != nil {
			observer.ExceptionCaught(rec)
		}
	})
	h.bus.Publish(event.ExceptionCaught, rec)

	return rec
}

// callStack collects the current goroutine's frames, skipping the innermost
// skip frames plus the runtime machinery.
func callStack(skip int) []string {
	pcs := make([]uintptr, 64)
	n := runtime.Callers(skip+2, pcs)
	if n == 0 {
		return nil
	}
	cf := runtime.CallersFrames(pcs[:n])
	var frames []string
	for {
		f, more := cf.Next()
		if f.Function != "" && !strings.HasPrefix(f.Function, "runtime.") {
			frames = append(frames, fmt.Sprintf("%s (%s:%d)", f.Function, f.File, f.Line))
		}
		if !more {
			break
		}
	}
	return frames
}
