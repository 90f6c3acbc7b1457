// Package console implements the text command interpreter driving the
// execution controller and reporting host diagnostics.
package console

import (
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/GoCodeAlone/diag/metrics"
)

// ExecutionControl is the slice of the execution controller the interpreter
// drives.
type ExecutionControl interface {
	Pause()
	Resume()
	Step()
}

// Option configures an Interpreter.
type Option func(*Interpreter)

// WithLogger sets the interpreter's logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Interpreter) { i.logger = l }
}

// WithMetrics wires the per-verb command counter.
func WithMetrics(m *metrics.Metrics) Option {
	return func(i *Interpreter) { i.metrics = m }
}

// Interpreter dispatches single-line text commands.
type Interpreter struct {
	ctrl    ExecutionControl
	history *History
	logger  *slog.Logger
	metrics *metrics.Metrics
	started time.Time
}

// New creates an Interpreter. history may be shared with other surfaces.
func New(ctrl ExecutionControl, history *History, opts ...Option) *Interpreter {
	i := &Interpreter{
		ctrl:    ctrl,
		history: history,
		logger:  slog.Default(),
		started: time.Now(),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// History returns the interpreter's command history.
func (i *Interpreter) History() *History { return i.history }

// Execute runs a single command line and returns its output. Dispatch is on
// the first whitespace-separated token, case-insensitively. Empty input
// returns "Empty command" and is not recorded in history.
func (i *Interpreter) Execute(command string) string {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return "Empty command"
	}

	i.history.Push(trimmed)

	token := strings.Fields(trimmed)[0]
	verb := strings.ToLower(token)
	if i.metrics != nil {
		i.metrics.CommandsExecuted.WithLabelValues(verb).Inc()
	}
	i.logger.Debug("console command", "verb", verb)

	switch verb {
	case "help":
		return i.help()
	case "memory":
		return i.memory()
	case "cpu":
		return i.cpu()
	case "device":
		return i.device()
	case "pause":
		i.ctrl.Pause()
		return "Execution paused"
	case "resume":
		i.ctrl.Resume()
		return "Execution resumed"
	case "step":
		i.ctrl.Step()
		return "Stepped"
	default:
		return fmt.Sprintf("Unknown command: %s", token)
	}
}

func (i *Interpreter) help() string {
	return strings.Join([]string{
		"Available commands:",
		"  help    - show this help",
		"  memory  - heap and GC statistics",
		"  cpu     - CPU and goroutine counts",
		"  device  - host platform information",
		"  pause   - pause execution",
		"  resume  - resume execution",
		"  step    - single step, then pause",
	}, "\n")
}

func (i *Interpreter) memory() string {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return fmt.Sprintf(
		"Memory: alloc=%s sys=%s heap_objects=%d gc_runs=%d next_gc=%s",
		formatBytes(ms.Alloc),
		formatBytes(ms.Sys),
		ms.HeapObjects,
		ms.NumGC,
		formatBytes(ms.NextGC),
	)
}

func (i *Interpreter) cpu() string {
	return fmt.Sprintf(
		"CPU: cores=%d gomaxprocs=%d goroutines=%d cgo_calls=%d",
		runtime.NumCPU(),
		runtime.GOMAXPROCS(0),
		runtime.NumGoroutine(),
		runtime.NumCgoCall(),
	)
}

func (i *Interpreter) device() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}
	return fmt.Sprintf(
		"Device: host=%s os=%s arch=%s go=%s pid=%d uptime=%s",
		hostname,
		runtime.GOOS,
		runtime.GOARCH,
		runtime.Version(),
		os.Getpid(),
		time.Since(i.started).Round(time.Second),
	)
}

func formatBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%dB", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
