// Package logging maps the diagnostic engine's severity levels onto log/slog
// and provides the raw sink used as the last line of defense in the fault
// capture path.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// Severity levels beyond the slog built-ins. The numeric spacing follows the
// slog convention of four units between named levels.
const (
	LevelTrace    = slog.Level(-8)
	LevelDebug    = slog.LevelDebug
	LevelInfo     = slog.LevelInfo
	LevelSuccess  = slog.Level(2)
	LevelWarning  = slog.LevelWarn
	LevelError    = slog.LevelError
	LevelCritical = slog.Level(12)
	LevelFault    = slog.Level(16)
)

var levelNames = map[slog.Level]string{
	LevelTrace:    "TRACE",
	LevelDebug:    "DEBUG",
	LevelInfo:     "INFO",
	LevelSuccess:  "SUCCESS",
	LevelWarning:  "WARN",
	LevelError:    "ERROR",
	LevelCritical: "CRITICAL",
	LevelFault:    "FAULT",
}

// LevelName returns the display name for a level, falling back to the slog
// default for unmapped values.
func LevelName(l slog.Level) string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return l.String()
}

// ParseLevel converts a config-file level name into a slog.Level. Unknown
// names resolve to Info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "trace":
		return LevelTrace
	case "debug":
		return LevelDebug
	case "info":
		return LevelInfo
	case "success":
		return LevelSuccess
	case "warn", "warning":
		return LevelWarning
	case "error":
		return LevelError
	case "critical":
		return LevelCritical
	case "fault":
		return LevelFault
	default:
		return LevelInfo
	}
}

// NewLogger builds a text logger writing to w with the custom level names.
// The returned LevelVar can be adjusted at runtime (config live reload).
func NewLogger(w io.Writer, level slog.Level) (*slog.Logger, *slog.LevelVar) {
	lv := new(slog.LevelVar)
	lv.Set(level)
	h := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: lv,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				if l, ok := a.Value.Any().(slog.Level); ok {
					a.Value = slog.StringValue(LevelName(l))
				}
			}
			return a
		},
	})
	return slog.New(h), lv
}

// RawSink is an append-only writer that must never fail or panic. It is the
// first destination for fault records, written before anything that could
// itself go wrong (structured logging, notification dispatch).
type RawSink struct {
	mu sync.Mutex
	w  io.Writer
}

// NewRawSink creates a RawSink writing to w. A nil w falls back to stderr.
func NewRawSink(w io.Writer) *RawSink {
	if w == nil {
		w = os.Stderr
	}
	return &RawSink{w: w}
}

// Print appends a single timestamped line. Errors from the underlying writer
// are swallowed and panics are recovered: this sink has no failure mode
// visible to callers.
func (s *RawSink) Print(msg string) {
	defer func() { _ = recover() }()
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = fmt.Fprintf(s.w, "%s %s\n", time.Now().UTC().Format(time.RFC3339Nano), msg)
}

// Printf formats and appends a single line with the same guarantees as Print.
func (s *RawSink) Printf(format string, args ...any) {
	s.Print(fmt.Sprintf(format, args...))
}
