// Package crashloop tracks repeated crash-like launches and flips the
// persisted safe-mode flag once a threshold is crossed. Safe mode disables a
// configured set of risky feature flags until the user explicitly exits it.
package crashloop

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/GoCodeAlone/diag/featureflag"
	"github.com/GoCodeAlone/diag/store"
)

// Persisted keys in the durable key-value store.
const (
	KeyLaunchAttempts = "launchAttempts"
	KeyInSafeMode     = "inSafeMode"
)

const (
	// maxLaunchAttempts is a hard ceiling on the persisted counter.
	maxLaunchAttempts = 10
	// safeModeThreshold is the attempt count at which safe mode engages.
	safeModeThreshold = 3
	// defaultReverifyDelay is how long after MarkLaunchSuccessful the counter
	// is re-checked and re-reset.
	defaultReverifyDelay = 5 * time.Second
)

// Mode is the tracker's state.
type Mode string

const (
	ModeNormal   Mode = "normal"
	ModeSafeMode Mode = "safemode"
)

// Option configures a Tracker.
type Option func(*Tracker)

// WithReverifyDelay overrides the delayed re-verification window.
func WithReverifyDelay(d time.Duration) Option {
	return func(t *Tracker) { t.reverifyDelay = d }
}

// WithLogger sets the tracker's logger.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// OnSafeMode registers a callback invoked once when safe mode engages.
func OnSafeMode(fn func()) Option {
	return func(t *Tracker) { t.onSafeMode = fn }
}

// Tracker is the crash-loop state machine over {Normal, SafeMode}.
type Tracker struct {
	kv            store.KV
	flags         *featureflag.Service
	disableKeys   []string // feature flags force-disabled on entering safe mode
	logger        *slog.Logger
	reverifyDelay time.Duration
	onSafeMode    func()

	mu            sync.Mutex
	successMarked bool
	reverifyTimer *time.Timer
}

// NewTracker creates a Tracker. disableKeys names the feature flags that get
// force-disabled when safe mode engages.
func NewTracker(kv store.KV, flags *featureflag.Service, disableKeys []string, opts ...Option) *Tracker {
	t := &Tracker{
		kv:            kv,
		flags:         flags,
		disableKeys:   disableKeys,
		logger:        slog.Default(),
		reverifyDelay: defaultReverifyDelay,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// InSafeMode reports whether the persisted safe-mode flag is set.
func (t *Tracker) InSafeMode(ctx context.Context) bool {
	v, ok, err := t.kv.GetBool(ctx, KeyInSafeMode)
	if err != nil {
		t.logger.Error("read safe-mode flag", "error", err)
		return false
	}
	return ok && v
}

// Mode returns the current state.
func (t *Tracker) Mode(ctx context.Context) Mode {
	if t.InSafeMode(ctx) {
		return ModeSafeMode
	}
	return ModeNormal
}

// Attempts returns the persisted launch-attempt counter, clamped to a safe
// range. Negative or corrupt values read as 0.
func (t *Tracker) Attempts(ctx context.Context) int {
	n, _, err := t.kv.GetInt(ctx, KeyLaunchAttempts)
	if err != nil {
		t.logger.Error("read launch attempts", "error", err)
		return 0
	}
	return clamp(n)
}

// RecordLaunchAttempt increments the persisted counter, clamped to the hard
// ceiling, and engages safe mode when the threshold is reached. Already in
// safe mode it does nothing at all: the counter stops moving. The new counter
// value is returned.
func (t *Tracker) RecordLaunchAttempt(ctx context.Context) (int, error) {
	if t.InSafeMode(ctx) {
		return t.Attempts(ctx), nil
	}

	n := clamp(t.Attempts(ctx) + 1)
	if err := t.kv.SetInt(ctx, KeyLaunchAttempts, n); err != nil {
		return n, err
	}
	t.logger.Debug("launch attempt recorded", "attempts", n)

	if n >= safeModeThreshold {
		if err := t.enterSafeMode(ctx); err != nil {
			return n, err
		}
	}
	return n, nil
}

func (t *Tracker) enterSafeMode(ctx context.Context) error {
	if err := t.kv.SetBool(ctx, KeyInSafeMode, true); err != nil {
		return err
	}
	// Entering safe mode is real crash evidence; the pending success
	// re-verification must not wipe it.
	t.mu.Lock()
	t.successMarked = false
	t.mu.Unlock()
	if t.flags != nil && len(t.disableKeys) > 0 {
		if err := t.flags.ForceDisable(ctx, t.disableKeys...); err != nil {
			t.logger.Error("force-disable flags for safe mode", "error", err)
		}
	}
	t.logger.Warn("safe mode engaged", "disabled_flags", t.disableKeys)
	if t.onSafeMode != nil {
		t.onSafeMode()
	}
	return nil
}

// MarkLaunchSuccessful resets the counter to 0 immediately and schedules a
// delayed re-verification that resets it again, wiping any spurious increment
// that landed in the interim. The re-verification is skipped if safe mode
// engaged since, so real crash evidence survives.
func (t *Tracker) MarkLaunchSuccessful(ctx context.Context) error {
	if err := t.kv.SetInt(ctx, KeyLaunchAttempts, 0); err != nil {
		return err
	}
	t.logger.Debug("launch marked successful")

	t.mu.Lock()
	t.successMarked = true
	if t.reverifyTimer != nil {
		t.reverifyTimer.Stop()
	}
	t.reverifyTimer = time.AfterFunc(t.reverifyDelay, func() {
		t.mu.Lock()
		still := t.successMarked
		t.mu.Unlock()
		if !still {
			return
		}
		if err := t.kv.SetInt(context.Background(), KeyLaunchAttempts, 0); err != nil {
			t.logger.Error("re-verify launch counter", "error", err)
		}
	})
	t.mu.Unlock()
	return nil
}

// DisableSafeMode clears both the flag and the counter. Feature flags are
// read once at startup, so the caller must force a full process restart for
// this to take effect.
func (t *Tracker) DisableSafeMode(ctx context.Context) error {
	if err := t.kv.SetBool(ctx, KeyInSafeMode, false); err != nil {
		return err
	}
	if err := t.kv.SetInt(ctx, KeyLaunchAttempts, 0); err != nil {
		return err
	}
	t.logger.Info("safe mode cleared, restart required")
	return nil
}

// Close stops any pending re-verification timer.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.reverifyTimer != nil {
		t.reverifyTimer.Stop()
		t.reverifyTimer = nil
	}
}

func clamp(n int) int {
	if n < 0 {
		return 0
	}
	if n > maxLaunchAttempts {
		return maxLaunchAttempts
	}
	return n
}
