// Package featureflag provides a small persisted feature-flag service. Flags
// default to enabled; overrides are written through the durable key-value
// store so that safe mode's force-disables survive a restart and are visible
// at the next launch.
package featureflag

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/GoCodeAlone/diag/store"
)

// keyPrefix namespaces flag overrides inside the shared KV store.
const keyPrefix = "feature."

// ChangeEvent is emitted whenever a flag's enabled state changes.
type ChangeEvent struct {
	Key     string `json:"key"`
	Enabled bool   `json:"enabled"`
	Source  string `json:"source"` // "user" or "safemode"
}

// Flag is the externally visible state of a single flag.
type Flag struct {
	Key     string `json:"key"`
	Enabled bool   `json:"enabled"`
}

// Service evaluates and mutates flags. It keeps an in-memory view loaded at
// construction; flags are typically read once at startup, which is why
// exiting safe mode requires a process restart to re-enable features.
type Service struct {
	kv     store.KV
	logger *slog.Logger

	mu        sync.RWMutex
	overrides map[string]bool

	subMu       sync.RWMutex
	subscribers map[uint64]func(ChangeEvent)
	nextID      atomic.Uint64
}

// NewService creates a Service and loads persisted overrides for the given
// known flag keys.
func NewService(ctx context.Context, kv store.KV, known []string, logger *slog.Logger) (*Service, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		kv:          kv,
		logger:      logger,
		overrides:   make(map[string]bool),
		subscribers: make(map[uint64]func(ChangeEvent)),
	}
	for _, key := range known {
		enabled, ok, err := kv.GetBool(ctx, keyPrefix+key)
		if err != nil {
			return nil, err
		}
		if ok {
			s.overrides[key] = enabled
		}
	}
	return s, nil
}

// Enabled reports whether a flag is on. Flags with no persisted override
// default to enabled.
func (s *Service) Enabled(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if v, ok := s.overrides[key]; ok {
		return v
	}
	return true
}

// SetEnabled persists a user-driven override and notifies subscribers.
func (s *Service) SetEnabled(ctx context.Context, key string, enabled bool) error {
	return s.set(ctx, key, enabled, "user")
}

// ForceDisable turns the named flags off on behalf of safe mode.
func (s *Service) ForceDisable(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if err := s.set(ctx, key, false, "safemode"); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) set(ctx context.Context, key string, enabled bool, source string) error {
	if err := s.kv.SetBool(ctx, keyPrefix+key, enabled); err != nil {
		return err
	}
	s.mu.Lock()
	s.overrides[key] = enabled
	s.mu.Unlock()

	s.logger.Info("flag changed", "key", key, "enabled", enabled, "source", source)
	s.broadcast(ChangeEvent{Key: key, Enabled: enabled, Source: source})
	return nil
}

// All returns the current view of every flag that has an override, sorted by
// key.
func (s *Service) All() []Flag {
	s.mu.RLock()
	flags := make([]Flag, 0, len(s.overrides))
	for k, v := range s.overrides {
		flags = append(flags, Flag{Key: strings.TrimPrefix(k, keyPrefix), Enabled: v})
	}
	s.mu.RUnlock()

	sort.Slice(flags, func(i, j int) bool { return flags[i].Key < flags[j].Key })
	return flags
}

// Subscribe registers a callback invoked on every flag change. The returned
// function cancels the subscription.
func (s *Service) Subscribe(fn func(ChangeEvent)) (cancel func()) {
	id := s.nextID.Add(1)
	s.subMu.Lock()
	s.subscribers[id] = fn
	s.subMu.Unlock()

	return func() {
		s.subMu.Lock()
		delete(s.subscribers, id)
		s.subMu.Unlock()
	}
}

func (s *Service) broadcast(evt ChangeEvent) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, fn := range s.subscribers {
		fn(evt)
	}
}
