package execution

import (
	"reflect"
	"sync"
	"time"
)

// Watchpoint records a single observed value change. Watchpoints are
// transient: they exist only as notification payloads generated at trigger
// time.
type Watchpoint struct {
	ID       string    `json:"id"`
	OldValue any       `json:"old_value"`
	NewValue any       `json:"new_value"`
	At       time.Time `json:"at"`
}

// WatchSet tracks the last seen value for each watched identifier.
type WatchSet struct {
	mu     sync.Mutex
	values map[string]any
}

// NewWatchSet creates an empty WatchSet.
func NewWatchSet() *WatchSet {
	return &WatchSet{values: make(map[string]any)}
}

// Watch starts tracking id with its initial value. Re-watching an id resets
// its baseline without triggering.
func (w *WatchSet) Watch(id string, initial any) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.values[id] = initial
}

// Unwatch stops tracking id.
func (w *WatchSet) Unwatch(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.values, id)
}

// Update records a new value for id. If id is watched and the value differs
// from the last snapshot, a Watchpoint is returned with triggered=true.
func (w *WatchSet) Update(id string, value any) (Watchpoint, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	old, ok := w.values[id]
	if !ok {
		return Watchpoint{}, false
	}
	if reflect.DeepEqual(old, value) {
		return Watchpoint{}, false
	}
	w.values[id] = value
	return Watchpoint{ID: id, OldValue: old, NewValue: value, At: time.Now()}, true
}
