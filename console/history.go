package console

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/GoCodeAlone/diag/store"
)

// historyKey is where History persists itself in the key-value store.
const historyKey = "commandHistory"

// maxHistory caps retained entries.
const maxHistory = 100

// History is the ordered command history, most-recent-first. Consecutive
// duplicates are collapsed; only the immediately preceding entry is
// considered for deduplication.
type History struct {
	mu      sync.Mutex
	entries []string
	kv      store.KV // optional persistence
}

// NewHistory creates a History, loading persisted entries when kv is
// non-nil.
func NewHistory(kv store.KV) *History {
	h := &History{kv: kv}
	if kv != nil {
		if raw, ok, err := kv.GetString(context.Background(), historyKey); err == nil && ok {
			// Corrupt persisted history is silently discarded.
			_ = json.Unmarshal([]byte(raw), &h.entries)
			if len(h.entries) > maxHistory {
				h.entries = h.entries[:maxHistory]
			}
		}
	}
	return h
}

// Push records a command at the front. A command equal to the most recent
// entry is dropped.
func (h *History) Push(cmd string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.entries) > 0 && h.entries[0] == cmd {
		return
	}
	h.entries = append([]string{cmd}, h.entries...)
	if len(h.entries) > maxHistory {
		h.entries = h.entries[:maxHistory]
	}
	h.persistLocked()
}

// Entries returns a copy, most-recent-first.
func (h *History) Entries() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, len(h.entries))
	copy(out, h.entries)
	return out
}

// Clear empties the history.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = nil
	h.persistLocked()
}

func (h *History) persistLocked() {
	if h.kv == nil {
		return
	}
	raw, err := json.Marshal(h.entries)
	if err != nil {
		return
	}
	// History persistence is best-effort; a failed write never surfaces.
	_ = h.kv.SetString(context.Background(), historyKey, string(raw))
}
