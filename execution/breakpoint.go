package execution

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Breakpoint is a point where execution should pause. The optional Condition
// is an expression evaluated against the environment supplied at check time;
// when set, the breakpoint only fires if it evaluates to true.
type Breakpoint struct {
	ID        string `json:"id"`
	File      string `json:"file"`
	Line      int    `json:"line"`
	Condition string `json:"condition,omitempty"`
	Enabled   bool   `json:"enabled"`
	HitCount  int64  `json:"hit_count"`
}

// breakpointKey returns the map key for a file/line pair.
func breakpointKey(file string, line int) string {
	return fmt.Sprintf("%s:%d", file, line)
}

// BreakpointStore manages breakpoints keyed by "file:line".
type BreakpointStore struct {
	mu          sync.Mutex
	breakpoints map[string]*Breakpoint
	programs    map[string]*vm.Program // compiled conditions, same key
	nextID      int64
	logger      *slog.Logger
}

// NewBreakpointStore creates an empty store.
func NewBreakpointStore(logger *slog.Logger) *BreakpointStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &BreakpointStore{
		breakpoints: make(map[string]*Breakpoint),
		programs:    make(map[string]*vm.Program),
		logger:      logger,
	}
}

// Set adds or replaces the breakpoint at file:line. An invalid condition
// expression is rejected.
func (s *BreakpointStore) Set(file string, line int, condition string) (Breakpoint, error) {
	var program *vm.Program
	if condition != "" {
		var err error
		program, err = expr.Compile(condition, expr.AsBool())
		if err != nil {
			return Breakpoint{}, fmt.Errorf("compile condition %q: %w", condition, err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	key := breakpointKey(file, line)
	bp := &Breakpoint{
		ID:        fmt.Sprintf("bp-%d", s.nextID),
		File:      file,
		Line:      line,
		Condition: condition,
		Enabled:   true,
	}
	s.breakpoints[key] = bp
	if program != nil {
		s.programs[key] = program
	} else {
		delete(s.programs, key)
	}

	s.logger.Info("breakpoint set", "id", bp.ID, "file", file, "line", line, "condition", condition)
	return *bp, nil
}

// Remove deletes the breakpoint at file:line. Returns false if none existed.
func (s *BreakpointStore) Remove(file string, line int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := breakpointKey(file, line)
	if _, ok := s.breakpoints[key]; !ok {
		return false
	}
	delete(s.breakpoints, key)
	delete(s.programs, key)
	s.logger.Info("breakpoint removed", "file", file, "line", line)
	return true
}

// SetEnabled toggles the breakpoint at file:line without removing it.
// Returns false if no breakpoint exists there.
func (s *BreakpointStore) SetEnabled(file string, line int, enabled bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	bp, ok := s.breakpoints[breakpointKey(file, line)]
	if !ok {
		return false
	}
	bp.Enabled = enabled
	return true
}

// List returns all breakpoints ordered by file then line.
func (s *BreakpointStore) List() []Breakpoint {
	s.mu.Lock()
	defer s.mu.Unlock()

	bps := make([]Breakpoint, 0, len(s.breakpoints))
	for _, bp := range s.breakpoints {
		bps = append(bps, *bp)
	}
	sort.Slice(bps, func(i, j int) bool {
		if bps[i].File != bps[j].File {
			return bps[i].File < bps[j].File
		}
		return bps[i].Line < bps[j].Line
	})
	return bps
}

// Clear removes every breakpoint.
func (s *BreakpointStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.breakpoints = make(map[string]*Breakpoint)
	s.programs = make(map[string]*vm.Program)
}

// ShouldBreak reports whether an enabled breakpoint at file:line fires for
// the given environment. A condition that fails to evaluate is treated as
// false rather than an error; breakpoint probing must never take the host
// down.
func (s *BreakpointStore) ShouldBreak(file string, line int, env map[string]any) (Breakpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := breakpointKey(file, line)
	bp, ok := s.breakpoints[key]
	if !ok || !bp.Enabled {
		return Breakpoint{}, false
	}

	if program, hasCond := s.programs[key]; hasCond {
		out, err := expr.Run(program, env)
		if err != nil {
			s.logger.Warn("breakpoint condition failed", "id", bp.ID, "error", err)
			return Breakpoint{}, false
		}
		if pass, _ := out.(bool); !pass {
			return Breakpoint{}, false
		}
	}

	bp.HitCount++
	return *bp, true
}
