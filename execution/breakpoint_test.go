package execution

import (
	"testing"
)

func TestSetAndListBreakpoints(t *testing.T) {
	s := NewBreakpointStore(nil)

	if _, err := s.Set("b.go", 10, ""); err != nil {
		t.Fatalf("set: %v", err)
	}
	if _, err := s.Set("a.go", 5, ""); err != nil {
		t.Fatalf("set: %v", err)
	}

	bps := s.List()
	if len(bps) != 2 {
		t.Fatalf("expected 2 breakpoints, got %d", len(bps))
	}
	if bps[0].File != "a.go" || bps[1].File != "b.go" {
		t.Errorf("expected list sorted by file, got %s then %s", bps[0].File, bps[1].File)
	}
	if !bps[0].Enabled {
		t.Error("expected new breakpoint enabled")
	}
}

func TestRemoveBreakpoint(t *testing.T) {
	s := NewBreakpointStore(nil)
	if _, err := s.Set("a.go", 1, ""); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !s.Remove("a.go", 1) {
		t.Fatal("expected removal to succeed")
	}
	if s.Remove("a.go", 1) {
		t.Error("expected second removal to report missing")
	}
	if len(s.List()) != 0 {
		t.Error("expected empty store after removal")
	}
}

func TestDisabledBreakpointDoesNotFire(t *testing.T) {
	s := NewBreakpointStore(nil)
	if _, err := s.Set("a.go", 1, ""); err != nil {
		t.Fatalf("set: %v", err)
	}
	if !s.SetEnabled("a.go", 1, false) {
		t.Fatal("expected disable to find the breakpoint")
	}
	if _, fired := s.ShouldBreak("a.go", 1, nil); fired {
		t.Error("disabled breakpoint fired")
	}
	s.SetEnabled("a.go", 1, true)
	if _, fired := s.ShouldBreak("a.go", 1, nil); !fired {
		t.Error("re-enabled breakpoint did not fire")
	}
}

func TestBreakpointCondition(t *testing.T) {
	s := NewBreakpointStore(nil)
	if _, err := s.Set("a.go", 1, "count > 3"); err != nil {
		t.Fatalf("set with condition: %v", err)
	}

	if _, fired := s.ShouldBreak("a.go", 1, map[string]any{"count": 2}); fired {
		t.Error("condition false but breakpoint fired")
	}
	bp, fired := s.ShouldBreak("a.go", 1, map[string]any{"count": 5})
	if !fired {
		t.Fatal("condition true but breakpoint did not fire")
	}
	if bp.HitCount != 1 {
		t.Errorf("expected hit count 1, got %d", bp.HitCount)
	}
}

func TestInvalidConditionRejected(t *testing.T) {
	s := NewBreakpointStore(nil)
	if _, err := s.Set("a.go", 1, "count >"); err == nil {
		t.Fatal("expected error for invalid condition expression")
	}
}

func TestConditionEvaluationFailureIsFalse(t *testing.T) {
	s := NewBreakpointStore(nil)
	if _, err := s.Set("a.go", 1, "count > 3"); err != nil {
		t.Fatalf("set: %v", err)
	}
	// Missing env key: evaluation fails, breakpoint must not fire and must
	// not panic.
	if _, fired := s.ShouldBreak("a.go", 1, map[string]any{}); fired {
		t.Error("breakpoint fired despite failed condition evaluation")
	}
}

func TestHitCountAccumulates(t *testing.T) {
	s := NewBreakpointStore(nil)
	if _, err := s.Set("a.go", 1, ""); err != nil {
		t.Fatalf("set: %v", err)
	}
	for i := 0; i < 3; i++ {
		s.ShouldBreak("a.go", 1, nil)
	}
	if got := s.List()[0].HitCount; got != 3 {
		t.Errorf("expected hit count 3, got %d", got)
	}
}
