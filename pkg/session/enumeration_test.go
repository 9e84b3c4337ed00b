package session

import (
	"testing"
	"time"
)

func TestEnumerationThreshold(t *testing.T) {
	st := newTestStore(t)
	guard := NewEnumerationGuard(st, 5, 10*time.Minute)
	st.Touch("s1", "tenant-a", "widget", "visitor-1")

	// Four misses stay below the threshold
	for i := 1; i <= 4; i++ {
		res := guard.RecordNotFound("s1")
		if res.Blocked {
			t.Fatalf("miss %d should not block", i)
		}
		if res.Count != i {
			t.Errorf("miss %d: expected count %d, got %d", i, i, res.Count)
		}
	}

	// The fifth miss trips the guard, exactly once
	res := guard.RecordNotFound("s1")
	if !res.Blocked {
		t.Fatal("fifth miss should block")
	}
	if !res.Tripped {
		t.Error("fifth miss should report the trip")
	}

	// Further misses stay blocked but never re-trip
	res = guard.RecordNotFound("s1")
	if !res.Blocked {
		t.Error("block must be monotonic")
	}
	if res.Tripped {
		t.Error("trip must be reported exactly once")
	}
}

func TestEnumerationWindowSlides(t *testing.T) {
	st := newTestStore(t)
	guard := NewEnumerationGuard(st, 5, 10*time.Minute)
	st.Touch("s1", "tenant-a", "widget", "visitor-1")

	for i := 0; i < 4; i++ {
		guard.RecordNotFound("s1")
	}

	// Age all misses past the window
	st.mu.Lock()
	for i := range st.sessions["s1"].NotFoundTimes {
		st.sessions["s1"].NotFoundTimes[i] = time.Now().Add(-11 * time.Minute)
	}
	st.mu.Unlock()

	res := guard.RecordNotFound("s1")
	if res.Blocked {
		t.Error("old misses outside the window must not count toward the threshold")
	}
	if res.Count != 1 {
		t.Errorf("expected count 1 after window slide, got %d", res.Count)
	}
}

func TestEnumerationBlockIsSticky(t *testing.T) {
	st := newTestStore(t)
	guard := NewEnumerationGuard(st, 3, 10*time.Minute)
	st.Touch("s1", "tenant-a", "widget", "visitor-1")

	for i := 0; i < 3; i++ {
		guard.RecordNotFound("s1")
	}
	if !guard.IsBlocked("s1") {
		t.Fatal("expected blocked after threshold")
	}

	// Even with the window fully drained, the block survives
	st.mu.Lock()
	st.sessions["s1"].NotFoundTimes = nil
	st.mu.Unlock()

	if !guard.IsBlocked("s1") {
		t.Error("block must survive window expiry until an explicit reset")
	}
}

func TestEnumerationIndependentSessions(t *testing.T) {
	st := newTestStore(t)
	guard := NewEnumerationGuard(st, 3, 10*time.Minute)
	st.Touch("s1", "tenant-a", "widget", "visitor-1")
	st.Touch("s2", "tenant-a", "widget", "visitor-2")

	for i := 0; i < 3; i++ {
		guard.RecordNotFound("s1")
	}

	if guard.IsBlocked("s2") {
		t.Error("one session's misses must not block another")
	}
	if res := guard.RecordNotFound("s2"); res.Blocked {
		t.Error("fresh session should be far from the threshold")
	}
}
