package session

import (
	"testing"
	"time"
)

func TestLockTransition(t *testing.T) {
	st := newTestStore(t)
	locks := NewLockRegistry(st, time.Minute)
	st.Touch("s1", "tenant-a", "widget", "visitor-1")

	if locked, _ := locks.IsLocked("s1"); locked {
		t.Fatal("fresh session should be unlocked")
	}

	if first := locks.Lock("s1", LockReasonAbuse); !first {
		t.Error("first lock should report the transition")
	}

	locked, reason := locks.IsLocked("s1")
	if !locked {
		t.Fatal("session should be locked")
	}
	if reason != LockReasonAbuse {
		t.Errorf("expected reason %s, got %s", LockReasonAbuse, reason)
	}
}

func TestRelockIsNoOp(t *testing.T) {
	st := newTestStore(t)
	locks := NewLockRegistry(st, time.Minute)
	st.Touch("s1", "tenant-a", "widget", "visitor-1")

	locks.Lock("s1", LockReasonAbuse)

	st.mu.RLock()
	originalAt := st.sessions["s1"].LockedAt
	st.mu.RUnlock()

	time.Sleep(5 * time.Millisecond)

	if again := locks.Lock("s1", LockReasonEnumeration); again {
		t.Error("re-lock should not report a transition")
	}

	locked, reason := locks.IsLocked("s1")
	if !locked || reason != LockReasonAbuse {
		t.Errorf("original reason must survive re-lock, got locked=%v reason=%s", locked, reason)
	}

	st.mu.RLock()
	keptAt := st.sessions["s1"].LockedAt
	st.mu.RUnlock()
	if !keptAt.Equal(originalAt) {
		t.Error("original lock timestamp must survive re-lock")
	}
}

func TestShouldNotifyOncePerCooldown(t *testing.T) {
	st := newTestStore(t)
	locks := NewLockRegistry(st, time.Minute)
	st.Touch("s1", "tenant-a", "widget", "visitor-1")
	locks.Lock("s1", LockReasonAbuse)

	// Three messages in quick succession get exactly one notice
	notices := 0
	for i := 0; i < 3; i++ {
		if locks.ShouldNotify("s1") {
			notices++
		}
	}
	if notices != 1 {
		t.Errorf("expected exactly 1 notice, got %d", notices)
	}

	// After the cooldown passes, one more notice is due
	st.mu.Lock()
	st.sessions["s1"].LastNoticeAt = time.Now().Add(-2 * time.Minute)
	st.mu.Unlock()

	if !locks.ShouldNotify("s1") {
		t.Error("expected a notice after the cooldown")
	}
	if locks.ShouldNotify("s1") {
		t.Error("second notice within cooldown should be suppressed")
	}
}

func TestShouldNotifyUnlockedSession(t *testing.T) {
	st := newTestStore(t)
	locks := NewLockRegistry(st, time.Minute)
	st.Touch("s1", "tenant-a", "widget", "visitor-1")

	if locks.ShouldNotify("s1") {
		t.Error("unlocked session should never notify")
	}
}

func TestUnlockClearsCounters(t *testing.T) {
	st := newTestStore(t)
	locks := NewLockRegistry(st, time.Minute)
	guard := NewEnumerationGuard(st, 3, 10*time.Minute)
	st.Touch("s1", "tenant-a", "widget", "visitor-1")

	st.RecordAbuse("s1", 2)
	for i := 0; i < 3; i++ {
		guard.RecordNotFound("s1")
	}
	locks.Lock("s1", LockReasonEnumeration)

	found, wasLocked := locks.Unlock("s1")
	if !found || !wasLocked {
		t.Fatalf("expected found and wasLocked, got %v %v", found, wasLocked)
	}

	if locked, _ := locks.IsLocked("s1"); locked {
		t.Error("session should be unlocked")
	}
	if guard.IsBlocked("s1") {
		t.Error("unlock should clear the enumeration block")
	}
	if got := st.AbuseTotal("s1"); got != 0 {
		t.Errorf("unlock should clear the abuse counter, got %d", got)
	}

	// The next miss starts counting from zero
	if res := guard.RecordNotFound("s1"); res.Count != 1 || res.Blocked {
		t.Errorf("expected fresh count after unlock, got %+v", res)
	}
}

func TestUnlockUnknownSession(t *testing.T) {
	st := newTestStore(t)
	locks := NewLockRegistry(st, time.Minute)

	found, wasLocked := locks.Unlock("nope")
	if found || wasLocked {
		t.Errorf("expected not found, got %v %v", found, wasLocked)
	}
}
