package session

import (
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	st := NewStore(
		WithTTL(1*time.Hour),
		WithSweepInterval(1*time.Hour),
		WithAbuseWindow(10*time.Minute),
	)
	t.Cleanup(st.Close)
	return st
}

func TestTouchCreatesAndCounts(t *testing.T) {
	st := newTestStore(t)

	if got := st.Touch("s1", "tenant-a", "widget", "visitor-1"); got != 1 {
		t.Errorf("first touch: expected turn count 1, got %d", got)
	}
	if got := st.Touch("s1", "tenant-a", "widget", "visitor-1"); got != 2 {
		t.Errorf("second touch: expected turn count 2, got %d", got)
	}

	snap, ok := st.Snapshot("s1")
	if !ok {
		t.Fatal("expected snapshot for live session")
	}
	if snap.TenantID != "tenant-a" || snap.Channel != "widget" || snap.ExternalUserID != "visitor-1" {
		t.Errorf("identity fields not recorded: %+v", snap)
	}
}

func TestExpiredSessionTreatedAsGone(t *testing.T) {
	st := newTestStore(t)
	st.Touch("s1", "tenant-a", "widget", "visitor-1")

	st.mu.Lock()
	st.sessions["s1"].LastSeenAt = time.Now().Add(-2 * time.Hour)
	st.mu.Unlock()

	if _, ok := st.Snapshot("s1"); ok {
		t.Error("expired session should read as gone")
	}

	// A fresh touch starts the session over
	if got := st.Touch("s1", "tenant-a", "widget", "visitor-1"); got != 1 {
		t.Errorf("expected fresh session with turn count 1, got %d", got)
	}
}

func TestExpiryClearsLock(t *testing.T) {
	st := newTestStore(t)
	locks := NewLockRegistry(st, time.Minute)

	st.Touch("s1", "tenant-a", "widget", "visitor-1")
	locks.Lock("s1", LockReasonAbuse)

	if locked, _ := locks.IsLocked("s1"); !locked {
		t.Fatal("session should be locked")
	}

	st.mu.Lock()
	st.sessions["s1"].LastSeenAt = time.Now().Add(-2 * time.Hour)
	st.mu.Unlock()

	// TTL expiry is the non-admin unlock path
	if locked, _ := locks.IsLocked("s1"); locked {
		t.Error("expired session should no longer report locked")
	}
}

func TestSweepEvictsExpired(t *testing.T) {
	st := newTestStore(t)
	st.Touch("stale", "tenant-a", "widget", "visitor-1")
	st.Touch("live", "tenant-a", "widget", "visitor-2")

	st.mu.Lock()
	st.sessions["stale"].LastSeenAt = time.Now().Add(-2 * time.Hour)
	st.mu.Unlock()

	st.sweep()

	stats := st.Stats()
	if stats.SessionCount != 1 {
		t.Errorf("expected 1 session after sweep, got %d", stats.SessionCount)
	}
	if _, ok := st.Snapshot("live"); !ok {
		t.Error("live session should survive the sweep")
	}
}

func TestDeleteIsSessionReset(t *testing.T) {
	st := newTestStore(t)
	machine := NewMachine(st, OrderFlow, 3, 15*time.Minute)

	st.Touch("s1", "tenant-a", "widget", "visitor-1")
	machine.Begin("s1")
	machine.CollectSlot("s1", SlotOrderNumber, "AB-12345")
	machine.CollectSlot("s1", SlotEmail, "jane@example.com")
	machine.CollectSlot("s1", SlotPostalCode, "90210")
	machine.AttemptVerify("s1", CandidateRecord{
		SubjectID: "order-77",
		Fields: map[string]string{
			SlotOrderNumber: "AB-12345",
			SlotEmail:       "jane@example.com",
			SlotPostalCode:  "90210",
		},
	})

	if got := machine.State("s1"); got.Status != VerifyVerified {
		t.Fatalf("expected verified before reset, got %s", got.Status)
	}

	st.Delete("s1")

	if got := machine.State("s1"); got.Status != VerifyNone {
		t.Errorf("session reset should drop verified status, got %s", got.Status)
	}
}

func TestRecordAbuseWindow(t *testing.T) {
	st := newTestStore(t)
	st.Touch("s1", "tenant-a", "widget", "visitor-1")

	if got := st.RecordAbuse("s1", 2); got != 2 {
		t.Errorf("expected total 2, got %d", got)
	}
	if got := st.RecordAbuse("s1", 1); got != 3 {
		t.Errorf("expected total 3, got %d", got)
	}

	// Age the first event out of the trailing window
	st.mu.Lock()
	st.sessions["s1"].Abuse.Events[0].At = time.Now().Add(-11 * time.Minute)
	st.mu.Unlock()

	if got := st.AbuseTotal("s1"); got != 1 {
		t.Errorf("expected total 1 after window slide, got %d", got)
	}
}

func TestStoreReset(t *testing.T) {
	st := newTestStore(t)
	st.Touch("s1", "tenant-a", "widget", "visitor-1")
	st.Touch("s2", "tenant-a", "widget", "visitor-2")

	st.Reset()

	if got := st.Stats().SessionCount; got != 0 {
		t.Errorf("expected 0 sessions after reset, got %d", got)
	}
}

func TestStats(t *testing.T) {
	st := newTestStore(t)
	locks := NewLockRegistry(st, time.Minute)

	st.Touch("s1", "tenant-a", "widget", "visitor-1")
	st.Touch("s2", "tenant-a", "widget", "visitor-2")
	st.Touch("s2", "tenant-a", "widget", "visitor-2")
	locks.Lock("s2", LockReasonEnumeration)

	stats := st.Stats()
	if stats.SessionCount != 2 {
		t.Errorf("expected 2 sessions, got %d", stats.SessionCount)
	}
	if stats.LockedCount != 1 {
		t.Errorf("expected 1 locked session, got %d", stats.LockedCount)
	}
	if stats.TotalTurns != 3 {
		t.Errorf("expected 3 total turns, got %d", stats.TotalTurns)
	}
}
