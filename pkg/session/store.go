package session

import (
	"sync"
	"time"
)

// ============================================================================
// IN-MEMORY SESSION STORE
// ============================================================================
// Thread-safe session storage with TTL-based eviction. A session that goes
// idle past the TTL is treated as gone, which is also how locks expire
// without an admin reset: the next turn from that user starts fresh.
//
// Features:
//   - Concurrent-safe access shared by all registries in this package
//   - Automatic inactivity expiration (default: 1 hour)
//   - Rolling abuse counter maintenance
//   - Snapshot copies for admin surfaces

// Store implements single-node in-memory session storage. For distributed
// deployments, put a sticky session router in front of the gateway.
type Store struct {
	sessions map[string]*Session
	mu       sync.RWMutex

	// Configuration
	ttl           time.Duration // Session inactivity TTL (default: 1 hour)
	sweepInterval time.Duration // Sweep period (default: 1 minute)
	abuseWindow   time.Duration // Trailing window for abuse totals (default: 10 minutes)

	// Sweep goroutine control
	stopSweep chan struct{}
	sweepOnce sync.Once
}

// StoreOption is a functional option for configuring the Store.
type StoreOption func(*Store)

// WithTTL sets the inactivity TTL before a session is treated as gone.
func WithTTL(d time.Duration) StoreOption {
	return func(s *Store) {
		s.ttl = d
	}
}

// WithSweepInterval sets how often the eviction routine runs.
func WithSweepInterval(d time.Duration) StoreOption {
	return func(s *Store) {
		s.sweepInterval = d
	}
}

// WithAbuseWindow sets the trailing window for the rolling abuse counter.
func WithAbuseWindow(d time.Duration) StoreOption {
	return func(s *Store) {
		s.abuseWindow = d
	}
}

// NewStore creates a session store and starts its background sweep.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		sessions:      make(map[string]*Session),
		ttl:           1 * time.Hour,
		sweepInterval: 1 * time.Minute,
		abuseWindow:   10 * time.Minute,
		stopSweep:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	go s.sweepLoop()

	return s
}

// Touch records an inbound turn for the given identity, creating the
// session if absent or expired, and returns the updated turn count.
func (st *Store) Touch(id, tenantID, channel, externalUserID string) int {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := time.Now()
	s, ok := st.sessions[id]
	if !ok || now.Sub(s.LastSeenAt) > st.ttl {
		s = &Session{ID: id, CreatedAt: now}
		st.sessions[id] = s
	}
	if s.TenantID == "" {
		s.TenantID = tenantID
		s.Channel = channel
		s.ExternalUserID = externalUserID
	}
	s.LastSeenAt = now
	s.TurnCount++
	return s.TurnCount
}

// getLocked returns the live session for id, or nil if absent or expired.
// Caller must hold st.mu. Expired sessions are left for the sweep.
func (st *Store) getLocked(id string) *Session {
	s, ok := st.sessions[id]
	if !ok {
		return nil
	}
	if time.Since(s.LastSeenAt) > st.ttl {
		// Stale, treat as not found. Actual eviction happens in sweepLoop.
		return nil
	}
	return s
}

// getOrCreateLocked returns the live session for id, creating a fresh one
// if absent or expired. Caller must hold st.mu.
func (st *Store) getOrCreateLocked(id string) *Session {
	now := time.Now()
	s, ok := st.sessions[id]
	if !ok || now.Sub(s.LastSeenAt) > st.ttl {
		s = &Session{ID: id, CreatedAt: now, LastSeenAt: now}
		st.sessions[id] = s
	}
	return s
}

// Snapshot returns a copy of the session state for admin surfaces.
func (st *Store) Snapshot(id string) (Snapshot, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	s := st.getLocked(id)
	if s == nil {
		return Snapshot{}, false
	}
	return s.snapshot(time.Now(), st.abuseWindow), true
}

// RecordAbuse adds one weighted event to the session's rolling abuse
// counter and returns the trailing-window total in half-point units.
func (st *Store) RecordAbuse(id string, weight int) int {
	st.mu.Lock()
	defer st.mu.Unlock()

	s := st.getOrCreateLocked(id)
	return s.Abuse.Add(time.Now(), weight, st.abuseWindow)
}

// AbuseTotal returns the current trailing-window abuse total without
// recording anything.
func (st *Store) AbuseTotal(id string) int {
	st.mu.Lock()
	defer st.mu.Unlock()

	s := st.getLocked(id)
	if s == nil {
		return 0
	}
	return s.Abuse.Total(time.Now(), st.abuseWindow)
}

// Delete removes a session. This is the session reset: verification
// status, lock state, and counters all go with it.
func (st *Store) Delete(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	delete(st.sessions, id)
}

// Reset clears all sessions. Used by tests and process teardown.
func (st *Store) Reset() {
	st.mu.Lock()
	defer st.mu.Unlock()

	st.sessions = make(map[string]*Session)
}

// Close stops the sweep goroutine.
func (st *Store) Close() {
	st.sweepOnce.Do(func() {
		close(st.stopSweep)
	})
}

// sweepLoop periodically removes expired sessions.
func (st *Store) sweepLoop() {
	ticker := time.NewTicker(st.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			st.sweep()
		case <-st.stopSweep:
			return
		}
	}
}

// sweep removes expired sessions.
func (st *Store) sweep() {
	st.mu.Lock()
	defer st.mu.Unlock()

	now := time.Now()
	for id, s := range st.sessions {
		if now.Sub(s.LastSeenAt) > st.ttl {
			delete(st.sessions, id)
		}
	}
}

// Stats returns current session store statistics.
func (st *Store) Stats() StoreStats {
	st.mu.RLock()
	defer st.mu.RUnlock()

	stats := StoreStats{
		SessionCount: len(st.sessions),
	}

	for _, s := range st.sessions {
		stats.TotalTurns += s.TurnCount
		if s.Locked {
			stats.LockedCount++
		}
		if s.Verification.Status == VerifyVerified {
			stats.VerifiedCount++
		}
	}

	return stats
}

// StoreStats contains session store statistics.
type StoreStats struct {
	SessionCount  int `json:"session_count"`
	LockedCount   int `json:"locked_count"`
	VerifiedCount int `json:"verified_count"`
	TotalTurns    int `json:"total_turns"`
}
