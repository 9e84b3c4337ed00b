package audit

import (
	"context"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/TryMightyAI/rampart/pkg/httputil"
)

// ============================================================================
// RECORDER - deduplicating, non-blocking security event writer
// ============================================================================

const (
	defaultDedupeWindow  = 60 * time.Second
	defaultSweepInterval = time.Minute
	defaultMaxInflight   = 32
	writeTimeout         = 5 * time.Second
)

// Recorder sits between the turn pipeline and the event store. Repeats
// of the same (type, ip, endpoint, tenant) tuple within the dedupe
// window are counted but not persisted, so a retry storm produces one
// row instead of thousands. Writes happen on background goroutines and
// never block or fail the calling turn.
type Recorder struct {
	store EventStore

	window        time.Duration
	sweepInterval time.Duration

	mu       sync.Mutex
	lastSeen map[string]time.Time

	sem *httputil.Semaphore
	wg  sync.WaitGroup

	recorded    atomic.Int64
	suppressed  atomic.Int64
	writeErrors atomic.Int64

	stopSweep chan struct{}
	sweepOnce sync.Once
}

// RecorderOption configures a Recorder
type RecorderOption func(*Recorder)

// WithDedupeWindow sets how long repeats of a tuple are suppressed
func WithDedupeWindow(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.window = d
		}
	}
}

// WithSweepInterval sets how often stale dedupe entries are evicted
func WithSweepInterval(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.sweepInterval = d
		}
	}
}

// WithMaxInflight caps concurrent background writes
func WithMaxInflight(n int) RecorderOption {
	return func(r *Recorder) {
		if n > 0 {
			r.sem = httputil.NewSemaphore(n)
		}
	}
}

// NewRecorder creates a recorder writing to store and starts its
// sweep loop. Callers must Close it to drain in-flight writes.
func NewRecorder(store EventStore, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:         store,
		window:        defaultDedupeWindow,
		sweepInterval: defaultSweepInterval,
		lastSeen:      make(map[string]time.Time),
		sem:           httputil.NewSemaphore(defaultMaxInflight),
		stopSweep:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}

	go r.sweepLoop()
	return r
}

// Record persists the event unless an event with the same dedupe tuple
// was already persisted within the window. Returns true when the event
// was accepted for persistence, false when suppressed as a repeat.
// Either way the caller proceeds, persistence failures are internal.
func (r *Recorder) Record(event SecurityEvent) bool {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}

	key := event.dedupeKey()
	now := time.Now()

	r.mu.Lock()
	if last, ok := r.lastSeen[key]; ok && now.Sub(last) < r.window {
		r.mu.Unlock()
		r.suppressed.Add(1)
		return false
	}
	r.lastSeen[key] = now
	r.mu.Unlock()

	r.recorded.Add(1)
	r.wg.Add(1)
	go r.persist(event)
	return true
}

func (r *Recorder) persist(event SecurityEvent) {
	defer r.wg.Done()

	if err := r.sem.Acquire(context.Background()); err != nil {
		r.writeErrors.Add(1)
		return
	}
	defer r.sem.Release()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := r.store.Insert(ctx, event); err != nil {
		r.writeErrors.Add(1)
		log.Printf("[WARN] Failed to persist security event %s (%s): %v", event.ID, event.Type, err)
	}
}

// sweepLoop evicts dedupe entries old enough to be irrelevant
func (r *Recorder) sweepLoop() {
	ticker := time.NewTicker(r.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.sweep()
		case <-r.stopSweep:
			return
		}
	}
}

func (r *Recorder) sweep() {
	cutoff := time.Now().Add(-2 * r.window)

	r.mu.Lock()
	defer r.mu.Unlock()
	for key, seen := range r.lastSeen {
		if seen.Before(cutoff) {
			delete(r.lastSeen, key)
		}
	}
}

// Close stops the sweep loop and waits for in-flight writes to finish
func (r *Recorder) Close() {
	r.sweepOnce.Do(func() {
		close(r.stopSweep)
	})
	r.wg.Wait()
}

// RecorderStats exposes recorder counters for the health endpoint
type RecorderStats struct {
	Recorded    int64 `json:"recorded"`
	Suppressed  int64 `json:"suppressed"`
	WriteErrors int64 `json:"write_errors"`
	TrackedKeys int   `json:"tracked_keys"`
}

// Stats returns a snapshot of recorder counters
func (r *Recorder) Stats() RecorderStats {
	r.mu.Lock()
	tracked := len(r.lastSeen)
	r.mu.Unlock()

	return RecorderStats{
		Recorded:    r.recorded.Load(),
		Suppressed:  r.suppressed.Load(),
		WriteErrors: r.writeErrors.Load(),
		TrackedKeys: tracked,
	}
}
