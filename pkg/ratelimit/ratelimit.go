// Package ratelimit provides named fixed-window rate limiting for the
// gateway. Each limiter (webhook, api, auth) tracks counts per identifier
// inside a fixed window; the window resets once its close has passed.
package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrUnknownLimiter is returned when Allow is called with a limiter name
// that was never registered.
var ErrUnknownLimiter = errors.New("ratelimit: unknown limiter")

// Limit defines a fixed-window budget for one named limiter.
type Limit struct {
	Max    int           // Requests allowed per window
	Window time.Duration // Window length
}

// Decision is the outcome of a single Allow call.
type Decision struct {
	Allowed   bool      // Whether the request fits in the current window
	Remaining int       // Requests left in the window (0 when rejected)
	ResetAt   time.Time // When the current window closes
}

// window tracks one identifier's count inside the current fixed window.
type window struct {
	start time.Time
	count int
}

// Registry holds all named limiters and their per-identifier windows.
// Suitable for single-node deployments; all limiters share one lock
// since Allow is a short critical section.
type Registry struct {
	mu      sync.Mutex
	limits  map[string]Limit
	windows map[string]map[string]*window

	sweepInterval time.Duration

	// Sweep goroutine control
	stopSweep chan struct{}
	sweepOnce sync.Once
}

// Option is a functional option for configuring the Registry.
type Option func(*Registry)

// WithSweepInterval sets how often idle identifiers are evicted.
func WithSweepInterval(d time.Duration) Option {
	return func(r *Registry) {
		r.sweepInterval = d
	}
}

// New creates a rate limiter registry and starts its background sweep.
func New(opts ...Option) *Registry {
	r := &Registry{
		limits:        make(map[string]Limit),
		windows:       make(map[string]map[string]*window),
		sweepInterval: 1 * time.Minute,
		stopSweep:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(r)
	}

	go r.sweepLoop()

	return r
}

// Register adds or replaces a named limiter. Replacing a limiter clears
// its tracked identifiers so stale windows cannot outlive a config change.
func (r *Registry) Register(name string, max int, windowLen time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.limits[name] = Limit{Max: max, Window: windowLen}
	r.windows[name] = make(map[string]*window)
}

// Allow records one request for identifier under the named limiter and
// reports whether it fits in the current window. The count is incremented
// even on rejection, so the caller sees a consistent ResetAt for retry
// hints across repeated over-limit calls.
func (r *Registry) Allow(limiter, identifier string) (Decision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	limit, ok := r.limits[limiter]
	if !ok {
		return Decision{}, fmt.Errorf("%w: %s", ErrUnknownLimiter, limiter)
	}

	ids := r.windows[limiter]
	now := time.Now()

	w, ok := ids[identifier]
	if !ok || now.After(w.start.Add(limit.Window)) {
		w = &window{start: now}
		ids[identifier] = w
	}

	w.count++
	resetAt := w.start.Add(limit.Window)

	if w.count > limit.Max {
		return Decision{Allowed: false, Remaining: 0, ResetAt: resetAt}, nil
	}
	return Decision{Allowed: true, Remaining: limit.Max - w.count, ResetAt: resetAt}, nil
}

// Reset clears all tracked identifiers across all limiters. Limiter
// definitions survive. Used by tests and admin maintenance.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for name := range r.windows {
		r.windows[name] = make(map[string]*window)
	}
}

// Close stops the sweep goroutine.
func (r *Registry) Close() {
	r.sweepOnce.Do(func() {
		close(r.stopSweep)
	})
}

// sweepLoop periodically evicts idle identifiers.
func (r *Registry) sweepLoop() {
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

// sweep removes identifiers idle for more than one full window beyond
// their window close. A still-active identifier re-creates its entry on
// the next Allow, so eviction never loses live counts.
func (r *Registry) sweep() {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	for name, ids := range r.windows {
		limit := r.limits[name]
		for id, w := range ids {
			if now.Sub(w.start) > 2*limit.Window {
				delete(ids, id)
			}
		}
	}
}

// Stats returns current registry statistics.
func (r *Registry) Stats() RegistryStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := RegistryStats{
		Limiters: len(r.limits),
	}

	for _, ids := range r.windows {
		stats.TrackedKeys += len(ids)
	}

	return stats
}

// RegistryStats contains limiter registry statistics.
type RegistryStats struct {
	Limiters    int `json:"limiters"`
	TrackedKeys int `json:"tracked_keys"` // Identifiers currently tracked
}
