// Package ratelimit implements a per-client sliding-window request counter.
//
// For a window W and a per-client limit L, the (L+1)-th request inside any
// trailing W-second window is rejected; a rejected request does not consume
// a slot (per spec.md §9's open-question resolution), so recovery after a
// burst is immediate once the window empties rather than delayed by the
// rejected attempts themselves.
package ratelimit

import (
	"sync"
	"time"
)

// Decision is the result of a Check call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetSec  int64 // seconds until the oldest request in the window ages out
}

// bucket is one client's recent-request timestamp list, truncated to the
// window on every access. Access is serialized by its own mutex so bucket
// mutation never contends with the limiter's global map lock.
type bucket struct {
	mu        sync.Mutex
	timestamps []time.Time
	lastSeen  time.Time
}

// Limiter is a sliding-window limiter shared across all clients. Map
// lookups and structural changes (inserting or evicting a bucket) take the
// global lock; append/prune of an existing bucket's timestamps takes only
// that bucket's own lock, so concurrent requests from different clients
// share nothing but the brief map lookup (spec.md §5).
type Limiter struct {
	window    time.Duration
	idleTTL   time.Duration
	now       func() time.Time
	mu        sync.Mutex
	buckets   map[string]*bucket
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides the limiter's time source; used by tests to simulate
// window expiry without sleeping.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithIdleEviction sets how long an idle client's bucket survives before it
// is eligible for eviction by Evict. Long-running processes should call
// Evict periodically (see spec.md §9 "Rate-limiter growth").
func WithIdleEviction(ttl time.Duration) Option {
	return func(l *Limiter) { l.idleTTL = ttl }
}

// New creates a Limiter with the given sliding window (typically 60s).
func New(window time.Duration, opts ...Option) *Limiter {
	l := &Limiter{
		window:  window,
		idleTTL: 30 * time.Minute,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Check consults and updates the sliding window for clientID against limit
// requests per window. It never blocks; it decides immediately.
func (l *Limiter) Check(clientID string, limit int) Decision {
	b := l.getOrCreateBucket(clientID)

	b.mu.Lock()
	defer b.mu.Unlock()

	now := l.now()
	b.lastSeen = now
	cutoff := now.Add(-l.window)

	pruned := b.timestamps[:0]
	for _, ts := range b.timestamps {
		if ts.After(cutoff) {
			pruned = append(pruned, ts)
		}
	}
	b.timestamps = pruned

	if len(b.timestamps) >= limit {
		oldest := b.timestamps[0]
		reset := oldest.Add(l.window).Sub(now)
		if reset < 0 {
			reset = 0
		}
		return Decision{
			Allowed:   false,
			Limit:     limit,
			Remaining: 0,
			ResetSec:  int64(reset.Seconds()) + 1,
		}
	}

	b.timestamps = append(b.timestamps, now)
	remaining := limit - len(b.timestamps)
	resetSec := int64(l.window.Seconds())
	if len(b.timestamps) > 0 {
		resetSec = int64(b.timestamps[0].Add(l.window).Sub(now).Seconds()) + 1
	}
	return Decision{
		Allowed:   true,
		Limit:     limit,
		Remaining: remaining,
		ResetSec:  resetSec,
	}
}

func (l *Limiter) getOrCreateBucket(clientID string) *bucket {
	l.mu.Lock()
	b, ok := l.buckets[clientID]
	if !ok {
		b = &bucket{lastSeen: l.now()}
		l.buckets[clientID] = b
	}
	l.mu.Unlock()
	return b
}

// Evict removes buckets that have been idle longer than the configured TTL.
// Safe to call periodically from a background goroutine in long-running
// deployments; in stateless function-based deployments it is unnecessary
// since each invocation starts with an empty Limiter (spec.md §9).
func (l *Limiter) Evict() {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, b := range l.buckets {
		b.mu.Lock()
		idle := now.Sub(b.lastSeen)
		b.mu.Unlock()
		if idle > l.idleTTL {
			delete(l.buckets, id)
		}
	}
}

// RunEvictionLoop evicts idle buckets every interval until stop is closed.
func (l *Limiter) RunEvictionLoop(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			l.Evict()
		case <-stop:
			return
		}
	}
}
