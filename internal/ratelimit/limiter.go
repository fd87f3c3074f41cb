package ratelimit

import (
	"context"
	"log"
	"sync"
	"time"
)

// window tracks attempts for one (identifier, endpoint) key.
type window struct {
	attemptCount int
	windowStart  time.Time
	blockedUntil time.Time
}

// Limiter is an in-memory attempt limiter keyed by (identifier, endpoint).
// Once a key exceeds the per-window maximum it is blocked for the configured
// block duration. State lives in process memory; this is a single-instance
// design.
type Limiter struct {
	mu       sync.Mutex
	windows  map[string]*window
	max      int
	window   time.Duration
	block    time.Duration
	now      func() time.Time
}

// New creates a Limiter allowing max attempts per window; further attempts
// are denied for the block duration.
func New(max int, windowLen, block time.Duration) *Limiter {
	return &Limiter{
		windows: make(map[string]*window),
		max:     max,
		window:  windowLen,
		block:   block,
		now:     time.Now,
	}
}

// Allow records an attempt for the given identifier and endpoint and reports
// whether it may proceed, along with the number of attempts remaining in the
// current window.
func (l *Limiter) Allow(identifier, endpoint string) (bool, int) {
	key := identifier + "|" + endpoint
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	w, ok := l.windows[key]
	if ok && now.Sub(w.windowStart) >= l.window && w.blockedUntil.Before(now) {
		// Window elapsed and no active block: start fresh.
		delete(l.windows, key)
		ok = false
	}

	if !ok {
		l.windows[key] = &window{attemptCount: 1, windowStart: now}
		return true, l.max - 1
	}

	if w.blockedUntil.After(now) {
		return false, 0
	}

	if w.attemptCount >= l.max {
		w.blockedUntil = now.Add(l.block)
		return false, 0
	}

	w.attemptCount++
	return true, l.max - w.attemptCount
}

// BlockedFor returns how long the key remains blocked, or zero if it is not.
func (l *Limiter) BlockedFor(identifier, endpoint string) time.Duration {
	key := identifier + "|" + endpoint
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	if w, ok := l.windows[key]; ok && w.blockedUntil.After(now) {
		return w.blockedUntil.Sub(now)
	}
	return 0
}

// Cleanup drops windows that have elapsed and are no longer blocked. Returns
// the number of entries removed.
func (l *Limiter) Cleanup() int {
	now := l.now()

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for key, w := range l.windows {
		if now.Sub(w.windowStart) >= l.window && w.blockedUntil.Before(now) {
			delete(l.windows, key)
			removed++
		}
	}
	return removed
}

// RunCleanup sweeps expired windows on a fixed interval until ctx is done.
// A sweep never blocks request handling for long; it only holds the lock for
// the map walk.
func (l *Limiter) RunCleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Cleanup(); n > 0 {
				log.Printf("rate limiter cleanup removed %d expired windows", n)
			}
		}
	}
}
