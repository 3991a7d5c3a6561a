package chat

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type rateEntry struct {
	count   int
	resetAt time.Time
}

// RateLimiter is a fixed-window admission counter per identity. The first
// message from an identity opens a window; up to limit messages are admitted
// until it closes. It is safe for concurrent use.
type RateLimiter struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	entries map[string]*rateEntry
}

// NewRateLimiter admits limit messages per window per identity.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{limit: limit, window: window, entries: make(map[string]*rateEntry)}
}

// Allow reports whether id may send one more message at now, counting it
// when it may.
func (r *RateLimiter) Allow(id string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	if !ok || !now.Before(e.resetAt) {
		r.entries[id] = &rateEntry{count: 1, resetAt: now.Add(r.window)}
		return r.limit > 0
	}
	if e.count >= r.limit {
		return false
	}
	e.count++
	return true
}

// Sweep evicts entries whose window closed before now and returns how many
// were removed.
func (r *RateLimiter) Sweep(now time.Time) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int
	for id, e := range r.entries {
		if !now.Before(e.resetAt) {
			delete(r.entries, id)
			n++
		}
	}
	return n
}

// Len returns the number of tracked identities.
func (r *RateLimiter) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// SetLimits changes the limit and window. Open windows keep their reset time.
func (r *RateLimiter) SetLimits(limit int, window time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.limit = limit
	r.window = window
}

// Run sweeps every interval until ctx is done.
func (r *RateLimiter) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if n := r.Sweep(now); n > 0 {
				slog.Debug("rate limiter swept", "evicted", n, "tracked", r.Len())
			}
		}
	}
}
