// Package guard implements the safety gates consulted before every state-changing trade:
// the hourly transaction limit, the spending budgets and the emergency stop.
package guard

import (
	"sort"
	"sync"
	"time"
)

// RateWindow is the trailing window the rate limiter counts reservations over.
const RateWindow = time.Hour

// RateLimiter admits at most max reservations per trailing hour.
type RateLimiter struct {
	mu    sync.Mutex
	max   int
	times []time.Time
	now   func() time.Time
}

// NewRateLimiter returns a limiter allowing max reservations per hour.
func NewRateLimiter(max int) *RateLimiter {
	if max <= 0 {
		max = 5
	}
	return &RateLimiter{max: max, now: time.Now}
}

// WithClock swaps the time source, used by tests.
func (r *RateLimiter) WithClock(now func() time.Time) *RateLimiter {
	r.mu.Lock()
	r.now = now
	r.mu.Unlock()
	return r
}

// TryReserve records a reservation if fewer than max were made in the last hour.
// Reservations are never released.
func (r *RateLimiter) TryReserve() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	r.prune(now)
	if len(r.times) >= r.max {
		return false
	}
	r.times = append(r.times, now)
	return true
}

// Count returns the reservations currently inside the window.
func (r *RateLimiter) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(r.now())
	return len(r.times)
}

// Limit returns the configured maximum per hour.
func (r *RateLimiter) Limit() int {
	return r.max
}

// Preload seeds the window with previously executed transactions.
func (r *RateLimiter) Preload(times []time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.times = append(r.times, times...)
	sort.Slice(r.times, func(i, j int) bool { return r.times[i].Before(r.times[j]) })
	r.prune(r.now())
}

func (r *RateLimiter) prune(now time.Time) {
	cutoff := now.Add(-RateWindow)
	idx := 0
	for idx < len(r.times) && !r.times[idx].After(cutoff) {
		idx++
	}
	if idx > 0 {
		r.times = append(r.times[:0], r.times[idx:]...)
	}
}
