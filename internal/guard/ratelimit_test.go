package guard

import (
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func TestRateLimiterRejectsSixth(t *testing.T) {
	clock := newClock()
	limiter := NewRateLimiter(5).WithClock(clock.Now)

	for i := 0; i < 5; i++ {
		if !limiter.TryReserve() {
			t.Fatalf("reservation %d should succeed", i+1)
		}
		clock.Advance(time.Minute)
	}
	if limiter.TryReserve() {
		t.Fatal("sixth reservation should be rejected")
	}

	// first reservation was at t0; move just past t0+60m
	clock.Advance(55*time.Minute + time.Second)
	if !limiter.TryReserve() {
		t.Fatal("reservation should succeed once the oldest aged out")
	}
	if limiter.TryReserve() {
		t.Fatal("window should be full again")
	}
}

func TestRateLimiterConcurrent(t *testing.T) {
	limiter := NewRateLimiter(5)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if limiter.TryReserve() {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if granted != 5 {
		t.Fatalf("granted %d reservations, want 5", granted)
	}
}

func TestRateLimiterPreload(t *testing.T) {
	clock := newClock()
	limiter := NewRateLimiter(3).WithClock(clock.Now)

	limiter.Preload([]time.Time{
		clock.Now().Add(-2 * time.Hour),
		clock.Now().Add(-30 * time.Minute),
		clock.Now().Add(-10 * time.Minute),
	})
	if got := limiter.Count(); got != 2 {
		t.Fatalf("count after preload = %d, want 2", got)
	}
	if !limiter.TryReserve() {
		t.Fatal("third slot should be free")
	}
	if limiter.TryReserve() {
		t.Fatal("limit of 3 reached")
	}
}
