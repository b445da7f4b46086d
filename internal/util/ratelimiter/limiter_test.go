package ratelimiter

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
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestLimiter_Allow(t *testing.T) {
	tests := []struct {
		name     string
		interval time.Duration
		delays   []time.Duration // clock advance before each Allow() call
		want     []bool          // expected Allow() results
	}{
		{
			name:     "first call always allowed",
			interval: 100 * time.Millisecond,
			delays:   []time.Duration{0},
			want:     []bool{true},
		},
		{
			name:     "second call immediately after is blocked",
			interval: 100 * time.Millisecond,
			delays:   []time.Duration{0, 0},
			want:     []bool{true, false},
		},
		{
			name:     "call after interval is allowed",
			interval: 50 * time.Millisecond,
			delays:   []time.Duration{0, 60 * time.Millisecond},
			want:     []bool{true, true},
		},
		{
			name:     "zero interval allows everything",
			interval: 0,
			delays:   []time.Duration{0, 0, 0},
			want:     []bool{true, true, true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newClock()
			limiter := NewWithClock(tt.interval, clock.Now)

			for i, delay := range tt.delays {
				clock.Advance(delay)

				allowed, waitTime := limiter.Allow()
				if allowed != tt.want[i] {
					t.Errorf("call %d: Allow() = %v, want %v", i, allowed, tt.want[i])
				}
				if !allowed && waitTime <= 0 {
					t.Errorf("call %d: blocked but waitTime = %v, want > 0", i, waitTime)
				}
				if allowed && waitTime != 0 {
					t.Errorf("call %d: allowed but waitTime = %v, want 0", i, waitTime)
				}
			}
		})
	}
}

func TestLimiter_MarkAndReset(t *testing.T) {
	clock := newClock()
	limiter := NewWithClock(time.Second, clock.Now)

	limiter.Mark()
	if allowed, wait := limiter.Allow(); allowed || wait != time.Second {
		t.Fatalf("Allow() after Mark() = %v, %v, want false, 1s", allowed, wait)
	}

	clock.Advance(400 * time.Millisecond)
	if _, wait := limiter.Allow(); wait != 600*time.Millisecond {
		t.Errorf("waitTime = %v, want 600ms", wait)
	}

	limiter.Reset()
	if allowed, _ := limiter.Allow(); !allowed {
		t.Error("Allow() after Reset() = false, want true")
	}
}

func TestLimiter_TimeSinceLastAllowed(t *testing.T) {
	clock := newClock()
	limiter := NewWithClock(100*time.Millisecond, clock.Now)

	if d := limiter.TimeSinceLastAllowed(); d < time.Hour {
		t.Errorf("before any call, TimeSinceLastAllowed() = %v, want very large", d)
	}

	limiter.Allow()
	clock.Advance(50 * time.Millisecond)
	if d := limiter.TimeSinceLastAllowed(); d != 50*time.Millisecond {
		t.Errorf("TimeSinceLastAllowed() = %v, want 50ms", d)
	}
	if got := limiter.Interval(); got != 100*time.Millisecond {
		t.Errorf("Interval() = %v, want 100ms", got)
	}
}

func TestLimiter_Concurrent(t *testing.T) {
	limiter := New(time.Hour)

	var wg sync.WaitGroup
	var mu sync.Mutex
	allowedCount := 0

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if allowed, _ := limiter.Allow(); allowed {
				mu.Lock()
				allowedCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowedCount != 1 {
		t.Errorf("concurrent calls: %d allowed, want exactly 1", allowedCount)
	}
}
