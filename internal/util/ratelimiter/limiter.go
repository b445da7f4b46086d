package ratelimiter

import (
	"sync"
	"time"
)

// Limiter allows one action per interval and is safe for concurrent use.
// A zero interval allows every action.
type Limiter struct {
	mu          sync.Mutex
	interval    time.Duration
	lastAllowed time.Time
	now         func() time.Time
}

// New creates a new rate limiter with the specified interval.
func New(interval time.Duration) *Limiter {
	return NewWithClock(interval, time.Now)
}

// NewWithClock creates a rate limiter that reads time from now.
func NewWithClock(interval time.Duration, now func() time.Time) *Limiter {
	if now == nil {
		now = time.Now
	}
	return &Limiter{
		interval: interval,
		now:      now,
	}
}

// Allow checks if an action is allowed at this time.
// Returns true if allowed (and records this as the last allowed time),
// or false with the remaining wait duration if rate-limited.
func (l *Limiter) Allow() (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if l.lastAllowed.IsZero() {
		l.lastAllowed = now
		return true, 0
	}

	since := now.Sub(l.lastAllowed)
	if since >= l.interval {
		l.lastAllowed = now
		return true, 0
	}
	return false, l.interval - since
}

// Mark records an action performed outside Allow, such as a forced flush,
// so the next Allow waits a full interval.
func (l *Limiter) Mark() {
	l.mu.Lock()
	l.lastAllowed = l.now()
	l.mu.Unlock()
}

// Reset clears the limiter state, allowing the next action immediately.
func (l *Limiter) Reset() {
	l.mu.Lock()
	l.lastAllowed = time.Time{}
	l.mu.Unlock()
}

// TimeSinceLastAllowed returns the duration since the last allowed action.
// Returns the maximum duration if no action has been allowed yet.
func (l *Limiter) TimeSinceLastAllowed() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.lastAllowed.IsZero() {
		return time.Duration(1<<63 - 1)
	}
	return l.now().Sub(l.lastAllowed)
}

// Interval returns the configured rate limit interval.
func (l *Limiter) Interval() time.Duration {
	return l.interval
}
