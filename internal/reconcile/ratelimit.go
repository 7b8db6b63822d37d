package reconcile

import "time"

// DefaultThrottle is the minimum spacing between committed position
// writes, absent a direction change.
const DefaultThrottle = 25 * time.Millisecond

// RateLimiter is the write-rate policy for replicated position updates:
// a write goes through immediately when the facing changed (turning
// must stay responsive), otherwise only after the throttle window has
// elapsed since the last committed write.
//
// The decision is a pure function of (now, directionChanged); callers
// record committed writes explicitly so the policy is testable without
// timers.
type RateLimiter struct {
	interval time.Duration
	last     time.Time
}

// NewRateLimiter builds a limiter. interval <= 0 selects DefaultThrottle.
func NewRateLimiter(interval time.Duration) *RateLimiter {
	if interval <= 0 {
		interval = DefaultThrottle
	}
	return &RateLimiter{interval: interval}
}

// ShouldWrite reports whether a write at now may be committed. It does
// not record the write; call Committed when the write actually happens.
func (l *RateLimiter) ShouldWrite(now time.Time, directionChanged bool) bool {
	if directionChanged {
		return true
	}
	return l.last.IsZero() || now.Sub(l.last) > l.interval
}

// Committed records that a write was committed at now.
func (l *RateLimiter) Committed(now time.Time) { l.last = now }

// Reset zeroes the throttle clock so the next write after a stop is
// committed immediately, avoiding perceived input lag on resume.
func (l *RateLimiter) Reset() { l.last = time.Time{} }
