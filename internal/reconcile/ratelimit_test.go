package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRateLimiterFirstWriteImmediate(t *testing.T) {
	l := NewRateLimiter(25 * time.Millisecond)
	assert.True(t, l.ShouldWrite(time.Now(), false))
}

func TestRateLimiterThrottlesWithinWindow(t *testing.T) {
	l := NewRateLimiter(25 * time.Millisecond)
	start := time.Now()

	assert.True(t, l.ShouldWrite(start, false))
	l.Committed(start)

	assert.False(t, l.ShouldWrite(start.Add(12*time.Millisecond), false))
	assert.False(t, l.ShouldWrite(start.Add(25*time.Millisecond), false))
	assert.True(t, l.ShouldWrite(start.Add(26*time.Millisecond), false))
}

func TestRateLimiterDirectionChangeBypasses(t *testing.T) {
	l := NewRateLimiter(25 * time.Millisecond)
	start := time.Now()
	l.Committed(start)

	// Mid-window, but the facing changed: the write goes through.
	assert.True(t, l.ShouldWrite(start.Add(12*time.Millisecond), true))
}

func TestRateLimiterResetClearsClock(t *testing.T) {
	l := NewRateLimiter(25 * time.Millisecond)
	start := time.Now()
	l.Committed(start)

	assert.False(t, l.ShouldWrite(start.Add(1*time.Millisecond), false))
	l.Reset()
	assert.True(t, l.ShouldWrite(start.Add(1*time.Millisecond), false))
}

func TestRateLimiterBoundsWriteRate(t *testing.T) {
	l := NewRateLimiter(25 * time.Millisecond)
	start := time.Now()

	// 100ms of 5ms frames, same direction throughout.
	writes := 0
	for ms := 0; ms <= 100; ms += 5 {
		now := start.Add(time.Duration(ms) * time.Millisecond)
		if l.ShouldWrite(now, false) {
			writes++
			l.Committed(now)
		}
	}

	// ceil(100/25)+1 committed writes at most.
	assert.LessOrEqual(t, writes, 5)
	assert.GreaterOrEqual(t, writes, 3)
}

func TestRateLimiterDefaultInterval(t *testing.T) {
	l := NewRateLimiter(0)
	assert.Equal(t, DefaultThrottle, l.interval)
}
