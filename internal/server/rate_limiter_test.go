package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRateLimiterBurstThenRefill(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{Burst: 3, RefillInterval: 3 * time.Second})
	start := rl.lastRefill

	for i := range 3 {
		require.True(t, rl.allowAt(start), "token %d", i)
	}
	require.False(t, rl.allowAt(start))

	// One token per second.
	require.True(t, rl.allowAt(start.Add(time.Second)))
	require.False(t, rl.allowAt(start.Add(time.Second)))

	// Refill never exceeds the burst.
	later := start.Add(time.Minute)
	for range 3 {
		require.True(t, rl.allowAt(later))
	}
	require.False(t, rl.allowAt(later))
}

func TestRateLimiterIgnoresClockGoingBackwards(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{Burst: 1, RefillInterval: time.Second})
	start := rl.lastRefill

	require.True(t, rl.allowAt(start))
	require.False(t, rl.allowAt(start.Add(-time.Hour)))
	require.True(t, rl.allowAt(start.Add(time.Second)))
}

func TestRateLimiterDefaults(t *testing.T) {
	rl := newRateLimiter(RateLimitConfig{})
	require.InDelta(t, 1.0, rl.capacity, 0)
	require.InDelta(t, 1.0, rl.perSecond, 0)
}
