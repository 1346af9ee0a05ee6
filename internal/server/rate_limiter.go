package server

import (
	"sync"
	"time"
)

// rateLimiter is a token bucket holding up to Burst tokens, refilled
// continuously so that a full bucket takes RefillInterval to regain.
type rateLimiter struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	perSecond  float64
	lastRefill time.Time
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	burst := max(cfg.Burst, 1)
	interval := cfg.RefillInterval
	if interval <= 0 {
		interval = time.Second
	}

	return &rateLimiter{
		tokens:     float64(burst),
		capacity:   float64(burst),
		perSecond:  float64(burst) / interval.Seconds(),
		lastRefill: time.Now(),
	}
}

func (rl *rateLimiter) allow() bool {
	return rl.allowAt(time.Now())
}

// allowAt takes one token if available at the given instant.
func (rl *rateLimiter) allowAt(now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if elapsed := now.Sub(rl.lastRefill).Seconds(); elapsed > 0 {
		rl.tokens = min(rl.capacity, rl.tokens+elapsed*rl.perSecond)
		rl.lastRefill = now
	}

	if rl.tokens < 1 {
		return false
	}
	rl.tokens--
	return true
}
