// Package server implements a token bucket rate limiter for per-connection
// throttling that protects the hub from abuse.
package server

import (
	"sync"
	"time"
)

// rateLimiter is a token bucket refilled continuously at a fixed rate. Each
// inbound message spends one token; a drained bucket rejects until it refills.
type rateLimiter struct {
	mu     sync.Mutex
	tokens float64
	max    float64
	perSec float64
	last   time.Time
}

func newRateLimiter(burst int, interval time.Duration) *rateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	return &rateLimiter{
		tokens: float64(burst),
		max:    float64(burst),
		perSec: float64(burst) / interval.Seconds(),
		last:   time.Now(),
	}
}

func (rl *rateLimiter) allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.refill(time.Now())
	if rl.tokens < 1 {
		return false
	}
	rl.tokens--
	return true
}

// refill credits tokens for the time elapsed since the last call, capped at
// the bucket size. Caller must hold mu.
func (rl *rateLimiter) refill(now time.Time) {
	elapsed := now.Sub(rl.last).Seconds()
	rl.last = now
	if elapsed <= 0 {
		return
	}

	rl.tokens += elapsed * rl.perSec
	if rl.tokens > rl.max {
		rl.tokens = rl.max
	}
}
