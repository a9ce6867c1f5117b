package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// sweepThreshold is the number of tracked keys above which idle limiters are dropped.
	sweepThreshold = 10000
	idleTimeout    = 30 * time.Minute
)

type entry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

// RateLimiter is a per-key token bucket rate limiter
type RateLimiter struct {
	limiters map[string]*entry
	lock     sync.Mutex
	limit    rate.Limit
	burst    int
	now      func() time.Time
}

// NewRateLimiter allows each key requestsPerSecond on average with bursts of up to burst requests.
func NewRateLimiter(requestsPerSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[string]*entry),
		limit:    rate.Limit(requestsPerSecond),
		burst:    burst,
		now:      time.Now,
	}
}

func (rl *RateLimiter) Allow(key string) bool {
	rl.lock.Lock()
	defer rl.lock.Unlock()
	now := rl.now()

	e, ok := rl.limiters[key]
	if !ok {
		if len(rl.limiters) >= sweepThreshold {
			rl.sweep(now)
		}
		e = &entry{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.limiters[key] = e
	}
	e.lastAccess = now

	return e.limiter.AllowN(now, 1)
}

// sweep drops limiters that have not been used recently. Must be called with the lock held.
func (rl *RateLimiter) sweep(now time.Time) {
	for key, e := range rl.limiters {
		if now.Sub(e.lastAccess) > idleTimeout {
			delete(rl.limiters, key)
		}
	}
}

// Len returns the number of keys currently tracked.
func (rl *RateLimiter) Len() int {
	rl.lock.Lock()
	defer rl.lock.Unlock()
	return len(rl.limiters)
}
