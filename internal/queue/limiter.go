package queue

import (
	"sync"
	"time"
)

// RateLimiter is the dispatch throughput ceiling for one worker process, a
// token bucket refilled once per second. It spans all tenants combined. The
// per-tenant concurrency cap is not tracked here: that lives in job rows and
// is enforced inside the Store's claim transaction.
type RateLimiter struct {
	mu        sync.Mutex
	perSecond int
	tokens    int
	lastReset time.Time
}

// NewRateLimiter creates a limiter allowing perSecond dispatches per second.
func NewRateLimiter(perSecond int) *RateLimiter {
	if perSecond < 1 {
		perSecond = 1
	}
	return &RateLimiter{perSecond: perSecond, tokens: perSecond}
}

// Allow consumes a token if one is available at now.
func (r *RateLimiter) Allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if now.Sub(r.lastReset) >= time.Second {
		r.tokens = r.perSecond
		r.lastReset = now
	}
	if r.tokens > 0 {
		r.tokens--
		return true
	}
	return false
}
