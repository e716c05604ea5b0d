package rpc

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiter hands every request source its own token bucket.
type RateLimiter struct {
	perSecond rate.Limit
	burst     int

	mu       sync.Mutex
	visitors map[string]*rate.Limiter
}

// NewRateLimiter builds a per-source limiter refilling at perMinute requests
// per minute with the given burst headroom.
func NewRateLimiter(perMinute float64, burst int) *RateLimiter {
	perSecond := perMinute / 60.0
	if perSecond <= 0 {
		perSecond = 1
	}
	if burst <= 0 {
		burst = 1
	}
	return &RateLimiter{
		perSecond: rate.Limit(perSecond),
		burst:     burst,
		visitors:  make(map[string]*rate.Limiter),
	}
}

func (l *RateLimiter) allow(source string) bool {
	if l == nil {
		return true
	}
	return l.obtain(source).Allow()
}

func (l *RateLimiter) obtain(source string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, ok := l.visitors[source]
	if !ok {
		limiter = rate.NewLimiter(l.perSecond, l.burst)
		l.visitors[source] = limiter
	}
	return limiter
}
