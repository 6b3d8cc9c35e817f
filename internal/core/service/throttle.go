package service

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RebuildLimiter holds one token bucket per partition key.
type RebuildLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.RWMutex
	limiters map[string]*rate.Limiter
}

// NewRebuildLimiter allows perMinute rebuilds of each partition per minute
// with the given burst. perMinute <= 0 disables throttling.
func NewRebuildLimiter(perMinute float64, burst int) *RebuildLimiter {
	if perMinute <= 0 {
		return &RebuildLimiter{limit: rate.Inf}
	}
	if burst < 1 {
		burst = 1
	}
	return &RebuildLimiter{
		limit:    rate.Limit(perMinute / 60),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

// Allow consumes a token for key. When none is left it returns false and
// the time until the next token.
func (r *RebuildLimiter) Allow(key string) (bool, time.Duration) {
	if r.limit == rate.Inf {
		return true, 0
	}
	l := r.get(key)
	if l.Allow() {
		return true, 0
	}
	res := l.Reserve()
	delay := res.Delay()
	res.Cancel()
	return false, delay
}

func (r *RebuildLimiter) get(key string) *rate.Limiter {
	r.mu.RLock()
	l, ok := r.limiters[key]
	r.mu.RUnlock()
	if ok {
		return l
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[key]; ok {
		return l
	}
	l = rate.NewLimiter(r.limit, r.burst)
	r.limiters[key] = l
	return l
}
