package api

import (
	"sync"
	"time"
)

// RateLimiter implements a per-user sliding window rate limiter.
type RateLimiter struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	done     chan struct{}
	stopOnce sync.Once
}

// NewRateLimiter creates a new rate limiter and starts the background eviction goroutine.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		done:     make(chan struct{}),
	}
	rl.startEviction()
	return rl
}

// Allow checks if a request is allowed for the given key.
func (r *RateLimiter) Allow(key string) bool {
	ok, _ := r.Reserve(key)
	return ok
}

// Reserve records a request for key if the window has room. When it does not,
// retryAfter is the time until the oldest request in the window expires.
func (r *RateLimiter) Reserve(key string) (ok bool, retryAfter time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	recent := fresh(r.requests[key], now.Add(-r.window))
	r.requests[key] = recent

	if len(recent) >= r.limit {
		return false, recent[0].Add(r.window).Sub(now)
	}

	r.requests[key] = append(recent, now)
	return true, 0
}

// Stop ends the eviction goroutine.
func (r *RateLimiter) Stop() {
	r.stopOnce.Do(func() { close(r.done) })
}

func fresh(times []time.Time, cutoff time.Time) []time.Time {
	var out []time.Time
	for _, t := range times {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

// startEviction periodically removes keys with no requests inside the window.
func (r *RateLimiter) startEviction() {
	go func() {
		ticker := time.NewTicker(r.window)
		defer ticker.Stop()
		for {
			select {
			case <-r.done:
				return
			case <-ticker.C:
				r.evict()
			}
		}
	}()
}

func (r *RateLimiter) evict() {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-r.window)
	for key, times := range r.requests {
		if recent := fresh(times, cutoff); len(recent) == 0 {
			delete(r.requests, key)
		} else {
			r.requests[key] = recent
		}
	}
}
