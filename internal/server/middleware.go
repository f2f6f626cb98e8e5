package server

import (
	"sync"
	"time"

	"github.com/coder/quartz"
)

// RateLimiter implements per-connection rate limiting with a sliding
// window, so one abusive client cannot starve the rest of a room.
type RateLimiter struct {
	maxRequests int
	window      time.Duration
	requests    map[string][]time.Time // connectionID -> recent request times
	clock       quartz.Clock
	mu          sync.Mutex
}

func NewRateLimiter(maxRequests int, window time.Duration, clock quartz.Clock) *RateLimiter {
	return &RateLimiter{
		maxRequests: maxRequests,
		window:      window,
		requests:    make(map[string][]time.Time),
		clock:       clock,
	}
}

// Allow reports whether this connection may send another message, and
// counts it if so.
func (r *RateLimiter) Allow(connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	cutoff := now.Add(-r.window)

	timestamps := r.requests[connectionID]
	valid := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			valid = append(valid, ts)
		}
	}

	if len(valid) >= r.maxRequests {
		r.requests[connectionID] = valid
		return false
	}

	r.requests[connectionID] = append(valid, now)
	return true
}

// RemoveConnection drops tracking state when a websocket closes.
func (r *RateLimiter) RemoveConnection(connectionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.requests, connectionID)
}
