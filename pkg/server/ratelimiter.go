package server

import (
	"sync"
	"time"
)

// RateLimiter is a per-client sliding window limiter.
type RateLimiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu      sync.Mutex
	clients map[string][]time.Time

	stopCleanup chan struct{}
	stopOnce    sync.Once
}

// NewRateLimiter allows limit requests per client per minute. Stop must be
// called to release the cleanup goroutine.
func NewRateLimiter(limit int) *RateLimiter {
	rl := &RateLimiter{
		limit:       limit,
		window:      time.Minute,
		now:         time.Now,
		clients:     make(map[string][]time.Time),
		stopCleanup: make(chan struct{}),
	}
	go rl.cleanupLoop(5 * time.Minute)
	return rl
}

// Allow records a request from client if it fits in the window. When it
// does not, it returns how long until the oldest request expires.
func (rl *RateLimiter) Allow(client string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	recent := rl.prune(rl.clients[client], now)

	if len(recent) >= rl.limit {
		rl.clients[client] = recent
		return false, rl.window - now.Sub(recent[0])
	}

	rl.clients[client] = append(recent, now)
	return true, 0
}

// prune drops timestamps that have left the window. requests is sorted.
func (rl *RateLimiter) prune(requests []time.Time, now time.Time) []time.Time {
	i := 0
	for i < len(requests) && now.Sub(requests[i]) >= rl.window {
		i++
	}
	return requests[i:]
}

func (rl *RateLimiter) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stopCleanup:
			return
		}
	}
}

// cleanup forgets clients with no request in the window.
func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	for client, requests := range rl.clients {
		if recent := rl.prune(requests, now); len(recent) == 0 {
			delete(rl.clients, client)
		} else {
			rl.clients[client] = recent
		}
	}
}

// Stop ends the cleanup goroutine. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.stopCleanup) })
}
