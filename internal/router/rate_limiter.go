package router

import (
	"sync"
	"time"
)

// RateLimiter implements per-user fixed-window rate limiting
// ARCHITECTURAL DISCOVERY: Per-user state tracking with periodic cleanup prevents memory leaks
type RateLimiter struct {
	mu        sync.Mutex
	perMinute int
	window    time.Duration
	now       func() time.Time
	clients   map[string]*ClientLimit
}

// ClientLimit tracks rate limiting for a single user
type ClientLimit struct {
	messageCount int
	windowStart  time.Time
}

// NewRateLimiter allows perMinute messages per user per minute. A limit of
// zero or less disables limiting.
func NewRateLimiter(perMinute int) *RateLimiter {
	return &RateLimiter{
		perMinute: perMinute,
		window:    time.Minute,
		now:       time.Now,
		clients:   make(map[string]*ClientLimit),
	}
}

// Allow records one message for username and reports whether it is within
// the limit.
func (rl *RateLimiter) Allow(username string) bool {
	if rl.perMinute <= 0 {
		return true
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()

	limit, exists := rl.clients[username]
	if !exists {
		rl.clients[username] = &ClientLimit{
			messageCount: 1,
			windowStart:  now,
		}
		return true
	}

	// TECHNICAL DISCOVERY: The window resets a full minute after its first message.
	if now.Sub(limit.windowStart) >= rl.window {
		limit.messageCount = 1
		limit.windowStart = now
		return true
	}

	if limit.messageCount >= rl.perMinute {
		return false
	}

	limit.messageCount++
	return true
}

// Cleanup removes users idle for five windows. Call it periodically.
func (rl *RateLimiter) Cleanup() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for username, limit := range rl.clients {
		if now.Sub(limit.windowStart) > 5*rl.window {
			delete(rl.clients, username)
			removed++
		}
	}
	return removed
}

// Tracked returns how many users currently hold limiter state.
func (rl *RateLimiter) Tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
