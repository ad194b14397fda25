package middleware

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// requestWindow tracks request counts from one client inside a fixed window
type requestWindow struct {
	Count   int
	FirstAt time.Time
}

// RateLimiter enforces a fixed-window request budget per client
type RateLimiter struct {
	mu           sync.Mutex
	windows      map[string]*requestWindow
	maxRequests  int
	windowPeriod time.Duration
	stopCleanup  chan struct{}
}

// NewRateLimiter creates a rate limiter allowing maxRequests per
// windowPeriod from each client
func NewRateLimiter(maxRequests int, windowPeriod time.Duration) *RateLimiter {
	rl := &RateLimiter{
		windows:      make(map[string]*requestWindow),
		maxRequests:  maxRequests,
		windowPeriod: windowPeriod,
		stopCleanup:  make(chan struct{}),
	}
	go rl.startCleanup()
	return rl
}

// startCleanup periodically removes expired windows
func (rl *RateLimiter) startCleanup() {
	ticker := time.NewTicker(10 * time.Minute)
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

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for key, w := range rl.windows {
		if now.Sub(w.FirstAt) > rl.windowPeriod {
			delete(rl.windows, key)
		}
	}
}

// Stop halts the cleanup goroutine
func (rl *RateLimiter) Stop() {
	close(rl.stopCleanup)
}

// Allow records one request for key and reports whether it fits the budget.
// The second return is how long until the window resets when denied.
func (rl *RateLimiter) Allow(key string) (bool, time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	w, ok := rl.windows[key]
	if !ok || now.Sub(w.FirstAt) > rl.windowPeriod {
		rl.windows[key] = &requestWindow{Count: 1, FirstAt: now}
		return true, 0
	}

	if w.Count >= rl.maxRequests {
		return false, rl.windowPeriod - now.Sub(w.FirstAt)
	}
	w.Count++
	return true, 0
}

// Middleware rejects requests over the budget with 429. Authenticated
// requests are budgeted per user, anonymous ones per client IP.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if userID, err := GetUserIDFromContext(c); err == nil {
			key = fmt.Sprintf("user:%d", userID)
		}

		allowed, retryAfter := rl.Allow(key)
		if !allowed {
			c.Header("Retry-After", fmt.Sprintf("%d", int(retryAfter.Seconds())+1))
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limited",
				"message": fmt.Sprintf("Rate limit exceeded. Try again in %v", retryAfter.Round(time.Second)),
			})
			c.Abort()
			return
		}
		c.Next()
	}
}
