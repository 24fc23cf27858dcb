package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// KeyFunc derives the rate limit bucket for a request.
type KeyFunc func(c echo.Context) string

// ByIP buckets requests by client address.
func ByIP(c echo.Context) string {
	ip := c.RealIP()
	if ip == "" {
		ip = c.Request().RemoteAddr
	}
	return ip
}

// ByIPAndParam buckets requests by client address and a path parameter,
// so each job gets its own budget per caller.
func ByIPAndParam(name string) KeyFunc {
	return func(c echo.Context) string {
		return ByIP(c) + "|" + c.Param(name)
	}
}

// RateLimiter holds one token bucket per key.
type RateLimiter struct {
	visitors map[string]*rate.Limiter
	mu       sync.Mutex
	r        rate.Limit // requests per second
	b        int        // burst
	key      KeyFunc
	stop     chan struct{}
	once     sync.Once
}

// NewRateLimiter creates a new rate limiter keyed by client IP. Call Close
// to stop the background cleanup.
func NewRateLimiter(requestsPerMinute, burst int) *RateLimiter {
	rl := &RateLimiter{
		visitors: make(map[string]*rate.Limiter),
		r:        rate.Limit(float64(requestsPerMinute) / 60.0),
		b:        burst,
		key:      ByIP,
		stop:     make(chan struct{}),
	}

	go rl.cleanupVisitors(3 * time.Minute)

	return rl
}

// WithKey replaces the bucket key function.
func (rl *RateLimiter) WithKey(key KeyFunc) *RateLimiter {
	rl.key = key
	return rl
}

// GetLimiter returns the rate limiter for the given key
func (rl *RateLimiter) GetLimiter(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	limiter, exists := rl.visitors[key]
	if !exists {
		limiter = rate.NewLimiter(rl.r, rl.b)
		rl.visitors[key] = limiter
	}
	return limiter
}

// cleanupVisitors drops buckets that have refilled completely.
func (rl *RateLimiter) cleanupVisitors(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-rl.stop:
			return
		case <-ticker.C:
			rl.prune()
		}
	}
}

func (rl *RateLimiter) prune() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, limiter := range rl.visitors {
		if limiter.Tokens() >= float64(rl.b) {
			delete(rl.visitors, key)
		}
	}
}

// Close stops the cleanup goroutine.
func (rl *RateLimiter) Close() {
	rl.once.Do(func() { close(rl.stop) })
}

// RateLimitMiddleware rejects requests over budget with 429 and a
// Retry-After hint of one token interval.
func (rl *RateLimiter) RateLimitMiddleware() echo.MiddlewareFunc {
	retryAfter := "60"
	if rl.r > 0 {
		retryAfter = strconv.Itoa(int(math.Ceil(1 / float64(rl.r))))
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if rl.GetLimiter(rl.key(c)).Allow() {
				return next(c)
			}
			c.Response().Header().Set("Retry-After", retryAfter)
			return c.JSON(http.StatusTooManyRequests, map[string]string{
				"error":   "rate_limit_exceeded",
				"message": "too many requests, retry later",
			})
		}
	}
}
