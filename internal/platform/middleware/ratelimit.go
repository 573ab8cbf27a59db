package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"

	"github.com/juju/ratelimit"
	"github.com/labstack/echo/v4"

	"github.com/sidra/sidra/internal/platform/auth"
	"github.com/sidra/sidra/internal/platform/metrics"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// Skipper exempts requests, such as health probes, from limiting.
	Skipper func(c echo.Context) bool
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{RequestsPerSecond: 50, BurstSize: 100}
}

// RateLimiter keeps one token bucket per client key.
type RateLimiter struct {
	cfg     RateLimitConfig
	mu      sync.RWMutex
	buckets map[string]*ratelimit.Bucket
}

func NewRateLimiter(cfg RateLimitConfig) *RateLimiter {
	if cfg.RequestsPerSecond <= 0 || cfg.BurstSize <= 0 {
		def := DefaultRateLimitConfig()
		cfg.RequestsPerSecond, cfg.BurstSize = def.RequestsPerSecond, def.BurstSize
	}
	return &RateLimiter{cfg: cfg, buckets: make(map[string]*ratelimit.Bucket)}
}

func (rl *RateLimiter) bucket(key string) *ratelimit.Bucket {
	rl.mu.RLock()
	b, ok := rl.buckets[key]
	rl.mu.RUnlock()
	if ok {
		return b
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if b, ok := rl.buckets[key]; ok {
		return b
	}
	b = ratelimit.NewBucketWithRate(rl.cfg.RequestsPerSecond, int64(rl.cfg.BurstSize))
	rl.buckets[key] = b
	metrics.RateLimiterBuckets.Set(float64(len(rl.buckets)))
	return b
}

// Sweep drops buckets that have refilled completely; their clients have
// been idle long enough that a fresh bucket is equivalent.
func (rl *RateLimiter) Sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	removed := 0
	for key, b := range rl.buckets {
		if b.Available() == b.Capacity() {
			delete(rl.buckets, key)
			removed++
		}
	}
	metrics.RateLimiterBuckets.Set(float64(len(rl.buckets)))
	return removed
}

// Len is the number of buckets held.
func (rl *RateLimiter) Len() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.buckets)
}

// Middleware limits requests per authenticated user, or per client IP
// before login.
func (rl *RateLimiter) Middleware() echo.MiddlewareFunc {
	limit := strconv.Itoa(rl.cfg.BurstSize)
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if rl.cfg.Skipper != nil && rl.cfg.Skipper(c) {
				return next(c)
			}
			key := "ip:" + c.RealIP()
			if uid := auth.UserIDFromContext(c.Request().Context()); uid != "" {
				key = "user:" + uid
			}

			b := rl.bucket(key)
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)
			if b.TakeAvailable(1) == 0 {
				h.Set("Retry-After", strconv.Itoa(rl.retryAfter()))
				h.Set("X-RateLimit-Remaining", "0")
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			h.Set("X-RateLimit-Remaining", strconv.FormatInt(b.Available(), 10))
			return next(c)
		}
	}
}

// retryAfter is the whole number of seconds until one token refills.
func (rl *RateLimiter) retryAfter() int {
	secs := int(math.Ceil(1 / rl.cfg.RequestsPerSecond))
	if secs < 1 {
		secs = 1
	}
	return secs
}

// RateLimit is shorthand for NewRateLimiter(cfg).Middleware().
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	return NewRateLimiter(cfg).Middleware()
}
