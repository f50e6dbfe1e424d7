// ratelimit.go provides Gin middleware that enforces per-client rate limits, returning
// 429 responses when the configured requests-per-minute threshold is exceeded.
// Limits are tracked in process (MemoryLimiter) or in Redis (RedisLimiter) when
// several replicas must share one budget.
package middleware

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"
)

// RateLimitConfig holds configuration for rate limiting
type RateLimitConfig struct {
	// RequestsPerMinute is the sustained number of requests allowed per minute
	RequestsPerMinute int
	// BurstSize is the maximum burst of requests allowed
	BurstSize int
	// CleanupInterval is how often idle in-memory entries are dropped
	CleanupInterval time.Duration
}

// DefaultRateLimitConfig returns sensible defaults
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerMinute: 60,
		BurstSize:         10,
		CleanupInterval:   5 * time.Minute,
	}
}

func (c RateLimitConfig) burst() int {
	if c.BurstSize < 1 {
		return 1
	}
	return c.BurstSize
}

// LimitResult is the outcome of a single rate limit check.
type LimitResult struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether the client identified by key may proceed.
type Limiter interface {
	Allow(ctx context.Context, key string) (LimitResult, error)
}

// limiterEntry tracks the bucket for a single client
type limiterEntry struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// MemoryLimiter keeps one token bucket per key in process memory.
type MemoryLimiter struct {
	config   RateLimitConfig
	entries  map[string]*limiterEntry
	mu       sync.Mutex
	stopCh   chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// NewMemoryLimiter creates an in-memory limiter and starts its cleanup loop.
// Call Stop to release it.
func NewMemoryLimiter(config RateLimitConfig) *MemoryLimiter {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}
	ml := &MemoryLimiter{
		config:  config,
		entries: make(map[string]*limiterEntry),
		stopCh:  make(chan struct{}),
		now:     time.Now,
	}
	go ml.cleanup()
	return ml
}

// cleanup periodically removes entries idle for two cleanup intervals
func (ml *MemoryLimiter) cleanup() {
	ticker := time.NewTicker(ml.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ml.mu.Lock()
			cutoff := ml.now().Add(-2 * ml.config.CleanupInterval)
			for key, entry := range ml.entries {
				if entry.lastSeen.Before(cutoff) {
					delete(ml.entries, key)
				}
			}
			ml.mu.Unlock()
		case <-ml.stopCh:
			return
		}
	}
}

// Stop stops the cleanup goroutine
func (ml *MemoryLimiter) Stop() {
	ml.stopOnce.Do(func() { close(ml.stopCh) })
}

// Allow consumes one token from key's bucket.
func (ml *MemoryLimiter) Allow(_ context.Context, key string) (LimitResult, error) {
	ml.mu.Lock()
	defer ml.mu.Unlock()

	now := ml.now()
	entry, ok := ml.entries[key]
	if !ok {
		perSecond := rate.Limit(float64(ml.config.RequestsPerMinute) / 60.0)
		entry = &limiterEntry{lim: rate.NewLimiter(perSecond, ml.config.burst())}
		ml.entries[key] = entry
	}
	entry.lastSeen = now

	res := LimitResult{Limit: ml.config.RequestsPerMinute}
	if entry.lim.AllowN(now, 1) {
		res.Allowed = true
	} else {
		r := entry.lim.ReserveN(now, 1)
		res.RetryAfter = r.DelayFrom(now)
		r.CancelAt(now)
	}
	res.Remaining = int(math.Max(0, math.Floor(entry.lim.TokensAt(now))))
	return res, nil
}

// RedisLimiter shares a GCRA budget across replicas through Redis.
type RedisLimiter struct {
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
	prefix  string
}

// NewRedisLimiter creates a limiter backed by client.
func NewRedisLimiter(client *redis.Client, config RateLimitConfig) *RedisLimiter {
	return &RedisLimiter{
		limiter: redis_rate.NewLimiter(client),
		limit: redis_rate.Limit{
			Rate:   config.RequestsPerMinute,
			Burst:  config.burst(),
			Period: time.Minute,
		},
		prefix: "identity-sync:ratelimit:",
	}
}

// Allow consumes one request from key's budget.
func (rl *RedisLimiter) Allow(ctx context.Context, key string) (LimitResult, error) {
	res, err := rl.limiter.Allow(ctx, rl.prefix+key, rl.limit)
	if err != nil {
		return LimitResult{}, err
	}
	return LimitResult{
		Allowed:    res.Allowed > 0,
		Limit:      rl.limit.Rate,
		Remaining:  res.Remaining,
		RetryAfter: res.RetryAfter,
	}, nil
}

// RateLimitMiddleware creates a Gin middleware that rate limits requests.
// A limiter backend error lets the request through.
func RateLimitMiddleware(limiter Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := getRateLimitKey(c)

		res, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			slog.Warn("rate limiter unavailable, allowing request", "key", key, "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))

		if !res.Allowed {
			retryAfter := int(math.Ceil(res.RetryAfter.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": retryAfter,
			})
			return
		}

		c.Next()
	}
}

// getRateLimitKey determines the key to use for rate limiting
// Priority: identity id > IP address
func getRateLimitKey(c *gin.Context) string {
	if v, exists := c.Get(IdentityIDKey); exists {
		if id, ok := v.(int64); ok {
			return "identity:" + strconv.FormatInt(id, 10)
		}
	}

	ip := c.ClientIP()
	if ip == "" {
		ip = c.Request.RemoteAddr
	}
	return "ip:" + ip
}
