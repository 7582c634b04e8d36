package middleware

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/vibast-solutions/ms-go-bakong/app/factory"
	"github.com/vibast-solutions/ms-go-bakong/app/types"
)

const (
	DefaultRateLimitRequests = 100
	DefaultRateLimitWindow   = time.Minute

	rateLimitKeyPrefix = "rate_limit:"
)

type RateLimitConfig struct {
	Requests int
	Window   time.Duration
	Now      func() time.Time
}

// Counter increments a fixed-window counter and reports the time left in the window.
type Counter interface {
	Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

type redisCommands interface {
	Incr(ctx context.Context, key string) *redis.IntCmd
	Expire(ctx context.Context, key string, expiration time.Duration) *redis.BoolCmd
	TTL(ctx context.Context, key string) *redis.DurationCmd
}

type RedisCounter struct {
	client redisCommands
}

func NewRedisCounter(client redisCommands) *RedisCounter {
	return &RedisCounter{client: client}
}

func (c *RedisCounter) Incr(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	count, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, 0, err
	}
	if count == 1 {
		if err := c.client.Expire(ctx, key, window).Err(); err != nil {
			return 0, 0, err
		}
	}
	ttl, err := c.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, 0, err
	}
	if ttl < 0 {
		// Key without expiry.
		_ = c.client.Expire(ctx, key, window).Err()
		ttl = window
	}
	return count, ttl, nil
}

type memoryWindow struct {
	count   int64
	resetAt time.Time
}

type MemoryCounter struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
	now     func() time.Time
	calls   int
}

func NewMemoryCounter(now func() time.Time) *MemoryCounter {
	if now == nil {
		now = time.Now
	}
	return &MemoryCounter{windows: make(map[string]*memoryWindow), now: now}
}

func (c *MemoryCounter) Incr(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	entry, ok := c.windows[key]
	if !ok || !now.Before(entry.resetAt) {
		entry = &memoryWindow{resetAt: now.Add(window)}
		c.windows[key] = entry
	}
	entry.count++

	c.calls++
	if c.calls%100 == 0 {
		for k, w := range c.windows {
			if !now.Before(w.resetAt) {
				delete(c.windows, k)
			}
		}
	}

	return entry.count, entry.resetAt.Sub(now), nil
}

// RateLimit applies a fixed-window limit per API key, or per client IP when no key is
// presented. Redis is used when configured; on redis errors the in-memory counter
// takes over for that request.
func RateLimit(cfg RateLimitConfig, primary Counter) echo.MiddlewareFunc {
	logger := factory.NewModuleLogger("rate-limit")

	if cfg.Requests <= 0 {
		cfg.Requests = DefaultRateLimitRequests
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultRateLimitWindow
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	fallback := NewMemoryCounter(cfg.Now)
	limit := int64(cfg.Requests)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			key := rateLimitKey(ctx)

			var (
				count int64
				ttl   time.Duration
				err   error
			)
			if primary != nil {
				count, ttl, err = primary.Incr(ctx.Request().Context(), rateLimitKeyPrefix+key, cfg.Window)
				if err != nil {
					logger.WithError(err).Warn("Rate limit store unavailable, using in-memory window")
				}
			}
			if primary == nil || err != nil {
				count, ttl, _ = fallback.Incr(ctx.Request().Context(), key, cfg.Window)
			}

			remaining := limit - count
			if remaining < 0 {
				remaining = 0
			}
			header := ctx.Response().Header()
			header.Set("X-RateLimit-Limit", strconv.FormatInt(limit, 10))
			header.Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
			header.Set("X-RateLimit-Reset", cfg.Now().Add(ttl).UTC().Format(time.RFC3339))

			if count > limit {
				retryAfter := int64((ttl + time.Second - 1) / time.Second)
				if retryAfter < 1 {
					retryAfter = 1
				}
				header.Set("Retry-After", strconv.FormatInt(retryAfter, 10))
				factory.LoggerWithContext(logger, ctx).WithFields(logrus.Fields{
					"key":   key,
					"count": count,
					"limit": limit,
					"path":  ctx.Request().URL.Path,
				}).Warn("Rate limit exceeded")
				return ctx.JSON(http.StatusTooManyRequests, &types.ErrorResponse{Error: "too many requests, please try again later"})
			}

			return next(ctx)
		}
	}
}

func rateLimitKey(ctx echo.Context) string {
	if token := bearerToken(ctx.Request().Header.Get(echo.HeaderAuthorization)); token != "" {
		if len(token) > 10 {
			token = token[:10]
		}
		return "api:" + token
	}
	return "ip:" + ctx.RealIP()
}
