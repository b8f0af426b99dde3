package webhook

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultRateLimit is the fixed-window request budget per webhook source.
	DefaultRateLimit = 100
	// DefaultRateWindow is the fixed window length.
	DefaultRateWindow = 60 * time.Second

	rateKeyPrefix = "rl:webhook:"
)

// RateLimiter enforces a fixed-window request budget per source identifier.
// Counters are shared across concurrent webhook handlers, so implementations
// must be concurrency safe.
type RateLimiter interface {
	Allow(ctx context.Context, source string) (bool, error)
}

// RedisRateLimiter counts requests per source in Redis with INCR + EXPIRE, so
// the window survives restarts and is shared across replicas. Cache errors
// fail open: a degraded Redis must not take webhook ingestion down with it.
type RedisRateLimiter struct {
	cache  *redis.Client
	limit  int
	window time.Duration
}

// NewRedisRateLimiter builds the Redis-backed limiter. Non-positive limit or
// window select the defaults.
func NewRedisRateLimiter(cache *redis.Client, limit int, window time.Duration) *RedisRateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	return &RedisRateLimiter{cache: cache, limit: limit, window: window}
}

// Allow increments the source counter and reports whether it is within budget.
func (l *RedisRateLimiter) Allow(ctx context.Context, source string) (bool, error) {
	key := rateKeyPrefix + source
	count, err := l.cache.Incr(ctx, key).Result()
	if err != nil {
		return true, nil // fail-open on cache errors
	}
	if count == 1 {
		l.cache.Expire(ctx, key, l.window)
	}
	return count <= int64(l.limit), nil
}

type window struct {
	count   int
	resetAt time.Time
}

// MemoryRateLimiter is the process-local fixed-window limiter used in tests
// and single-instance deployments without Redis.
type MemoryRateLimiter struct {
	mu      sync.Mutex
	limit   int
	length  time.Duration
	windows map[string]*window
	now     func() time.Time
}

// NewMemoryRateLimiter builds the in-memory limiter.
func NewMemoryRateLimiter(limit int, length time.Duration) *MemoryRateLimiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if length <= 0 {
		length = DefaultRateWindow
	}
	return &MemoryRateLimiter{
		limit:   limit,
		length:  length,
		windows: make(map[string]*window),
		now:     time.Now,
	}
}

// Allow counts the request against the source's current window, resetting the
// window when it has expired.
func (l *MemoryRateLimiter) Allow(_ context.Context, source string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, ok := l.windows[source]
	if !ok || now.After(w.resetAt) {
		w = &window{resetAt: now.Add(l.length)}
		l.windows[source] = w
	}
	w.count++
	return w.count <= l.limit, nil
}
