package webhook

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	dedupKeyPrefix = "dedup:webhook:v1:"

	// DefaultDedupTTL keeps processed webhook ids for a day, comfortably past
	// any provider's redelivery horizon.
	DefaultDedupTTL = 24 * time.Hour
)

// DedupStore remembers processed webhook ids. Delivery is at-least-once and
// can span process restarts, so durable implementations must use shared
// storage; balance safety itself never depends on this store because the
// ledger's terminal-state check is authoritative. The dedup store exists to
// stop duplicated side effects such as notification emails.
type DedupStore interface {
	// MarkProcessed records the id and reports whether it was seen before.
	MarkProcessed(ctx context.Context, id string) (seen bool, err error)

	// Forget releases the id so a later redelivery is admitted again.
	Forget(ctx context.Context, id string) error
}

// AllowAll treats every webhook as new. It is the default: idempotency is
// enforced by the ledger's terminal-state check alone.
type AllowAll struct{}

// MarkProcessed always reports unseen.
func (AllowAll) MarkProcessed(_ context.Context, _ string) (bool, error) {
	return false, nil
}

// Forget is a no-op; nothing was recorded.
func (AllowAll) Forget(_ context.Context, _ string) error {
	return nil
}

// RedisDedup is the durable dedup store, keyed per webhook id with a TTL.
type RedisDedup struct {
	cache *redis.Client
	ttl   time.Duration
}

// NewRedisDedup builds the Redis-backed dedup store.
func NewRedisDedup(cache *redis.Client, ttl time.Duration) *RedisDedup {
	if ttl <= 0 {
		ttl = DefaultDedupTTL
	}
	return &RedisDedup{cache: cache, ttl: ttl}
}

// MarkProcessed reserves the id with SetNX; a failed reservation means the id
// was already processed.
func (d *RedisDedup) MarkProcessed(ctx context.Context, id string) (bool, error) {
	ok, err := d.cache.SetNX(ctx, dedupKeyPrefix+id, 1, d.ttl).Result()
	if err != nil {
		return false, err
	}
	return !ok, nil
}

// Forget drops the reservation. Called when processing failed and the
// transport answer asks the sender to redeliver.
func (d *RedisDedup) Forget(ctx context.Context, id string) error {
	return d.cache.Del(ctx, dedupKeyPrefix+id).Err()
}
