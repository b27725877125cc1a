package counter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis key prefix for admission counters.
const keyPrefix = "adm:"

// RedisStore implements Store on Redis. INCR is atomic server-side, and the
// whole increment-arm-read sequence runs in one MULTI/EXEC transaction, so
// the exactness guarantee holds across gateway instances.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore constructs a Redis-backed counter store. The client lifecycle
// is managed externally.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Incr atomically increments key, arming the TTL on first increment.
func (s *RedisStore) Incr(ctx context.Context, key string, ttl time.Duration) (int64, time.Duration, error) {
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, keyPrefix+key)
	pipe.ExpireNX(ctx, keyPrefix+key, ttl)
	pttl := pipe.PTTL(ctx, keyPrefix+key)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, 0, fmt.Errorf("counter incr %s: %w", key, err)
	}

	remaining := pttl.Val()
	if remaining < 0 {
		remaining = ttl
	}
	return incr.Val(), remaining, nil
}

// Get returns the current count; missing keys read as zero.
func (s *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	n, err := s.client.Get(ctx, keyPrefix+key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("counter get %s: %w", key, err)
	}
	return n, nil
}
