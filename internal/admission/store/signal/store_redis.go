package signal

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"vida-gateway/pkg/domain"
)

// Redis key prefixes for threat state.
const (
	traceKeyPrefix    = "threat:trace:"
	cooldownKeyPrefix = "threat:cooldown:"
)

// RedisStore implements Store on Redis sorted sets: member = tier|resource|id,
// score = unix nanos. Pruning is a ZREMRANGEBYSCORE on the same pipeline as
// the insert.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore constructs a Redis-backed signal store.
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// Append records a fingerprint and prunes entries older than window.
func (s *RedisStore) Append(ctx context.Context, identifier string, fp Fingerprint, window time.Duration) error {
	key := traceKeyPrefix + identifier
	// The uuid suffix keeps members unique so repeated hits on one resource
	// are counted, not collapsed.
	member := string(fp.Tier) + "|" + fp.Resource + "|" + uuid.NewString()
	cutoff := fp.Timestamp.Add(-window).UnixNano()

	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(fp.Timestamp.UnixNano()), Member: member})
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(cutoff, 10))
	pipe.Expire(ctx, key, window+time.Minute)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("signal append %s: %w", identifier, err)
	}
	return nil
}

// Window returns fingerprints recorded since the given time.
func (s *RedisStore) Window(ctx context.Context, identifier string, since time.Time) ([]Fingerprint, error) {
	key := traceKeyPrefix + identifier
	entries, err := s.client.ZRangeByScoreWithScores(ctx, key, &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(since.UnixNano(), 10),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("signal window %s: %w", identifier, err)
	}

	out := make([]Fingerprint, 0, len(entries))
	for _, z := range entries {
		member, ok := z.Member.(string)
		if !ok {
			continue
		}
		parts := strings.SplitN(member, "|", 3)
		if len(parts) != 3 {
			continue
		}
		out = append(out, Fingerprint{
			Timestamp: time.Unix(0, int64(z.Score)),
			Tier:      domain.Tier(parts[0]),
			Resource:  parts[1],
		})
	}
	return out, nil
}

// SetCooldown extends the identifier's cooldown. SET with KEEPTTL semantics
// are not needed: the value is the expiry itself and GT guards shortening.
func (s *RedisStore) SetCooldown(ctx context.Context, identifier string, until time.Time) error {
	key := cooldownKeyPrefix + identifier
	current, err := s.CooldownUntil(ctx, identifier)
	if err != nil {
		return err
	}
	if until.Before(current) {
		return nil
	}
	ttl := time.Until(until)
	if ttl <= 0 {
		return nil
	}
	if err := s.client.Set(ctx, key, strconv.FormatInt(until.UnixNano(), 10), ttl).Err(); err != nil {
		return fmt.Errorf("signal cooldown %s: %w", identifier, err)
	}
	return nil
}

// CooldownUntil returns the cooldown expiry, or zero when none.
func (s *RedisStore) CooldownUntil(ctx context.Context, identifier string) (time.Time, error) {
	val, err := s.client.Get(ctx, cooldownKeyPrefix+identifier).Result()
	if err == redis.Nil {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("signal cooldown get %s: %w", identifier, err)
	}
	nanos, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("signal cooldown parse %s: %w", identifier, err)
	}
	return time.Unix(0, nanos), nil
}
