package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps window counters in Redis so every replica shares them.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore wraps client; keys are namespaced with prefix.
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "ratelimit:"
	}
	return &RedisStore{client: client, prefix: prefix}
}

// IncrementWithExpiry implements Store.
func (s *RedisStore) IncrementWithExpiry(ctx context.Context, key string, delta int64, expiration time.Duration) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("context error before redis incr: %w", err)
	}
	full := s.prefix + key
	pipe := s.client.TxPipeline()
	incr := pipe.IncrBy(ctx, full, delta)
	ttl := pipe.PTTL(ctx, full)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis incr error: %w", err)
	}
	// PTTL is negative when the key has no expiry yet.
	if ttl.Val() < 0 {
		if err := s.client.PExpire(ctx, full, expiration).Err(); err != nil {
			return 0, fmt.Errorf("redis pexpire error: %w", err)
		}
	}
	return incr.Val(), nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("redis del error: %w", err)
	}
	return nil
}
