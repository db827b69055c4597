package cachetag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores entries as plain keys and each tag as a Redis set of
// the keys registered under it.
type RedisBackend struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisBackend wraps client. All keys are namespaced with prefix.
func NewRedisBackend(client redis.UniversalClient, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "cachetag:"
	}
	return &RedisBackend{client: client, prefix: prefix}
}

func (r *RedisBackend) tagKey(tag string) string { return r.prefix + "tag:" + tag }

func (r *RedisBackend) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	return v, nil
}

func (r *RedisBackend) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := r.client.Set(ctx, r.prefix+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// RegisterTag adds key to the tag set and pushes the set's expiry out to ttl.
// A Cache writes every entry with the same ttl, so the set outlives its
// newest member and no tag set lives forever.
func (r *RedisBackend) RegisterTag(ctx context.Context, tag, key string, ttl time.Duration) error {
	tk := r.tagKey(tag)
	_, err := r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, tk, key)
		if ttl > 0 {
			p.PExpire(ctx, tk, ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis register tag: %w", err)
	}
	return nil
}

// InvalidateTag deletes every registered key and then the tag set. Keys are
// deleted one per command so the call works on cluster clients, where the
// keys of a tag can live in different slots.
func (r *RedisBackend) InvalidateTag(ctx context.Context, tag string) error {
	tk := r.tagKey(tag)
	members, err := r.client.SMembers(ctx, tk).Result()
	if err != nil {
		return fmt.Errorf("redis smembers: %w", err)
	}
	_, err = r.client.Pipelined(ctx, func(p redis.Pipeliner) error {
		for _, m := range members {
			p.Del(ctx, r.prefix+m)
		}
		p.Del(ctx, tk)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}
