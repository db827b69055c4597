package cachetag

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// delRecorder captures the key count of every DEL sent to Redis.
type delRecorder struct {
	mu   sync.Mutex
	dels []int
}

func (h *delRecorder) record(cmd redis.Cmder) {
	if strings.EqualFold(cmd.Name(), "del") {
		h.mu.Lock()
		h.dels = append(h.dels, len(cmd.Args())-1)
		h.mu.Unlock()
	}
}

func (h *delRecorder) DialHook(next redis.DialHook) redis.DialHook { return next }

func (h *delRecorder) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		h.record(cmd)
		return next(ctx, cmd)
	}
}

func (h *delRecorder) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return func(ctx context.Context, cmds []redis.Cmder) error {
		for _, cmd := range cmds {
			h.record(cmd)
		}
		return next(ctx, cmds)
	}
}

func TestRedisTagSetExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	b := NewRedisBackend(client, "t:")
	ctx := context.Background()

	require.NoError(t, b.Set(ctx, "k1", []byte("v"), time.Minute))
	require.NoError(t, b.RegisterTag(ctx, "org:a", "k1", time.Minute))
	assert.Equal(t, time.Minute, mr.TTL("t:tag:org:a"))

	mr.FastForward(2 * time.Minute)
	assert.False(t, mr.Exists("t:tag:org:a"), "tag set must expire with its entries")
	assert.False(t, mr.Exists("t:k1"))
}

func TestRedisInvalidateDeletesKeysIndividually(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	rec := &delRecorder{}
	client.AddHook(rec)
	b := NewRedisBackend(client, "t:")
	ctx := context.Background()

	for _, k := range []string{"k1", "k2", "k3"} {
		require.NoError(t, b.Set(ctx, k, []byte("v"), time.Minute))
		require.NoError(t, b.RegisterTag(ctx, "org:a", k, time.Minute))
	}
	require.NoError(t, b.Set(ctx, "other", []byte("v"), time.Minute))

	require.NoError(t, b.InvalidateTag(ctx, "org:a"))

	for _, k := range []string{"t:k1", "t:k2", "t:k3", "t:tag:org:a"} {
		assert.False(t, mr.Exists(k), k)
	}
	assert.True(t, mr.Exists("t:other"))
	require.Len(t, rec.dels, 4)
	for _, n := range rec.dels {
		assert.Equal(t, 1, n, "each DEL must carry a single key")
	}
}
