package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_040, 0)}
}

func TestNewFixedWindowValidates(t *testing.T) {
	_, err := NewFixedWindow(nil, 0, time.Minute)
	assert.Error(t, err)
	_, err = NewFixedWindow(nil, 1, 0)
	assert.Error(t, err)
}

func TestFixedWindowLocal(t *testing.T) {
	clock := newClock()
	l, err := NewFixedWindow(nil, 3, time.Minute, WithClock(clock.Now))
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := l.Allow(ctx, "user-1")
		require.NoError(t, err)
		assert.True(t, res.Allowed, "event %d", i)
		assert.Equal(t, 2-i, res.Remaining)
	}

	res, err := l.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Equal(t, time.Minute, res.RetryAfter)

	other, err := l.Allow(ctx, "user-2")
	require.NoError(t, err)
	assert.True(t, other.Allowed, "keys must be independent")

	clock.Advance(time.Minute)
	res, err = l.Allow(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, res.Allowed, "new window must reset the counter")
}

func TestFixedWindowLocalConcurrent(t *testing.T) {
	l, err := NewFixedWindow(nil, 10, time.Hour)
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, _ := l.Allow(context.Background(), "k")
			if res.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, allowed, 10)
	assert.GreaterOrEqual(t, allowed, 1)
}

func TestFixedWindowRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	clock := newClock()
	store := NewRedisStore(client, "test:")
	l, err := NewFixedWindow(store, 2, time.Minute, WithClock(clock.Now))
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		res, err := l.Allow(ctx, "approver")
		require.NoError(t, err)
		assert.True(t, res.Allowed)
	}
	res, err := l.Allow(ctx, "approver")
	require.NoError(t, err)
	assert.False(t, res.Allowed)
	assert.Greater(t, res.RetryAfter, time.Duration(0))

	keys := mr.Keys()
	require.Len(t, keys, 1)
	assert.Greater(t, mr.TTL(keys[0]), time.Duration(0), "window key must expire")

	// A second limiter sharing the store sees the same counter.
	peer, err := NewFixedWindow(store, 2, time.Minute, WithClock(clock.Now))
	require.NoError(t, err)
	res, err = peer.Allow(ctx, "approver")
	require.NoError(t, err)
	assert.False(t, res.Allowed)

	require.NoError(t, l.Reset(ctx, "approver"))
	res, err = l.Allow(ctx, "approver")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
}

func TestFixedWindowFallsBackWhenStoreFails(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	mr.Close()

	l, err := NewFixedWindow(NewRedisStore(client, ""), 1, time.Minute)
	require.NoError(t, err)

	res, err := l.Allow(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, res.Allowed)
	res, err = l.Allow(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, res.Allowed, "local fallback must still enforce the limit")
}
