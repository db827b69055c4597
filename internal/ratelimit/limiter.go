// Package ratelimit implements the fixed-window limiter that guards the
// break-glass approval path.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Result describes one limiter decision.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAfter time.Duration
	RetryAfter time.Duration
}

// Store is a shared counter store. IncrementWithExpiry must be atomic and set
// the expiry only when the key is created.
type Store interface {
	IncrementWithExpiry(ctx context.Context, key string, delta int64, expiration time.Duration) (int64, error)
	Delete(ctx context.Context, key string) error
}

// Option configures a FixedWindow.
type Option func(*FixedWindow)

// WithClock replaces time.Now; used by tests.
func WithClock(now func() time.Time) Option {
	return func(l *FixedWindow) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger sets the limiter logger.
func WithLogger(logger *zap.Logger) Option {
	return func(l *FixedWindow) {
		if logger != nil {
			l.logger = logger
		}
	}
}

// FixedWindow counts events per key in fixed, aligned windows. With a nil
// store it counts in process memory; otherwise counters live in the store and
// the local counters are used only while the store is failing.
type FixedWindow struct {
	store  Store
	limit  int
	window time.Duration
	now    func() time.Time
	logger *zap.Logger

	counters sync.Map
}

type windowCounter struct {
	mu          sync.Mutex
	count       int
	windowStart time.Time
}

// NewFixedWindow builds a limiter allowing limit events per window.
func NewFixedWindow(store Store, limit int, window time.Duration, opts ...Option) (*FixedWindow, error) {
	if limit <= 0 {
		return nil, errors.New("ratelimit: limit must be positive")
	}
	if window <= 0 {
		return nil, errors.New("ratelimit: window must be positive")
	}
	l := &FixedWindow{
		store:  store,
		limit:  limit,
		window: window,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Allow records one event for key and reports whether it fits the window.
func (l *FixedWindow) Allow(ctx context.Context, key string) (Result, error) {
	now := l.now()
	start := l.windowStart(now)
	if l.store == nil {
		return l.allowLocal(key, now, start), nil
	}
	res, err := l.allowDistributed(ctx, key, now, start)
	if err != nil {
		l.logger.Warn("rate limit store failed, counting locally",
			zap.String("key", key), zap.Error(err))
		return l.allowLocal(key, now, start), nil
	}
	return res, nil
}

// Reset clears the current window for key.
func (l *FixedWindow) Reset(ctx context.Context, key string) error {
	l.counters.Delete(key)
	if l.store == nil {
		return nil
	}
	if err := l.store.Delete(ctx, l.windowKey(key, l.windowStart(l.now()))); err != nil {
		return fmt.Errorf("reset %s: %w", key, err)
	}
	return nil
}

func (l *FixedWindow) windowStart(t time.Time) time.Time {
	n := l.window.Nanoseconds()
	return time.Unix(0, (t.UnixNano()/n)*n)
}

func (l *FixedWindow) windowKey(key string, start time.Time) string {
	return fmt.Sprintf("%s:fw:%d", key, start.UnixNano())
}

func (l *FixedWindow) allowLocal(key string, now, start time.Time) Result {
	v, _ := l.counters.LoadOrStore(key, &windowCounter{windowStart: start})
	wc := v.(*windowCounter)

	wc.mu.Lock()
	defer wc.mu.Unlock()
	if !wc.windowStart.Equal(start) {
		wc.count = 0
		wc.windowStart = start
	}
	allowed := wc.count < l.limit
	if allowed {
		wc.count++
	}
	return l.result(allowed, wc.count, now, start)
}

func (l *FixedWindow) allowDistributed(ctx context.Context, key string, now, start time.Time) (Result, error) {
	// A second of slack covers clock skew between instances.
	count, err := l.store.IncrementWithExpiry(ctx, l.windowKey(key, start), 1, l.window+time.Second)
	if err != nil {
		return Result{}, err
	}
	return l.result(count <= int64(l.limit), int(count), now, start), nil
}

func (l *FixedWindow) result(allowed bool, count int, now, start time.Time) Result {
	remaining := l.limit - count
	if remaining < 0 {
		remaining = 0
	}
	reset := start.Add(l.window).Sub(now)
	if reset < 0 {
		reset = 0
	}
	res := Result{Allowed: allowed, Limit: l.limit, Remaining: remaining, ResetAfter: reset}
	if !allowed {
		res.RetryAfter = reset
	}
	return res
}
