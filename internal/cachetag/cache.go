package cachetag

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.uber.org/zap"

	"peoplegate.org/internal/authz"
	"peoplegate.org/internal/obs"
)

// Cache is the read-through wrapper used by use-cases.
type Cache struct {
	backend Backend
	ttl     time.Duration
	logger  *zap.Logger
}

// New returns a Cache over backend. A nil backend disables caching.
func New(backend Backend, ttl time.Duration, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Cache{backend: backend, ttl: ttl, logger: logger}
}

// Read returns the cached value for key within scope, loading and storing it
// on a miss. Elevated classifications bypass the backend entirely; backend
// failures fall back to load.
func Read[T any](ctx context.Context, c *Cache, ac *authz.AuthorizationContext, scope Scope, key string, load func(context.Context) (T, error)) (T, error) {
	if c == nil || c.backend == nil || ac == nil || !Cacheable(ac.DataClassification()) {
		obs.CacheReads.WithLabelValues(string(scope), "bypass").Inc()
		return load(ctx)
	}

	tag := TagFor(ac, scope)
	ek := entryKey(tag, key)

	raw, err := c.backend.Get(ctx, ek)
	switch {
	case err == nil:
		var v T
		if jerr := json.Unmarshal(raw, &v); jerr == nil {
			obs.CacheReads.WithLabelValues(string(scope), "hit").Inc()
			return v, nil
		}
		c.logger.Warn("cache entry undecodable, reloading", zap.String("tag", tag))
	case errors.Is(err, ErrMiss):
	default:
		c.logger.Warn("cache read failed", zap.String("tag", tag), zap.Error(err))
		obs.CacheReads.WithLabelValues(string(scope), "error").Inc()
		return load(ctx)
	}

	obs.CacheReads.WithLabelValues(string(scope), "miss").Inc()
	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	c.store(ctx, tag, ek, v)
	return v, nil
}

func (c *Cache) store(ctx context.Context, tag, key string, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("cache value not encodable", zap.String("tag", tag), zap.Error(err))
		return
	}
	if err := c.backend.Set(ctx, key, raw, c.ttl); err != nil {
		c.logger.Warn("cache write failed", zap.String("tag", tag), zap.Error(err))
		return
	}
	if err := c.backend.RegisterTag(ctx, tag, key, c.ttl); err != nil {
		c.logger.Warn("cache tag registration failed", zap.String("tag", tag), zap.Error(err))
	}
}

// Invalidate drops every entry cached for scope in ac's org. Errors are
// logged and never returned.
func (c *Cache) Invalidate(ctx context.Context, ac *authz.AuthorizationContext, scope Scope) {
	if c == nil || c.backend == nil || ac == nil || !Cacheable(ac.DataClassification()) {
		return
	}
	tag := TagFor(ac, scope)
	if err := c.backend.InvalidateTag(ctx, tag); err != nil {
		c.logger.Warn("cache invalidation failed", zap.String("tag", tag), zap.Error(err))
	}
}
