package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Cache outcomes reported to the Recorder.
const (
	EventHit         = "hit"
	EventMiss        = "miss"
	EventError       = "error"
	EventShared      = "shared"
	EventInvalidated = "invalidated"
	EventUncacheable = "uncacheable"
)

// Recorder receives cache outcome counters.
type Recorder interface {
	RecordCache(event string, n int64)
}

// Options tune a Cache.
type Options struct {
	Logger    *zap.Logger
	Recorder  Recorder
	Codec     *Codec
	ScanCount int64
}

// Cache is a read-through cache over a Store. Backend failures never reach
// callers: reads degrade to misses, writes and invalidations are logged.
type Cache struct {
	store     Store
	codec     *Codec
	logger    *zap.Logger
	recorder  Recorder
	scanCount int64
	flight    singleflight.Group
}

// New builds a Cache. A nil store yields a pass-through cache that always runs
// the loader.
func New(store Store, opts Options) (*Cache, error) {
	codec := opts.Codec
	if codec == nil {
		var err error
		codec, err = NewCodec(0)
		if err != nil {
			return nil, err
		}
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	scanCount := opts.ScanCount
	if scanCount <= 0 {
		scanCount = 100
	}
	return &Cache{
		store:     store,
		codec:     codec,
		logger:    logger,
		recorder:  opts.Recorder,
		scanCount: scanCount,
	}, nil
}

// Store exposes the backend for health checks.
func (c *Cache) Store() Store {
	return c.store
}

func (c *Cache) record(event string, n int64) {
	if c.recorder != nil {
		c.recorder.RecordCache(event, n)
	}
}

// GetOrSet returns the cached value under key, or runs loader, stores its
// result for ttl, and returns it. Concurrent misses on the same key share a
// single loader call; each waiter still honors its own context.
//
// The shared call runs under the context of whichever caller started it. If
// that caller goes away mid-load, waiters whose own context is still live load
// again under their own context instead of inheriting the cancellation.
func GetOrSet[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, loader func(context.Context) (T, error)) (T, error) {
	var zero T
	if c == nil || c.store == nil {
		return loader(ctx)
	}
	if v, ok := lookup[T](ctx, c, key); ok {
		return v, nil
	}

	for retried := false; ; retried = true {
		ch := c.flight.DoChan(key, func() (any, error) {
			v, err := loader(ctx)
			if err != nil {
				return nil, err
			}
			c.put(context.WithoutCancel(ctx), key, v, ttl)
			return v, nil
		})

		var res singleflight.Result
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case res = <-ch:
		}

		if res.Err != nil {
			if !retried && res.Shared && ctx.Err() == nil && isContextErr(res.Err) {
				c.logger.Debug("shared load cancelled by its caller; reloading", zap.String("key", key))
				continue
			}
			return zero, res.Err
		}
		if res.Shared {
			c.record(EventShared, 1)
		}
		v, ok := res.Val.(T)
		if !ok {
			return zero, fmt.Errorf("cache: key %s loaded %T", key, res.Val)
		}
		return v, nil
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// GetOrSetQuery keys the result by namespace and params. Parameters without a
// canonical form bypass the cache and go straight to the loader.
func GetOrSetQuery[T any](ctx context.Context, c *Cache, namespace string, params Params, ttl time.Duration, loader func(context.Context) (T, error)) (T, error) {
	key, err := BuildKey(namespace, params)
	if err != nil {
		if c != nil {
			c.logger.Warn("cache key rejected; loading uncached",
				zap.String("namespace", namespace), zap.Error(err))
			c.record(EventUncacheable, 1)
		}
		return loader(ctx)
	}
	return GetOrSet(ctx, c, key, ttl, loader)
}

func lookup[T any](ctx context.Context, c *Cache, key string) (T, bool) {
	var v T
	data, ok, err := c.store.Get(ctx, key)
	if err != nil {
		c.logger.Warn("cache get failed", zap.String("key", key), zap.Error(err))
		c.record(EventError, 1)
		return v, false
	}
	if !ok {
		c.record(EventMiss, 1)
		return v, false
	}
	if err := c.codec.Decode(data, &v); err != nil {
		c.logger.Warn("cache entry undecodable", zap.String("key", key), zap.Error(err))
		c.record(EventError, 1)
		var empty T
		return empty, false
	}
	c.record(EventHit, 1)
	return v, true
}

func (c *Cache) put(ctx context.Context, key string, v any, ttl time.Duration) {
	data, err := c.codec.Encode(v)
	if err != nil {
		c.logger.Warn("cache encode failed", zap.String("key", key), zap.Error(err))
		c.record(EventError, 1)
		return
	}
	if err := c.store.Set(ctx, key, data, ttl); err != nil {
		c.logger.Warn("cache set failed", zap.String("key", key), zap.Error(err))
		c.record(EventError, 1)
	}
}

// Ping checks the backend.
func (c *Cache) Ping(ctx context.Context) error {
	if c == nil || c.store == nil {
		return errors.New("cache not configured")
	}
	return c.store.Ping(ctx)
}
