package cache

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// InvalidationResult reports what a prefix invalidation removed and which
// prefixes could not be fully purged.
type InvalidationResult struct {
	Deleted int64
	Failed  map[string]error
}

// OK reports whether every prefix was purged.
func (r InvalidationResult) OK() bool {
	return len(r.Failed) == 0
}

// InvalidatePrefixes deletes every key under each prefix, one goroutine per
// prefix. It is detached from ctx cancellation: a mutation that already
// committed still purges its stale views after the caller goes away. Failures
// are logged and reported, never returned as errors.
func (c *Cache) InvalidatePrefixes(ctx context.Context, prefixes ...string) InvalidationResult {
	result := InvalidationResult{Failed: map[string]error{}}
	if c == nil || c.store == nil || len(prefixes) == 0 {
		return result
	}
	ctx = context.WithoutCancel(ctx)

	seen := make(map[string]struct{}, len(prefixes))
	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	for _, prefix := range prefixes {
		if prefix == "" {
			continue
		}
		if _, dup := seen[prefix]; dup {
			continue
		}
		seen[prefix] = struct{}{}

		g.Go(func() error {
			n, err := c.invalidatePrefix(ctx, prefix)
			mu.Lock()
			defer mu.Unlock()
			result.Deleted += n
			if err != nil {
				result.Failed[prefix] = err
				c.logger.Warn("cache invalidation failed",
					zap.String("prefix", prefix), zap.Int64("deleted", n), zap.Error(err))
				c.record(EventError, 1)
			}
			return nil
		})
	}
	_ = g.Wait()

	c.record(EventInvalidated, result.Deleted)
	return result
}

func (c *Cache) invalidatePrefix(ctx context.Context, prefix string) (int64, error) {
	var (
		cursor uint64
		total  int64
	)
	for {
		keys, next, err := c.store.ScanPrefix(ctx, prefix, cursor, c.scanCount)
		if err != nil {
			return total, err
		}
		if len(keys) > 0 {
			n, err := c.store.DeleteMany(ctx, keys...)
			total += n
			if err != nil {
				return total, err
			}
		}
		if next == 0 {
			return total, nil
		}
		cursor = next
	}
}
