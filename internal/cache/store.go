// Package cache implements the read-through cache that sits in front of
// ticket and alert queries: a key/value store adapter, deterministic keys,
// a compact payload codec, and prefix invalidation.
package cache

import (
	"context"
	"time"
)

// Store is the key/value backend behind the read-through cache.
//
// ScanPrefix walks keys starting with prefix one page at a time. A returned
// cursor of zero means the walk is complete. Implementations may return a key
// more than once across pages.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	ScanPrefix(ctx context.Context, prefix string, cursor uint64, count int64) ([]string, uint64, error)
	DeleteMany(ctx context.Context, keys ...string) (int64, error)
	Ping(ctx context.Context) error
}
