package cache

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore adapts a go-redis client to Store. Every call is bounded by the
// configured timeout so a slow backend degrades into misses.
type RedisStore struct {
	client  redis.UniversalClient
	timeout time.Duration
}

// NewRedisStore wraps client. A non-positive timeout leaves calls bounded only
// by the caller's context.
func NewRedisStore(client redis.UniversalClient, timeout time.Duration) *RedisStore {
	return &RedisStore{client: client, timeout: timeout}
}

func (s *RedisStore) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Get issues GET key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()

	val, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return val, true, nil
}

// Set issues SET key value EX ttl.
func (s *RedisStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.client.Set(ctx, key, value, ttl).Err()
}

// ScanPrefix issues SCAN cursor MATCH prefix* COUNT count.
func (s *RedisStore) ScanPrefix(ctx context.Context, prefix string, cursor uint64, count int64) ([]string, uint64, error) {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.client.Scan(ctx, cursor, escapeGlob(prefix)+"*", count).Result()
}

// DeleteMany issues DEL keys...
func (s *RedisStore) DeleteMany(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.client.Del(ctx, keys...).Result()
}

// Ping verifies connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := s.bound(ctx)
	defer cancel()
	return s.client.Ping(ctx).Err()
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

// escapeGlob quotes SCAN MATCH metacharacters so prefixes match literally.
func escapeGlob(s string) string {
	return globEscaper.Replace(s)
}
