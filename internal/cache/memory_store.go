package cache

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
	seq       uint64
}

// MemoryStore is an in-process Store with TTL expiry. It serves single-node
// deployments and tests.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	seq     uint64
	now     func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memoryEntry), now: time.Now}
}

// WithClock replaces the time source; used to drive expiry in tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	return s
}

func (s *MemoryStore) liveLocked(key string) (memoryEntry, bool) {
	entry, ok := s.entries[key]
	if !ok {
		return memoryEntry{}, false
	}
	if !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt) {
		delete(s.entries, key)
		return memoryEntry{}, false
	}
	return entry, true
}

func (s *MemoryStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.liveLocked(key)
	if !ok {
		return nil, false, nil
	}
	out := make([]byte, len(entry.value))
	copy(out, entry.value)
	return out, true, nil
}

func (s *MemoryStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	stored := make([]byte, len(value))
	copy(stored, value)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	entry := memoryEntry{value: stored, seq: s.seq}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = entry
	return nil
}

// ScanPrefix pages through matching keys in write order. The cursor is the
// write sequence of the last key returned, so deleting keys between pages
// never shifts the walk.
func (s *MemoryStore) ScanPrefix(ctx context.Context, prefix string, cursor uint64, count int64) ([]string, uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if count <= 0 {
		count = 10
	}
	type match struct {
		key string
		seq uint64
	}
	s.mu.Lock()
	matched := make([]match, 0)
	for key := range s.entries {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if entry, ok := s.liveLocked(key); ok && entry.seq > cursor {
			matched = append(matched, match{key: key, seq: entry.seq})
		}
	}
	s.mu.Unlock()
	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })

	if len(matched) == 0 {
		return nil, 0, nil
	}
	page := matched
	var next uint64
	if int64(len(matched)) > count {
		page = matched[:count]
		next = page[len(page)-1].seq
	}
	keys := make([]string, len(page))
	for i, m := range page {
		keys[i] = m.key
	}
	return keys, next, nil
}

func (s *MemoryStore) DeleteMany(ctx context.Context, keys ...string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var removed int64
	for _, key := range keys {
		if _, ok := s.liveLocked(key); ok {
			delete(s.entries, key)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Len reports the number of live entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for key := range s.entries {
		if _, ok := s.liveLocked(key); ok {
			n++
		}
	}
	return n
}
