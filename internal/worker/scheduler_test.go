package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spec-kit/ticket-sync/internal/cache"
)

func TestScheduler_RunsJobsUntilCancelled(t *testing.T) {
	sched := NewScheduler(nil)
	var calls int32
	require.NoError(t, sched.Add("sweep", "@every 1s", func(ctx context.Context) error {
		atomic.AddInt32(&calls, 1)
		return errors.New("logged, not fatal")
	}))
	assert.Equal(t, 1, sched.JobCount())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Start(ctx) }()

	require.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 1 }, 3*time.Second, 50*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop")
	}
}

func TestScheduler_InvalidSchedule(t *testing.T) {
	sched := NewScheduler(nil)
	err := sched.Add("sweep", "every minute", func(context.Context) error { return nil })
	require.Error(t, err)
	assert.Zero(t, sched.JobCount())
}

func TestScheduler_DuplicateName(t *testing.T) {
	sched := NewScheduler(nil)
	noop := func(context.Context) error { return nil }
	require.NoError(t, sched.Add("retention", "@daily", noop))
	assert.Error(t, sched.Add("retention", "@hourly", noop))
}

type pruner struct {
	cutoff  time.Time
	deleted int64
}

func (p *pruner) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	p.cutoff = cutoff
	return p.deleted, nil
}

type invalidations struct {
	prefixes []string
}

func (i *invalidations) InvalidatePrefixes(_ context.Context, prefixes ...string) cache.InvalidationResult {
	i.prefixes = append(i.prefixes, prefixes...)
	return cache.InvalidationResult{}
}

type sweeper struct {
	err error
}

func (s sweeper) SweepSLA(context.Context) (int64, error) {
	return 0, s.err
}

func TestAuditRetentionJob_Cutoff(t *testing.T) {
	now := time.Date(2026, 6, 1, 3, 0, 0, 0, time.UTC)
	p := &pruner{deleted: 3}
	inv := &invalidations{}
	job := AuditRetentionJob(p, inv, 365*24*time.Hour, func() time.Time { return now }, nil)

	require.NoError(t, job(context.Background()))
	assert.Equal(t, now.Add(-365*24*time.Hour), p.cutoff)
	assert.Equal(t, []string{"tickets:audit:"}, inv.prefixes)
}

func TestAuditRetentionJob_NothingPrunedKeepsCache(t *testing.T) {
	inv := &invalidations{}
	job := AuditRetentionJob(&pruner{}, inv, time.Hour, nil, nil)

	require.NoError(t, job(context.Background()))
	assert.Empty(t, inv.prefixes)
}

func TestAuditRetentionJob_PurgesRealCache(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	c, err := cache.New(store, cache.Options{})
	require.NoError(t, err)

	require.NoError(t, store.Set(ctx, "tickets:audit:abc:digest", []byte("x"), time.Minute))
	require.NoError(t, store.Set(ctx, "tickets:detail:abc:digest", []byte("y"), time.Minute))

	job := AuditRetentionJob(&pruner{deleted: 1}, c, time.Hour, nil, nil)
	require.NoError(t, job(ctx))

	_, ok, err := store.Get(ctx, "tickets:audit:abc:digest")
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = store.Get(ctx, "tickets:detail:abc:digest")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSLASweepJob_PropagatesError(t *testing.T) {
	boom := errors.New("db down")
	assert.ErrorIs(t, SLASweepJob(sweeper{err: boom})(context.Background()), boom)
	assert.NoError(t, SLASweepJob(sweeper{})(context.Background()))
}
