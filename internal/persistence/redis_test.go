package persistence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/ticket-sync/internal/config"
)

func TestNewRedis_UnreachableIsNotFatal(t *testing.T) {
	r := NewRedis(context.Background(), config.RedisConfig{
		Addr:        "127.0.0.1:1",
		PoolSize:    2,
		DialTimeout: 50 * time.Millisecond,
	}, zap.NewNop())
	require.NotNil(t, r)
	defer r.Close()

	assert.Equal(t, 2, r.Client.Options().PoolSize)
	assert.Error(t, r.Ping(context.Background()))

	// The raw store reports the failure; the cache layer degrades it to a miss.
	store := r.Store(50 * time.Millisecond)
	_, ok, err := store.Get(context.Background(), "ticket:1")
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestRedis_NilReceiver(t *testing.T) {
	var r *Redis
	assert.Error(t, r.Ping(context.Background()))
	r.Close()
}
