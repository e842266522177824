package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, RedisOptions) {
	t.Helper()
	mr := miniredis.RunT(t)
	return mr, RedisOptions{
		Addr:         mr.Addr(),
		PoolSize:     10,
		MinIdleConns: 2,
		IdleTimeout:  5 * time.Minute,
	}
}

func TestRedisStorage(t *testing.T) {
	t.Run("NewRedisStorage", func(t *testing.T) {
		_, opts := newTestRedis(t)
		store, err := NewRedisStorage(opts)
		require.NoError(t, err)
		defer store.Close()
		assert.Equal(t, "workflow:snapshot:workflows", store.Key())

		badOpts := opts
		badOpts.Addr = "127.0.0.1:1"
		_, err = NewRedisStorage(badOpts)
		assert.Error(t, err)
	})

	t.Run("SaveAndLoad", func(t *testing.T) {
		mr, opts := newTestRedis(t)
		store, err := NewRedisStorage(opts)
		require.NoError(t, err)
		defer store.Close()
		ctx := context.Background()

		_, err = store.LoadSnapshot(ctx)
		assert.ErrorIs(t, err, ErrSnapshotNotFound)

		snap := newSnapshot(4)
		require.NoError(t, store.SaveSnapshot(ctx, snap))
		assert.True(t, mr.Exists(store.Key()))

		got, err := store.LoadSnapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, snap, got)
	})

	t.Run("CustomKey", func(t *testing.T) {
		mr, opts := newTestRedis(t)
		opts.Key = "tenant-a"
		store, err := NewRedisStorage(opts)
		require.NoError(t, err)
		defer store.Close()

		require.NoError(t, store.SaveSnapshot(context.Background(), newSnapshot(1)))
		assert.True(t, mr.Exists("workflow:snapshot:tenant-a"))
		assert.False(t, mr.Exists("workflow:snapshot:workflows"))
	})

	t.Run("CorruptValue", func(t *testing.T) {
		mr, opts := newTestRedis(t)
		store, err := NewRedisStorage(opts)
		require.NoError(t, err)
		defer store.Close()

		require.NoError(t, mr.Set(store.Key(), "garbage"))
		_, err = store.LoadSnapshot(context.Background())
		assert.Error(t, err)
		assert.NotErrorIs(t, err, ErrSnapshotNotFound)
	})

	t.Run("ContextCancellation", func(t *testing.T) {
		_, opts := newTestRedis(t)
		store, err := NewRedisStorage(opts)
		require.NoError(t, err)
		defer store.Close()

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		assert.ErrorIs(t, store.SaveSnapshot(ctx, newSnapshot(1)), context.Canceled)
		_, err = store.LoadSnapshot(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
