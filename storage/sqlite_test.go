package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSQLite(t *testing.T, path string) *SQLiteStorage {
	t.Helper()
	store, err := NewSQLiteStorage(SQLiteOptions{Path: path, MaxOpenConns: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSQLiteStorage(t *testing.T) {
	t.Run("PathRequired", func(t *testing.T) {
		_, err := NewSQLiteStorage(SQLiteOptions{})
		assert.Error(t, err)
	})

	t.Run("SaveAndLoad", func(t *testing.T) {
		store := newTestSQLite(t, filepath.Join(t.TempDir(), "workflows.db"))
		ctx := context.Background()

		_, err := store.LoadSnapshot(ctx)
		assert.ErrorIs(t, err, ErrSnapshotNotFound)

		snap := newSnapshot(4)
		require.NoError(t, store.SaveSnapshot(ctx, snap))
		got, err := store.LoadSnapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, snap, got)

		// overwrite keeps a single row
		next := newSnapshot(2)
		require.NoError(t, store.SaveSnapshot(ctx, next))
		got, err = store.LoadSnapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, next, got)

		var rows int
		require.NoError(t, store.db.QueryRow("SELECT COUNT(*) FROM snapshots").Scan(&rows))
		assert.Equal(t, 1, rows)
	})

	t.Run("SurvivesReopen", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "workflows.db")
		ctx := context.Background()

		first, err := NewSQLiteStorage(SQLiteOptions{Path: path})
		require.NoError(t, err)
		snap := newSnapshot(3)
		require.NoError(t, first.SaveSnapshot(ctx, snap))
		require.NoError(t, first.Close())

		second := newTestSQLite(t, path)
		got, err := second.LoadSnapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, snap, got)
	})

	t.Run("KeysAreIsolated", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "workflows.db")
		ctx := context.Background()
		a, err := NewSQLiteStorage(SQLiteOptions{Path: path, Key: "a"})
		require.NoError(t, err)
		defer a.Close()
		b, err := NewSQLiteStorage(SQLiteOptions{Path: path, Key: "b"})
		require.NoError(t, err)
		defer b.Close()

		require.NoError(t, a.SaveSnapshot(ctx, newSnapshot(1)))
		_, err = b.LoadSnapshot(ctx)
		assert.ErrorIs(t, err, ErrSnapshotNotFound)
	})

	t.Run("ContextCancellation", func(t *testing.T) {
		store := newTestSQLite(t, filepath.Join(t.TempDir(), "workflows.db"))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		assert.ErrorIs(t, store.SaveSnapshot(ctx, newSnapshot(1)), context.Canceled)
		_, err := store.LoadSnapshot(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}
