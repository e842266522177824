package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/songzhibin97/workflow-approval/types"
)

const createSnapshotTable = `
CREATE TABLE IF NOT EXISTS snapshots (
	key        TEXT PRIMARY KEY,
	value      BLOB NOT NULL,
	updated_at INTEGER NOT NULL
)`

const upsertSnapshot = `
INSERT INTO snapshots (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

// SQLiteOptions configures the SQLite snapshot store.
type SQLiteOptions struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	// Key overrides DefaultSnapshotKey.
	Key string
}

// SQLiteStorage keeps the snapshot in a single-row key-value table.
type SQLiteStorage struct {
	db  *sql.DB
	key string
}

// NewSQLiteStorage opens (and if needed creates) the database at opts.Path.
func NewSQLiteStorage(opts SQLiteOptions) (*SQLiteStorage, error) {
	if opts.Path == "" {
		return nil, errors.New("sqlite path is required")
	}
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", opts.Path)

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, createSnapshotTable); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	key := opts.Key
	if key == "" {
		key = DefaultSnapshotKey
	}
	return &SQLiteStorage{db: db, key: key}, nil
}

// LoadSnapshot reads and decodes the snapshot row.
func (s *SQLiteStorage) LoadSnapshot(ctx context.Context) (types.Snapshot, error) {
	return withContext(ctx, func() (types.Snapshot, error) {
		var data []byte
		err := s.db.QueryRowContext(ctx, "SELECT value FROM snapshots WHERE key = ?", s.key).Scan(&data)
		if errors.Is(err, sql.ErrNoRows) {
			return types.Snapshot{}, ErrSnapshotNotFound
		} else if err != nil {
			return types.Snapshot{}, fmt.Errorf("failed to query snapshot %s: %w", s.key, err)
		}
		return decodeSnapshot(data)
	})
}

// SaveSnapshot upserts the snapshot row.
func (s *SQLiteStorage) SaveSnapshot(ctx context.Context, snap types.Snapshot) error {
	return withContextError(ctx, func() error {
		data, err := encodeSnapshot(snap)
		if err != nil {
			return err
		}
		if _, err := s.db.ExecContext(ctx, upsertSnapshot, s.key, data, time.Now().UnixMilli()); err != nil {
			return fmt.Errorf("failed to save snapshot %s: %w", s.key, err)
		}
		return nil
	})
}

// Close closes the underlying database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
