package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/songzhibin97/workflow-approval/types"
)

const snapshotPrefix = "workflow:snapshot:"

// RedisStorage is a Redis-backed implementation of the Storage interface.
// The snapshot is stored as one JSON value so a save is a single SET.
type RedisStorage struct {
	client *redis.Client
	key    string
}

// RedisOptions extends redis.Options with additional configuration.
type RedisOptions struct {
	Addr         string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	IdleTimeout  time.Duration
	// Key overrides DefaultSnapshotKey.
	Key string
}

// NewRedisStorage creates a new RedisStorage instance with configurable options.
func NewRedisStorage(opts RedisOptions) (*RedisStorage, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     opts.PoolSize,
		MinIdleConns: opts.MinIdleConns,
		IdleTimeout:  opts.IdleTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	key := opts.Key
	if key == "" {
		key = DefaultSnapshotKey
	}
	return &RedisStorage{client: client, key: snapshotPrefix + key}, nil
}

// LoadSnapshot retrieves and decodes the snapshot.
func (s *RedisStorage) LoadSnapshot(ctx context.Context) (types.Snapshot, error) {
	return withContext(ctx, func() (types.Snapshot, error) {
		data, err := s.client.Get(ctx, s.key).Bytes()
		if errors.Is(err, redis.Nil) {
			return types.Snapshot{}, ErrSnapshotNotFound
		} else if err != nil {
			return types.Snapshot{}, fmt.Errorf("failed to get %s from Redis: %w", s.key, err)
		}
		return decodeSnapshot(data)
	})
}

// SaveSnapshot encodes and stores the snapshot.
func (s *RedisStorage) SaveSnapshot(ctx context.Context, snap types.Snapshot) error {
	return withContextError(ctx, func() error {
		data, err := encodeSnapshot(snap)
		if err != nil {
			return err
		}
		if err := s.client.Set(ctx, s.key, data, 0).Err(); err != nil {
			return fmt.Errorf("failed to set %s in Redis: %w", s.key, err)
		}
		return nil
	})
}

// Key returns the Redis key holding the snapshot.
func (s *RedisStorage) Key() string {
	return s.key
}

// Close closes the Redis client connection.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}
