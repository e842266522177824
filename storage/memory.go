package storage

import (
	"context"
	"sync"

	"github.com/songzhibin97/workflow-approval/types"
)

// MemoryStorage is an in-memory implementation of the Storage interface.
// Snapshots are held encoded so callers never share state with the store.
type MemoryStorage struct {
	data  []byte
	saves int
	mu    sync.RWMutex
}

// NewMemoryStorage creates a new MemoryStorage instance.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

// LoadSnapshot decodes the last saved snapshot.
func (s *MemoryStorage) LoadSnapshot(ctx context.Context) (types.Snapshot, error) {
	return withContext(ctx, func() (types.Snapshot, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		if s.data == nil {
			return types.Snapshot{}, ErrSnapshotNotFound
		}
		return decodeSnapshot(s.data)
	})
}

// SaveSnapshot replaces the held snapshot.
func (s *MemoryStorage) SaveSnapshot(ctx context.Context, snap types.Snapshot) error {
	return withContextError(ctx, func() error {
		data, err := encodeSnapshot(snap)
		if err != nil {
			return err
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		s.data = data
		s.saves++
		return nil
	})
}

// Saves returns how many snapshots have been written.
func (s *MemoryStorage) Saves() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saves
}
