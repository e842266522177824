package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/songzhibin97/workflow-approval/types"
)

// DefaultSnapshotKey is the stable key the workflow collection is stored under.
const DefaultSnapshotKey = "workflows"

// SnapshotVersion is the current snapshot layout version.
const SnapshotVersion = 1

// ErrSnapshotNotFound is returned by LoadSnapshot when nothing has been saved yet.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Storage is the durable key-value persistence used by the workflow store to
// load and save the whole collection as one snapshot.
type Storage interface {
	// LoadSnapshot returns the last saved snapshot or ErrSnapshotNotFound.
	LoadSnapshot(ctx context.Context) (types.Snapshot, error)

	// SaveSnapshot atomically replaces the stored snapshot.
	SaveSnapshot(ctx context.Context, snap types.Snapshot) error
}

// withContext is a standalone generic helper function.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	default:
		return fn()
	}
}

// withContextError handles context cancellation for operations that only return an error.
func withContextError(ctx context.Context, fn func() error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return fn()
	}
}

func encodeSnapshot(snap types.Snapshot) ([]byte, error) {
	if snap.Version == 0 {
		snap.Version = SnapshotVersion
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}
	return data, nil
}

func decodeSnapshot(data []byte) (types.Snapshot, error) {
	var snap types.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return types.Snapshot{}, fmt.Errorf("failed to unmarshal snapshot: %w", err)
	}
	if snap.Version > SnapshotVersion {
		return types.Snapshot{}, fmt.Errorf("unsupported snapshot version %d", snap.Version)
	}
	return snap, nil
}
