package main

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/songzhibin97/workflow-approval/config"
	"github.com/songzhibin97/workflow-approval/fixtures"
	"github.com/songzhibin97/workflow-approval/storage"
	"github.com/songzhibin97/workflow-approval/types"
)

func sqliteConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("WORKFLOWD_STORAGE_DRIVER", config.DriverSQLite)
	t.Setenv("WORKFLOWD_STORAGE_SQLITE_PATH", filepath.Join(t.TempDir(), "data", "workflows.db"))
	t.Setenv("WORKFLOWD_SEED_FIXTURES", "false")
	cfg, err := config.Load("")
	require.NoError(t, err)
	return cfg
}

func TestSeed_SQLite(t *testing.T) {
	ctx := context.Background()
	cfg := sqliteConfig(t)

	var out bytes.Buffer
	require.NoError(t, seed(ctx, cfg, zap.NewNop(), false, &out))
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "wf_001"))

	// the seeded snapshot survives reopening without fixtures
	a, err := newApp(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	wf, err := a.store.Get(ctx, "wf_003")
	require.NoError(t, err)
	assert.Equal(t, types.StatusPendingApproval, wf.Status)
	_, err = a.store.Approve(ctx, "wf_003", "reg_007")
	require.NoError(t, err)
}

func TestSeed_ForceReplaces(t *testing.T) {
	ctx := context.Background()
	cfg := sqliteConfig(t)

	a, err := newApp(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	_, err = a.store.Create(ctx, types.WorkflowDefinition{Name: "Scratch", RequiredApprovers: []string{"reg_001"}})
	require.NoError(t, err)
	a.Close()

	var out bytes.Buffer
	require.NoError(t, seed(ctx, cfg, zap.NewNop(), false, &out))
	assert.Equal(t, 1, strings.Count(out.String(), "\n"))

	out.Reset()
	require.NoError(t, seed(ctx, cfg, zap.NewNop(), true, &out))
	assert.Equal(t, 4, strings.Count(out.String(), "\n"))
}

func TestSeed_ForceKeepsSequence(t *testing.T) {
	ctx := context.Background()
	cfg := sqliteConfig(t)

	var out bytes.Buffer
	require.NoError(t, seed(ctx, cfg, zap.NewNop(), false, &out))

	a, err := newApp(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	wf, err := a.store.Create(ctx, types.WorkflowDefinition{Name: "Scratch", RequiredApprovers: []string{"reg_001"}})
	require.NoError(t, err)
	require.Equal(t, "wf_005", wf.ID)
	require.NoError(t, a.store.Delete(ctx, wf.ID))
	a.Close()

	require.NoError(t, seed(ctx, cfg, zap.NewNop(), true, &out))

	a, err = newApp(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()
	next, err := a.store.Create(ctx, types.WorkflowDefinition{Name: "Scratch again", RequiredApprovers: []string{"reg_001"}})
	require.NoError(t, err)
	assert.Equal(t, "wf_006", next.ID)
}

func TestReplaceSnapshot(t *testing.T) {
	ctx := context.Background()

	t.Run("empty storage", func(t *testing.T) {
		st := storage.NewMemoryStorage()
		require.NoError(t, replaceSnapshot(ctx, st, fixtures.Workflows()))
		snap, err := st.LoadSnapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(4), snap.Sequence)
		assert.Len(t, snap.Workflows, 4)
	})

	t.Run("keeps higher sequence", func(t *testing.T) {
		st := storage.NewMemoryStorage()
		require.NoError(t, st.SaveSnapshot(ctx, types.Snapshot{
			Sequence:  9,
			Workflows: []types.WorkflowDefinition{{ID: "wf_012", Name: "x", Status: types.StatusDraft}},
		}))
		require.NoError(t, replaceSnapshot(ctx, st, fixtures.Workflows()))
		snap, err := st.LoadSnapshot(ctx)
		require.NoError(t, err)
		assert.Equal(t, uint64(12), snap.Sequence)
		assert.Len(t, snap.Workflows, 4)
	})
}

func TestNewApp_RejectsUnknownApprovers(t *testing.T) {
	ctx := context.Background()
	cfg, err := config.Load("")
	require.NoError(t, err)

	a, err := newApp(ctx, cfg, zap.NewNop())
	require.NoError(t, err)
	defer a.Close()

	_, err = a.store.Create(ctx, types.WorkflowDefinition{Name: "x", RequiredApprovers: []string{"nobody"}})
	assert.Error(t, err)

	list, err := a.store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 4)
}

func TestRootCmd(t *testing.T) {
	cmd := newRootCmd()
	names := make([]string, 0)
	for _, c := range cmd.Commands() {
		names = append(names, c.Name())
	}
	assert.ElementsMatch(t, []string{"serve", "seed"}, names)
	assert.NotNil(t, cmd.PersistentFlags().Lookup("config"))
}
