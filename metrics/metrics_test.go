package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/songzhibin97/workflow-approval/events"
	"github.com/songzhibin97/workflow-approval/fixtures"
	"github.com/songzhibin97/workflow-approval/types"
	"github.com/songzhibin97/workflow-approval/workflow"
)

func TestMetrics_FedByStoreEvents(t *testing.T) {
	ctx := context.Background()
	bus := events.NewEventBus()

	s, err := workflow.NewWorkflowStore(ctx, nil,
		workflow.WithInitial(fixtures.Workflows()),
		workflow.WithEventBus(bus))
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m, err := New(reg, s)
	require.NoError(t, err)
	require.NoError(t, m.Subscribe(bus))

	_, err = s.Approve(ctx, "wf_003", "reg_007")
	require.NoError(t, err)
	_, err = s.Suspend(ctx, "wf_003")
	require.NoError(t, err)
	bus.Stop()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ApprovalsTotal))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues(events.ApprovalRecorded)))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.EventsTotal.WithLabelValues(events.StatusChanged)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransitionsTotal.WithLabelValues("Pending Approval", "Active")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TransitionsTotal.WithLabelValues("Active", "Suspended")))

	assert.Equal(t, 1.0, testutil.ToFloat64(m.Workflows.WithLabelValues(types.StatusActive.String())))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Workflows.WithLabelValues(types.StatusSuspended.String())))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.Workflows.WithLabelValues(types.StatusPendingApproval.String())))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Workflows.WithLabelValues(types.StatusDraft.String())))
}

func TestMetrics_Rejected(t *testing.T) {
	m, err := New(prometheus.NewRegistry(), nil)
	require.NoError(t, err)

	m.Rejected(workflow.KindDuplicateApproval)
	m.Rejected(workflow.KindDuplicateApproval)
	m.Rejected(workflow.KindNotFound)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RejectionsTotal.WithLabelValues(workflow.KindDuplicateApproval)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RejectionsTotal.WithLabelValues(workflow.KindNotFound)))
	assert.NoError(t, m.Refresh(context.Background()))
}

func TestMetrics_DoubleRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg, nil)
	require.NoError(t, err)
	_, err = New(reg, nil)
	assert.Error(t, err)
}

func TestMetrics_CollectAndCount(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg, nil)
	require.NoError(t, err)

	require.NoError(t, m.Handle(context.Background(), events.Event{
		Type:       events.StatusChanged,
		WorkflowID: "wf_001",
		Data:       map[string]interface{}{"from": "Draft", "to": "Pending Approval"},
	}))
	assert.Equal(t, 1, testutil.CollectAndCount(m.TransitionsTotal))
	assert.Equal(t, 1, testutil.CollectAndCount(m.EventsTotal))
}

func TestMetrics_EventsDropped(t *testing.T) {
	bus := events.NewEventBus(events.WithBufferSize(1))
	release := make(chan struct{})
	bus.SubscribeFunc(events.StatusChanged, func(ctx context.Context, event events.Event) error {
		<-release
		return nil
	})

	reg := prometheus.NewRegistry()
	m, err := New(reg, nil)
	require.NoError(t, err)
	require.NoError(t, m.Subscribe(bus))
	assert.Error(t, m.Subscribe(bus))

	var full int
	for i := 0; i < 3; i++ {
		err := bus.Publish(context.Background(), events.Event{Type: events.StatusChanged, WorkflowID: "wf_001"})
		if errors.Is(err, events.ErrChannelFull) {
			full++
		}
	}
	close(release)
	bus.Stop()

	require.Positive(t, full)
	assert.Equal(t, float64(full), testutil.ToFloat64(m.EventsDropped))
}
