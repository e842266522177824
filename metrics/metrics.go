// Package metrics exposes Prometheus collectors fed by workflow store events.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/songzhibin97/workflow-approval/events"
	"github.com/songzhibin97/workflow-approval/types"
)

const namespace = "workflow"

// Lister is the read side of the workflow store.
type Lister interface {
	List(ctx context.Context, statuses ...types.Status) ([]types.WorkflowDefinition, error)
}

// Metrics holds the workflow collectors.
type Metrics struct {
	EventsTotal      *prometheus.CounterVec
	TransitionsTotal *prometheus.CounterVec
	ApprovalsTotal   prometheus.Counter
	RejectionsTotal  *prometheus.CounterVec
	Workflows        *prometheus.GaugeVec
	EventsDropped    prometheus.CounterFunc

	reg    prometheus.Registerer
	lister Lister
}

// New creates the collectors and registers them with reg. lister may be nil,
// in which case the per-status gauge is never refreshed.
func New(reg prometheus.Registerer, lister Lister) (*Metrics, error) {
	m := &Metrics{
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Lifecycle events published by the workflow store.",
		}, []string{"type"}),
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Status transitions by source and target status.",
		}, []string{"from", "to"}),
		ApprovalsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approvals_total",
			Help:      "Approvals recorded.",
		}),
		RejectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Operations rejected, by error kind.",
		}, []string{"kind"}),
		Workflows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "definitions",
			Help:      "Workflow definitions currently stored, by status.",
		}, []string{"status"}),
		reg:    reg,
		lister: lister,
	}

	collectors := []prometheus.Collector{
		m.EventsTotal,
		m.TransitionsTotal,
		m.ApprovalsTotal,
		m.RejectionsTotal,
		m.Workflows,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Subscribe feeds m from every event published on bus and exports the
// number of events bus dropped because its buffer was full.
func (m *Metrics) Subscribe(bus *events.EventBus) error {
	dropped := prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dropped_total",
		Help:      "Lifecycle events dropped because the event bus buffer was full.",
	}, func() float64 {
		return float64(bus.Dropped())
	})
	if err := m.reg.Register(dropped); err != nil {
		return err
	}
	m.EventsDropped = dropped
	bus.Subscribe(events.AllEvents, m)
	return nil
}

// Handle implements events.EventHandler.
func (m *Metrics) Handle(ctx context.Context, event events.Event) error {
	m.EventsTotal.WithLabelValues(event.Type).Inc()
	switch event.Type {
	case events.StatusChanged:
		from, _ := event.Data["from"].(string)
		to, _ := event.Data["to"].(string)
		m.TransitionsTotal.WithLabelValues(from, to).Inc()
	case events.ApprovalRecorded:
		m.ApprovalsTotal.Inc()
	}
	return m.Refresh(ctx)
}

// Rejected counts an operation rejected with the given error kind.
func (m *Metrics) Rejected(kind string) {
	m.RejectionsTotal.WithLabelValues(kind).Inc()
}

// Refresh recomputes the per-status gauge from the store.
func (m *Metrics) Refresh(ctx context.Context) error {
	if m.lister == nil {
		return nil
	}
	workflows, err := m.lister.List(ctx)
	if err != nil {
		return err
	}
	counts := make(map[types.Status]int, 4)
	for _, wf := range workflows {
		counts[wf.Status]++
	}
	for _, status := range types.Statuses() {
		m.Workflows.WithLabelValues(status.String()).Set(float64(counts[status]))
	}
	return nil
}
