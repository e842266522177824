package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/songzhibin97/workflow-approval/config"
	"github.com/songzhibin97/workflow-approval/directory"
	"github.com/songzhibin97/workflow-approval/events"
	"github.com/songzhibin97/workflow-approval/fixtures"
	"github.com/songzhibin97/workflow-approval/metrics"
	"github.com/songzhibin97/workflow-approval/storage"
	"github.com/songzhibin97/workflow-approval/workflow"
)

// app wires the store and its collaborators from configuration.
type app struct {
	store    *workflow.WorkflowStore
	dir      *directory.Static
	bus      *events.EventBus
	metrics  *metrics.Metrics
	registry *prometheus.Registry
	closers  []io.Closer
	logger   *zap.Logger
}

func openStorage(cfg config.StorageConfig) (storage.Storage, io.Closer, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return storage.NewMemoryStorage(), nil, nil
	case config.DriverRedis:
		st, err := storage.NewRedisStorage(storage.RedisOptions{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
			IdleTimeout:  cfg.Redis.IdleTimeout,
			Key:          cfg.Key,
		})
		if err != nil {
			return nil, nil, err
		}
		return st, st, nil
	case config.DriverSQLite:
		if dir := filepath.Dir(cfg.SQLite.Path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, nil, fmt.Errorf("failed to create data directory: %w", err)
			}
		}
		st, err := storage.NewSQLiteStorage(storage.SQLiteOptions{
			Path:            cfg.SQLite.Path,
			MaxOpenConns:    cfg.SQLite.MaxOpenConns,
			MaxIdleConns:    cfg.SQLite.MaxIdleConns,
			ConnMaxLifetime: cfg.SQLite.ConnMaxLifetime,
			Key:             cfg.Key,
		})
		if err != nil {
			return nil, nil, err
		}
		return st, st, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{logger: logger, registry: prometheus.NewRegistry()}

	st, closer, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.Storage.Driver, err)
	}
	if closer != nil {
		a.closers = append(a.closers, closer)
	}

	policy, err := workflow.ParseQuorumPolicy(cfg.Approval.Quorum)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.dir, err = directory.NewStatic(fixtures.Staff())
	if err != nil {
		a.Close()
		return nil, err
	}

	a.bus = events.NewEventBus(
		events.WithBufferSize(cfg.Events.BufferSize),
		events.WithLogger(logger.Named("events")))

	options := []workflow.Option{
		workflow.WithLogger(logger.Named("store")),
		workflow.WithQuorum(policy),
		workflow.WithEventBus(a.bus),
	}
	if cfg.Approval.VerifyApprovers {
		options = append(options, workflow.WithDirectory(a.dir))
	}
	if cfg.Seed.Fixtures {
		options = append(options, workflow.WithInitial(fixtures.Workflows()))
	}

	a.store, err = workflow.NewWorkflowStore(ctx, st, options...)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics, err = metrics.New(a.registry, a.store)
	if err != nil {
		a.Close()
		return nil, err
	}
	if err := a.metrics.Subscribe(a.bus); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.metrics.Refresh(ctx); err != nil {
		logger.Warn("failed to compute initial workflow gauges", zap.Error(err))
	}
	return a, nil
}

// Close drains the event bus and releases storage connections.
func (a *app) Close() {
	if a.bus != nil {
		a.bus.Stop()
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			a.logger.Warn("failed to close storage", zap.Error(err))
		}
	}
}
