package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/songzhibin97/workflow-approval/api"
	"github.com/songzhibin97/workflow-approval/config"
	"github.com/songzhibin97/workflow-approval/fixtures"
	"github.com/songzhibin97/workflow-approval/logger"
	"github.com/songzhibin97/workflow-approval/storage"
	"github.com/songzhibin97/workflow-approval/types"
	"github.com/songzhibin97/workflow-approval/workflow"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "workflowd",
		Short: "Workflow lifecycle and approval service",
		Long: `workflowd stores operational workflow definitions and drives them
through Draft, Pending Approval, Active and Suspended. A definition becomes
Active once its required approvers have signed off.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	rootCmd.AddCommand(newServeCmd(&configPath), newSeedCmd(&configPath))
	return rootCmd
}

func setup(configPath string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.Logger.Logger())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return cfg, log, nil
}

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the workflow API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, log)
			if err != nil {
				log.Error("failed to start", zap.Error(err))
				return err
			}
			defer a.Close()

			log.Info("Starting workflowd",
				zap.String("storage", cfg.Storage.Driver),
				zap.Stringer("quorum", a.store.Quorum()),
				zap.String("address", cfg.Server.Addr()))

			srv := api.NewServer(api.ServerConfig{
				Addr:            cfg.Server.Addr(),
				Mode:            cfg.Server.Mode,
				ReadTimeout:     cfg.Server.ReadTimeout,
				WriteTimeout:    cfg.Server.WriteTimeout,
				ShutdownTimeout: cfg.Server.ShutdownTimeout,
			}, a.store, a.dir,
				api.WithLogger(log.Named("http")),
				api.WithMetrics(a.metrics, a.registry))
			return srv.Start(ctx)
		},
	}
}

func newSeedCmd(configPath *string) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load the sample workflows into empty storage",
		Long: `seed opens the configured storage and, when it holds no snapshot yet,
writes the sample workflow definitions. With --force an existing snapshot is
replaced by the samples. Ids already issued are never handed out again.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup(*configPath)
			if err != nil {
				return err
			}
			defer log.Sync() //nolint:errcheck
			return seed(cmd.Context(), cfg, log, force, cmd.OutOrStdout())
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "replace an existing snapshot")
	return cmd
}

func seed(ctx context.Context, cfg *config.Config, log *zap.Logger, force bool, out io.Writer) error {
	if force {
		st, closer, err := openStorage(cfg.Storage)
		if err != nil {
			return err
		}
		err = replaceSnapshot(ctx, st, fixtures.Workflows())
		if closer != nil {
			_ = closer.Close()
		}
		if err != nil {
			return fmt.Errorf("failed to replace snapshot: %w", err)
		}
	}

	seeded := *cfg
	seeded.Seed.Fixtures = true
	a, err := newApp(ctx, &seeded, log)
	if err != nil {
		return err
	}
	defer a.Close()

	list, err := a.store.List(ctx)
	if err != nil {
		return err
	}
	for _, wf := range list {
		fmt.Fprintf(out, "%s\t%-16s\t%s\n", wf.ID, wf.Status, wf.Name)
	}
	return nil
}

// replaceSnapshot stores workflows in place of the current snapshot. The id
// sequence never moves backwards, so ids deleted before the replacement are
// not issued again.
func replaceSnapshot(ctx context.Context, st storage.Storage, workflows []types.WorkflowDefinition) error {
	var sequence uint64
	prev, err := st.LoadSnapshot(ctx)
	switch {
	case err == nil:
		sequence = highestID(prev.Sequence, prev.Workflows)
	case !errors.Is(err, storage.ErrSnapshotNotFound):
		return err
	}
	return st.SaveSnapshot(ctx, types.Snapshot{
		Version:   storage.SnapshotVersion,
		Sequence:  highestID(sequence, workflows),
		Workflows: workflows,
	})
}

func highestID(floor uint64, workflows []types.WorkflowDefinition) uint64 {
	for _, wf := range workflows {
		if n, ok := workflow.ParseID(wf.ID); ok && n > floor {
			floor = n
		}
	}
	return floor
}
