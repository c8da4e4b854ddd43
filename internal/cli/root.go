package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"elastic-hive-sync/internal/config"
	"elastic-hive-sync/internal/logging"
	"elastic-hive-sync/internal/metrics"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Once       bool
	Version    string
}

// NewRootCommand creates the root command. Running it without a subcommand
// starts the sync daemon.
func NewRootCommand(version string) *cobra.Command {
	opts := &RootOptions{Version: version}

	cmd := &cobra.Command{
		Use:   "elastic-hive-sync",
		Short: "Forward Elastic Security alerts to TheHive",
		Long: `Polls the Elasticsearch detection signals index and creates an alert in
TheHive for every signal it has not forwarded before. Forwarded IDs are
persisted so a restart does not re-send them.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd, opts)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML config (optional, env vars override)")
	cmd.Flags().BoolVar(&opts.Once, "once", false, "run a single cycle then exit")

	cmd.AddCommand(NewProbeCommand(opts))
	cmd.AddCommand(NewStateCommand(opts))
	cmd.AddCommand(NewVersionCommand(opts))

	return cmd
}

// loadConfig reads configuration and installs the process logger. Logs go to
// stderr so subcommand output on stdout stays clean.
func loadConfig(cmd *cobra.Command, opts *RootOptions) (config.Config, *slog.Logger, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logging.InitWriter(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
	return cfg, logging.WithComponent("main"), nil
}

func runDaemon(cmd *cobra.Command, opts *RootOptions) error {
	ctx := cmd.Context()
	cfg, logger, err := loadConfig(cmd, opts)
	if err != nil {
		return err
	}
	logger.Info("elastic-hive-sync starting", "version", opts.Version)
	logConfig(logger, cfg)

	m := metrics.New()
	a, err := newApp(cfg, m)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.syncer.Probe(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	if err := a.openStore(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	a.syncer.Start(ctx)

	if opts.Once {
		sum := a.syncer.RunCycle(ctx)
		logger.Info("single cycle finished", "result", sum.Result(), "sent", sum.Sent, "errors", sum.Errors)
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Enable {
		srv := metrics.NewServer(cfg.Metrics.ListenAddress, m)
		g.Go(func() error {
			logger.Info("serving metrics", "addr", srv.Addr())
			if err := srv.Serve(); err != nil {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}
	g.Go(func() error {
		return a.syncer.Run(gctx)
	})

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

func logConfig(logger *slog.Logger, cfg config.Config) {
	r := cfg.Redacted()
	logger.Info("configuration",
		"elastic_url", r.Elastic.URL,
		"elastic_index", r.Elastic.Index,
		"elastic_user", r.Elastic.User,
		"thehive_url", r.TheHive.URL,
		"thehive_api_key", r.TheHive.APIKey,
		"interval", r.Sync.Interval,
		"lookback", r.Sync.Lookback,
		"batch_size", r.Sync.BatchSize,
		"state_backend", r.State.Backend,
		"state_path", r.State.Path,
		"journal_brokers", len(r.Journal.Brokers),
		"metrics", r.Metrics.Enable,
	)
}
