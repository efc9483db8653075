package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nadmax/queuealert/internal/alert"
	"github.com/nadmax/queuealert/internal/analytics"
	"github.com/nadmax/queuealert/internal/config"
	"github.com/nadmax/queuealert/internal/github"
	"github.com/nadmax/queuealert/internal/metrics"
	"github.com/nadmax/queuealert/internal/middleware"
	"github.com/nadmax/queuealert/internal/notify"
	"github.com/nadmax/queuealert/internal/reconcile"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const metricsJob = "queuealert"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "queuealert",
		Short: "Open, update or close the queue alert issue from current queue depth",
		Long: `queuealert checks queue depth per machine type against the configured
thresholds and keeps a single labelled GitHub issue in sync with the result.

It runs once and exits; schedule it externally.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := zap.NewProduction()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer func() {
				_ = logger.Sync()
			}()

			if err := run(cmd.Context(), logger, dryRun); err != nil {
				logger.Error("queue alert failed", zap.Error(err))
				return err
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", os.Getenv("DRY_RUN") != "", "report intended issue changes without making them")

	return cmd
}

func run(ctx context.Context, logger *zap.Logger, dryRun bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(nil)
	if err != nil {
		return err
	}

	manifest, err := analytics.LoadManifest(cfg.ManifestPath)
	if err != nil {
		return err
	}
	query, err := manifest.Query(cfg.Workspace, cfg.QueryName)
	if err != nil {
		return err
	}

	source, closeSource, err := buildSource(cfg, middleware.InstrumentedClient("lambda", cfg.HTTPTimeout), logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeSource.Close(); err != nil {
			logger.Warn("failed to close analytics source", zap.Error(err))
		}
	}()

	opts := cfg.GitHubOptions()
	opts.HTTPClient = middleware.InstrumentedClient("github", cfg.HTTPTimeout)
	tracker := github.NewClient(opts, logger)

	var notifier notify.Notifier = notify.Nop{}
	if cfg.EmailEnabled() {
		email, err := notify.NewEmailNotifier(cfg.EmailConfig(), "Machines started queueing", logger)
		if err != nil {
			return err
		}
		notifier = email
	}

	r := reconcile.New(source, tracker, notifier, reconcile.Config{
		Label:       cfg.Label,
		TitlePrefix: cfg.TitlePrefix,
		Policy:      cfg.Policy(),
		Query:       query,
	}, logger)

	logger.Info("running queue alert",
		zap.String("repo", cfg.Owner+"/"+cfg.Repo),
		zap.String("backend", cfg.Backend),
		zap.Stringer("query", query),
		zap.Bool("dry_run", dryRun),
	)

	runErr := r.Run(ctx, dryRun)

	if cfg.PushgatewayURL != "" {
		if err := metrics.Push(context.WithoutCancel(ctx), cfg.PushgatewayURL, metricsJob); err != nil {
			logger.Warn("failed to push metrics", zap.Error(err))
		}
	}

	return runErr
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func buildSource(cfg *config.Config, httpClient *http.Client, logger *zap.Logger) (analytics.Source, io.Closer, error) {
	switch cfg.Backend {
	case analytics.BackendPostgres:
		src, err := analytics.NewPostgresSource(cfg.PostgresDSN, logger)
		if err != nil {
			return nil, nil, alert.NewFetchError("postgres", err)
		}
		return src, src, nil
	case analytics.BackendRedis:
		src, err := analytics.NewRedisSource(cfg.RedisAddr, logger)
		if err != nil {
			return nil, nil, alert.NewFetchError("redis", err)
		}
		return src, src, nil
	default:
		return analytics.NewLambdaClient(cfg.LambdaHost, cfg.LambdaAPIKey, httpClient, logger), nopCloser{}, nil
	}
}
