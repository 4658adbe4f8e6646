// Package main wires together the rankwatch monitoring run binary.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	gcstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/rankwatch/rankwatch/internal/backoff"
	"github.com/rankwatch/rankwatch/internal/clock/system"
	"github.com/rankwatch/rankwatch/internal/config"
	"github.com/rankwatch/rankwatch/internal/fetch"
	"github.com/rankwatch/rankwatch/internal/hash/sha256"
	"github.com/rankwatch/rankwatch/internal/id/uuid"
	"github.com/rankwatch/rankwatch/internal/logging"
	"github.com/rankwatch/rankwatch/internal/monitor"
	"github.com/rankwatch/rankwatch/internal/ops"
	pubsubpublisher "github.com/rankwatch/rankwatch/internal/publisher/pubsub"
	"github.com/rankwatch/rankwatch/internal/run"
	"github.com/rankwatch/rankwatch/internal/scheduler"
	"github.com/rankwatch/rankwatch/internal/storage/gcs"
	"github.com/rankwatch/rankwatch/internal/storage/local"
	"github.com/rankwatch/rankwatch/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	runType := flag.String("run-type", "", "Override run type: daily or weekly")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	if *runType != "" {
		cfg.Run.Type = *runType
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "invalid run type override: %v\n", err)
			os.Exit(1)
		}
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := realMain(ctx, cfg, logger); err != nil {
		logger.Error("run failed", zap.Error(err))
		stop()
		os.Exit(1)
	}
}

func realMain(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	store, err := postgres.NewStore(ctx, postgres.StoreConfig{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()
	if err := store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate schema: %w", err)
	}

	fetcher := fetch.New(fetch.Config{
		UserAgent:  cfg.HTTP.UserAgent,
		Timeout:    cfg.HTTPTimeout(),
		MaxRetries: cfg.HTTP.MaxRetries,
		Backoff: backoff.New(
			time.Duration(cfg.HTTP.BackoffInitialMs)*time.Millisecond,
			time.Duration(cfg.HTTP.BackoffMaxMs)*time.Millisecond,
		),
	}, logger.Named("fetch"))

	blobs, err := buildBlobStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	var publisher monitor.Publisher
	if cfg.PubSub.ProjectID != "" && cfg.PubSub.TopicName != "" {
		client, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			return fmt.Errorf("create pubsub client: %w", err)
		}
		defer func() {
			if closeErr := client.Close(); closeErr != nil {
				logger.Warn("close pubsub client", zap.Error(closeErr))
			}
		}()
		publisher, err = pubsubpublisher.New(client)
		if err != nil {
			return fmt.Errorf("create publisher: %w", err)
		}
	}

	if cfg.Ops.Port > 0 {
		opsServer := ops.New(cfg.Ops.Port, logger.Named("ops"))
		opsServer.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if shutErr := opsServer.Shutdown(shutdownCtx); shutErr != nil {
				logger.Warn("ops server shutdown", zap.Error(shutErr))
			}
		}()
	}

	runner, err := run.NewRunner(run.Options{
		Store:     store,
		Fetcher:   fetcher,
		Hasher:    sha256.New(),
		Clock:     system.New(),
		IDs:       uuid.New(),
		Blobs:     blobs,
		Publisher: publisher,
		Logger:    logger.Named("run"),
		RunType:   monitor.RunType(cfg.Run.Type),
		Deadline:  cfg.RunDeadline(),
		SchedulerConfig: scheduler.Config{
			Workers:         cfg.Scheduler.Workers,
			MaxTaskAttempts: cfg.Scheduler.MaxTaskAttempts,
			GlobalRPS:       cfg.Scheduler.GlobalRPS,
		},
		CooldownPolicy: backoff.New(
			time.Duration(cfg.Scheduler.CooldownInitialMs)*time.Millisecond,
			time.Duration(cfg.Scheduler.CooldownMaxMs)*time.Millisecond,
		),
		Domain429Limit:        cfg.Scheduler.Domain429Limit,
		SitemapMaxPages:       cfg.Sitemap.MaxPages,
		SitemapMaxChildren:    cfg.Sitemap.MaxChildren,
		SitemapShrinkFraction: cfg.Severity.SitemapShrinkFraction,
		PSIRegressionDelta:    cfg.Severity.PSIRegressionDelta,
		Topic:                 cfg.PubSub.TopicName,
	})
	if err != nil {
		return fmt.Errorf("build runner: %w", err)
	}

	summary, err := runner.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("run %s finished: %d customers, %d tasks, %d findings, %d errors in %s\n",
		summary.RunID, summary.Customers, summary.Tasks, summary.Findings, summary.Errors,
		summary.FinishedAt.Sub(summary.StartedAt).Round(time.Millisecond),
	)
	return nil
}

func buildBlobStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (monitor.BlobStore, error) {
	switch {
	case cfg.Archive.GCSBucket != "":
		client, err := gcstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		blobs, err := gcs.New(client, gcs.Config{
			Bucket: cfg.Archive.GCSBucket,
			Prefix: cfg.Archive.Prefix,
		})
		if err != nil {
			return nil, fmt.Errorf("create gcs blob store: %w", err)
		}
		return blobs, nil
	case cfg.Archive.BaseDir != "":
		blobs, err := local.New(local.Config{BaseDir: cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("create local blob store: %w", err)
		}
		return blobs, nil
	default:
		logger.Info("snapshot archiving disabled")
		return nil, nil
	}
}
