package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/conduitcrm/messaging-engine/cmd/mainconfig"
	appconfig "github.com/conduitcrm/messaging-engine/internal/config"
	"github.com/conduitcrm/messaging-engine/internal/events"
	"github.com/conduitcrm/messaging-engine/pkg/logging"
)

// workflow-worker drains the transactional outbox and forwards canonical
// events to the downstream workflow queue.
func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()

	logger := logging.New(cfg.LogLevel)
	logger.Info("starting workflow worker",
		"env", cfg.Env,
		"queue", cfg.WorkflowQueueURL,
	)

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}
	if cfg.WorkflowQueueURL == "" {
		logger.Error("WORKFLOW_QUEUE_URL is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to create pgx pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		logger.Error("database unreachable", "error", err)
		os.Exit(1)
	}

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	sink := events.NewSQSSink(sqs.NewFromConfig(awsCfg), cfg.WorkflowQueueURL)
	deliverer := events.NewDeliverer(events.NewOutboxStore(pool), sink, logger).
		WithBatchSize(int32(cfg.OutboxBatchSize)).
		WithInterval(cfg.OutboxPollInterval)

	// Prune stale webhook-dedup keys once a day alongside the delivery loop.
	processed := events.NewProcessedStore(pool)
	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := processed.PruneOlderThan(ctx, 14*24*time.Hour); err != nil {
					logger.Error("dedup prune failed", "error", err)
				} else if n > 0 {
					logger.Info("pruned dedup entries", "count", n)
				}
			}
		}
	}()

	deliverer.Start(ctx)
	logger.Info("workflow worker stopped")
}
