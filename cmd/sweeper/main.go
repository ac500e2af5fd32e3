// SPDX-License-Identifier: AGPL-3.0-or-later

// Command sweeper runs the retention and stuck-pending recovery loop on a
// fixed interval: recover rows stuck PENDING past their grace period,
// pseudonymize PII past the retention horizon, and hard-delete rows past
// the hard limit.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/btouchard/sendforge/internal/application/services"
	"github.com/btouchard/sendforge/internal/infrastructure/config"
	"github.com/btouchard/sendforge/internal/infrastructure/database"
	"github.com/btouchard/sendforge/internal/infrastructure/queue"
	"github.com/btouchard/sendforge/pkg/logger"
)

// sweepInterval is how often RunOnce fires; the sweep itself is cheap and
// idempotent, so a short interval just means smaller batches per pass.
const sweepInterval = 5 * time.Minute

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		logger.Logger.Error("load config", "error", err.Error())
		return
	}
	logger.SetLevel(logger.ParseLevel(cfg.Logger.Level))

	db, err := database.InitDB(ctx, database.Config{
		DSN: cfg.Database.AdminDSN, MaxOpenConn: cfg.Database.MaxOpenConn, MaxIdleConn: cfg.Database.MaxIdleConn,
	})
	if err != nil {
		logger.Logger.Error("init database", "error", err.Error())
		return
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Queue.RedisAddr, DB: cfg.Queue.RedisDB})
	defer rdb.Close()
	q := queue.New(rdb, cfg.Queue.QueueName)

	sweeper := services.NewSweeperService(
		database.NewOutboxRepository(db),
		database.NewEmailLogRepository(db),
		database.NewEmailEventRepository(db),
		database.NewIdempotencyRepository(db),
		q,
		services.SweeperConfig{
			PendingGrace:    5 * time.Minute,
			ProcessingGrace: 60 * time.Second,
			LogRetention:    cfg.Retention.LogsRetention,
			EventRetention:  cfg.Retention.EventsRetention,
			OutboxRetention: cfg.Retention.OutboxRetention,
			OutboxHardLimit: cfg.Retention.OutboxHardLimit,
			BatchSize:       500,
			JobTTL:          cfg.Queue.JobTTL,
		},
	)

	logger.Logger.Info("sweeper started", "interval", sweepInterval)

	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	if err := sweeper.RunOnce(ctx); err != nil {
		logger.Logger.Error("sweeper: initial run failed", "error", err.Error())
	}
	for {
		select {
		case <-ctx.Done():
			logger.Logger.Info("sweeper stopped")
			return
		case <-ticker.C:
			if err := sweeper.RunOnce(ctx); err != nil {
				logger.Logger.Error("sweeper: run failed", "error", err.Error())
			}
		}
	}
}
