// SPDX-License-Identifier: AGPL-3.0-or-later

// Command worker runs the dispatch loop: claim a job from the fairness
// scheduler, send it through the company's provider list with failover,
// and finalize, retry, or DLQ it.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/btouchard/sendforge/internal/application/services"
	"github.com/btouchard/sendforge/internal/infrastructure/config"
	"github.com/btouchard/sendforge/internal/infrastructure/database"
	"github.com/btouchard/sendforge/internal/infrastructure/provider"
	"github.com/btouchard/sendforge/internal/infrastructure/queue"
	"github.com/btouchard/sendforge/internal/infrastructure/retry"
	"github.com/btouchard/sendforge/pkg/logger"
	"github.com/btouchard/sendforge/pkg/metrics"
)

// idleBackoff is how long the poll loop sleeps after an empty claim.
const idleBackoff = 500 * time.Millisecond

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

	registry := provider.NewRegistry(provider.BreakerSettings{
		OpenThreshold: cfg.Provider.CircuitOpenThreshold,
		Cooldown:      cfg.Provider.CircuitCooldown,
	})
	registry.WithRateLimit(provider.RateLimitSettings{
		PerSecond: cfg.Provider.RateLimitPerSecond,
		Burst:     cfg.Provider.RateLimitBurst,
	}).WithSendTimeout(cfg.Provider.SendTimeout)
	registerDrivers(ctx, registry, cfg)

	scheduler := services.NewFairnessScheduler(q, queue.NewInMemoryFairnessRepository(), cfg.Queue.MaxJobsPerTenantBatch)

	admissionCounters := queue.NewAdmissionCounters(q)
	pipeline := services.NewWorkerPipeline(services.WorkerPipelineConfig{
		DB:        db,
		Scheduler: scheduler,
		Queue:     q,
		Registry:  registry,
		Outbox:    database.NewOutboxRepository(db),
		Logs:      database.NewEmailLogRepository(db),
		Events:    database.NewEmailEventRepository(db),
		Configs:   database.NewProviderConfigRepository(db),
		DLQ:       database.NewDLQRepository(db),
		RetryPolicy: retry.Policy{
			Base:         time.Duration(cfg.Queue.BaseDelayMS) * time.Millisecond,
			Max:          time.Duration(cfg.Queue.MaxDelayMS) * time.Millisecond,
			JitterFactor: cfg.Queue.JitterFactor,
			MaxAttempts:  cfg.Queue.MaxAttempts,
		},
		JobTTL:      cfg.Queue.JobTTL,
		Admission:   services.NewAdmissionService(admissionCounters),
		Recipients:  database.NewRecipientRepository(db),
		Domains:     database.NewDomainRepository(db),
		Companies:   database.NewCompanyRepository(db),
		SandboxMode: cfg.App.SandboxMode,
	})

	var metricsSrv *metrics.Server
	if cfg.Metrics.Enabled {
		metricsSrv = metrics.NewServer(cfg.Metrics.ListenAddr)
		go func() {
			logger.Logger.Info("metrics server listening", "addr", cfg.Metrics.ListenAddr)
			if err := metricsSrv.Start(); err != nil && err != http.ErrServerClosed {
				logger.Logger.Error("metrics server failed", "error", err.Error())
			}
		}()
		go reportQueueDepth(ctx, q)
	}

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, expired, err := q.PromoteDueDelayed(ctx); err != nil {
					logger.Logger.Error("promote delayed jobs", "error", err.Error())
				} else if len(expired) > 0 {
					logger.Logger.Warn("delayed jobs passed their TTL deadline", "job_ids", expired)
				}
			}
		}
	}()

	logger.Logger.Info("worker started", "concurrency", cfg.Queue.Concurrency)
	runLoop(ctx, pipeline, cfg.Queue.Concurrency)
	logger.Logger.Info("worker stopped")

	if metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Logger.Error("metrics server shutdown", "error", err.Error())
		}
	}
}

// reportQueueDepth polls the ready/delayed queue sizes into the
// sendforge_queue_depth gauge until ctx is cancelled.
func reportQueueDepth(ctx context.Context, q *queue.Queue) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ready, delayed, err := q.Depth(ctx)
			if err != nil {
				continue
			}
			metrics.QueueDepth.WithLabelValues("ready").Set(float64(ready))
			metrics.QueueDepth.WithLabelValues("delayed").Set(float64(delayed))
		}
	}
}

// runLoop drives cfg.Queue.Concurrency goroutines, each pulling jobs
// through the fairness scheduler until ctx is cancelled.
func runLoop(ctx context.Context, pipeline *services.WorkerPipeline, concurrency int) {
	if concurrency < 1 {
		concurrency = 1
	}
	done := make(chan struct{})
	for i := 0; i < concurrency; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			for {
				select {
				case <-ctx.Done():
					return
				default:
				}
				claimed, err := pipeline.RunOnce(ctx)
				if err != nil {
					logger.Logger.Error("worker loop: run once failed", "error", err.Error())
				}
				if !claimed {
					select {
					case <-ctx.Done():
						return
					case <-time.After(idleBackoff):
					}
				}
			}
		}()
	}
	for i := 0; i < concurrency; i++ {
		<-done
	}
}

// registerDrivers builds and installs the dispatch drivers the environment
// configures. SES is always registered, for SENDFORGE_AWS_REGION (default
// us-east-1); SMTP whenever SENDFORGE_SMTP_HOST is set; the HTTP relay
// whenever a relay name is set. A driver whose construction fails is logged
// and skipped; this command does not guard against ending up with no
// usable driver.
func registerDrivers(ctx context.Context, registry *provider.Registry, cfg *config.Config) {
	if cfg.Provider.AWSRegion != "" {
		ses, err := provider.NewSESDriver(ctx, cfg.Provider.AWSRegion, cfg.Mail.From)
		if err != nil {
			logger.Logger.Error("init ses driver", "error", err.Error())
		} else {
			registry.Register(ses)
		}
	}
	if cfg.Mail.Host != "" {
		timeout, err := time.ParseDuration(cfg.Mail.Timeout)
		if err != nil {
			timeout = 10 * time.Second
		}
		smtp := provider.NewSMTPDriver(provider.SMTPConfig{
			Host: cfg.Mail.Host, Port: cfg.Mail.Port, Username: cfg.Mail.Username, Password: cfg.Mail.Password,
			TLS: cfg.Mail.TLS, StartTLS: cfg.Mail.StartTLS, InsecureSkipVerify: cfg.Mail.InsecureSkipVerify,
			Timeout: timeout, From: cfg.Mail.From, FromName: cfg.Mail.FromName, Region: "default",
		})
		registry.Register(smtp)
	}
	if cfg.Provider.HTTPRelayName != "" {
		httpDriver := provider.NewHTTPDriver(provider.HTTPDriverConfig{
			Name: cfg.Provider.HTTPRelayName, Region: cfg.Provider.HTTPRelayRegion,
			Endpoint: cfg.Provider.HTTPRelayEndpoint, TokenURL: cfg.Provider.HTTPRelayTokenURL,
			ClientID: cfg.Provider.HTTPRelayClientID, ClientSecret: cfg.Provider.HTTPRelayClientSecret,
		})
		registry.Register(httpDriver)
	}
}
