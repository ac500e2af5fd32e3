// SPDX-License-Identifier: AGPL-3.0-or-later

// Command api runs the sendforge HTTP ingestion and operator-read surface.
package main

import (
	"context"
	"encoding/base64"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/btouchard/sendforge/internal/application/services"
	"github.com/btouchard/sendforge/internal/domain/models"
	"github.com/btouchard/sendforge/internal/infrastructure/auth"
	"github.com/btouchard/sendforge/internal/infrastructure/config"
	"github.com/btouchard/sendforge/internal/infrastructure/database"
	"github.com/btouchard/sendforge/internal/infrastructure/queue"
	"github.com/btouchard/sendforge/internal/infrastructure/tenant"
	api "github.com/btouchard/sendforge/internal/presentation/api"
	"github.com/btouchard/sendforge/pkg/logger"
	"github.com/btouchard/sendforge/pkg/metrics"
)

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
		DSN: cfg.Database.DSN, MaxOpenConn: cfg.Database.MaxOpenConn, MaxIdleConn: cfg.Database.MaxIdleConn,
	})
	if err != nil {
		logger.Logger.Error("init database", "error", err.Error())
		return
	}
	defer db.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Queue.RedisAddr, DB: cfg.Queue.RedisDB})
	defer rdb.Close()
	q := queue.New(rdb, cfg.Queue.QueueName)

	companies := database.NewCompanyRepository(db)
	recipients := database.NewRecipientRepository(db)
	domains := database.NewDomainRepository(db)
	idempotency := database.NewIdempotencyRepository(db)
	events := database.NewEmailEventRepository(db)
	logs := database.NewEmailLogRepository(db)
	outbox := database.NewOutboxRepository(db)
	auditRepo := database.NewAuditRepository(db)

	fiscalKey, err := base64.StdEncoding.DecodeString(cfg.Security.FiscalEncryptionKey)
	if err != nil {
		logger.Logger.Error("decode fiscal encryption key", "error", err.Error())
		return
	}

	admission := services.NewAdmissionService(queue.NewAdmissionCounters(q))
	ingestion := services.NewIngestionService(services.IngestionServiceConfig{
		Outbox: outbox, Recipients: recipients, Domains: domains, Idempotency: idempotency,
		Events: events, Admission: admission, Queue: q, SandboxMode: cfg.App.SandboxMode,
		JobTTL: cfg.Queue.JobTTL, FiscalKey: fiscalKey,
	})
	auditSvc := services.NewAuditService(auditRepo)

	cookieSecret, err := base64.StdEncoding.DecodeString(cfg.Security.SessionCookieSecret)
	if err != nil {
		logger.Logger.Error("decode session cookie secret", "error", err.Error())
		return
	}
	sessions := auth.NewSessionService(auth.SessionServiceConfig{
		CookieSecret: cookieSecret, SecureCookies: true,
	})

	lookup := func(r *http.Request, hash string) (*models.Company, error) {
		return companies.FindByAPIKeyHash(r.Context(), hash)
	}
	router := api.NewRouter(api.RouterConfig{
		DB: db, TenantProvider: tenant.ContextProvider{},
		Companies: companies, Outbox: outbox, Logs: logs, Events: events,
		Ingestion: ingestion, Audit: auditSvc, Sessions: sessions,
		APIKeyPepper: cfg.Security.APIKeyPepper, FiscalKey: fiscalKey,
	}, lookup)

	srv := &http.Server{
		Addr: cfg.Server.ListenAddr, Handler: router,
		ReadTimeout: cfg.Server.ReadTimeout, WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		logger.Logger.Info("api server listening", "addr", cfg.Server.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Logger.Error("api server failed", "error", err.Error())
		}
	}()

	var metricsSrv *metrics.Server
	if cfg.Metrics.Enabled {
		metricsSrv = metrics.NewServer(cfg.Metrics.ListenAddr)
		go func() {
			logger.Logger.Info("metrics server listening", "addr", cfg.Metrics.ListenAddr)
			if err := metricsSrv.Start(); err != nil && err != http.ErrServerClosed {
				logger.Logger.Error("metrics server failed", "error", err.Error())
			}
		}()
	}

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Logger.Error("api server shutdown", "error", err.Error())
	}
	if metricsSrv != nil {
		if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
			logger.Logger.Error("metrics server shutdown", "error", err.Error())
		}
	}
}
