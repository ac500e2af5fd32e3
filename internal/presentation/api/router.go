// SPDX-License-Identifier: AGPL-3.0-or-later
package api

import (
	"database/sql"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/btouchard/sendforge/internal/application/services"
	"github.com/btouchard/sendforge/internal/infrastructure/auth"
	"github.com/btouchard/sendforge/internal/infrastructure/tenant"
	"github.com/btouchard/sendforge/internal/presentation/api/email"
	"github.com/btouchard/sendforge/internal/presentation/api/health"
	"github.com/btouchard/sendforge/internal/presentation/api/shared"
)

// RouterConfig holds the dependencies wired into the v1 API router.
type RouterConfig struct {
	DB             *sql.DB
	TenantProvider tenant.Provider

	Companies email.CompanyGetter
	Outbox    email.OutboxReader
	Logs      email.LogReader
	Events    email.EventReader

	Ingestion *services.IngestionService
	Audit     *services.AuditService
	Sessions  *auth.SessionService

	APIKeyPepper string
	FiscalKey    []byte

	GeneralRateLimit int // requests per minute; default 100
}

// NewRouter builds the v1 API router: authenticated ingestion and
// operator-read endpoints under X-API-Key + RLS, plus a public health
// check.
func NewRouter(cfg RouterConfig, lookup auth.CompanyLookup) *chi.Mux {
	r := chi.NewRouter()

	generalLimit := cfg.GeneralRateLimit
	if generalLimit == 0 {
		generalLimit = 100
	}
	generalRateLimit := shared.NewRateLimit(generalLimit, time.Minute)

	r.Use(middleware.RequestID)
	r.Use(shared.AddRequestIDToContext)
	r.Use(middleware.RealIP)
	r.Use(shared.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(shared.SecurityHeaders)
	r.Use(generalRateLimit.Middleware)

	healthHandler := health.NewHandler(cfg.DB)
	r.Get("/health", healthHandler.HandleHealth)

	emailHandler := email.NewHandler(email.Config{
		Ingestion: cfg.Ingestion, Companies: cfg.Companies, Outbox: cfg.Outbox,
		Logs: cfg.Logs, Events: cfg.Events, Sessions: cfg.Sessions, Audit: cfg.Audit,
		Tenants: cfg.TenantProvider, FiscalKey: cfg.FiscalKey,
	})

	r.Route("/v1", func(r chi.Router) {
		r.Use(auth.APIKeyMiddleware(lookup, cfg.APIKeyPepper))
		if cfg.DB != nil && cfg.TenantProvider != nil {
			rls := shared.NewRLSMiddleware(cfg.DB, cfg.TenantProvider)
			r.Use(rls.Handler)
		}

		r.Post("/email/send", emailHandler.HandleSend)
		r.Get("/emails", emailHandler.HandleList)
		r.Get("/emails/{id}", emailHandler.HandleDetail)
	})

	return r
}
