// SPDX-License-Identifier: AGPL-3.0-or-later

// Package email implements the §6 ingestion and operator-read HTTP surface:
// POST /v1/email/send, GET /v1/emails, GET /v1/emails/:id.
package email

import (
	"context"

	"github.com/google/uuid"

	"github.com/btouchard/sendforge/internal/application/services"
	"github.com/btouchard/sendforge/internal/domain/models"
	"github.com/btouchard/sendforge/internal/infrastructure/auth"
	"github.com/btouchard/sendforge/internal/infrastructure/tenant"
)

// CompanyGetter resolves a company by id; satisfied by
// *database.CompanyRepository.
type CompanyGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Company, error)
}

// OutboxReader is the read-only slice of OutboxRepository this package needs.
type OutboxReader interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Outbox, error)
	ListByFilter(ctx context.Context, filter models.OutboxFilter, cursorID *uuid.UUID, offset, limit int) ([]*models.Outbox, error)
}

// LogReader is the read-only slice of EmailLogRepository this package needs.
type LogReader interface {
	ListByOutbox(ctx context.Context, outboxID uuid.UUID) ([]*models.EmailLog, error)
}

// EventReader is the read-only slice of EmailEventRepository this package needs.
type EventReader interface {
	ListByOutbox(ctx context.Context, outboxID uuid.UUID) ([]*models.EmailEvent, error)
}

// Handler serves the ingestion and read-only operator endpoints. All three
// handlers run inside the RLS middleware's transaction, so every query is
// implicitly scoped to the caller's company.
type Handler struct {
	ingestion *services.IngestionService
	companies CompanyGetter
	outbox    OutboxReader
	logs      LogReader
	events    EventReader
	sessions  *auth.SessionService
	audit     *services.AuditService
	tenants   tenant.Provider
	fiscalKey []byte
}

type Config struct {
	Ingestion *services.IngestionService
	Companies CompanyGetter
	Outbox    OutboxReader
	Logs      LogReader
	Events    EventReader
	Sessions  *auth.SessionService
	Audit     *services.AuditService
	Tenants   tenant.Provider
	FiscalKey []byte // 32-byte AES-256 key; shared with services.IngestionService, used to hash cpfCnpj filters
}

func NewHandler(cfg Config) *Handler {
	return &Handler{
		ingestion: cfg.Ingestion, companies: cfg.Companies, outbox: cfg.Outbox,
		logs: cfg.Logs, events: cfg.Events, sessions: cfg.Sessions, audit: cfg.Audit, tenants: cfg.Tenants,
		fiscalKey: cfg.FiscalKey,
	}
}
