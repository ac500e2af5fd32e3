// SPDX-License-Identifier: AGPL-3.0-or-later
package email

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/btouchard/sendforge/internal/domain/models"
	"github.com/btouchard/sendforge/internal/presentation/api/shared"
	"github.com/btouchard/sendforge/pkg/crypto"
)

const (
	defaultListPageSize = 20
	maxListPageSize     = 100
)

type outboxSummary struct {
	ID         string    `json:"outboxId"`
	Status     string    `json:"status"`
	To         string    `json:"to"`
	Subject    string    `json:"subject"`
	Tags       []string  `json:"tags,omitempty"`
	ExternalID *string   `json:"externalId,omitempty"`
	Attempts   int       `json:"attempts"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// HandleList serves GET /v1/emails: cursor-paginated, filtered to the
// caller's company by the RLS transaction this handler runs inside.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	companyID, err := h.tenants.CurrentCompany(ctx)
	if err != nil {
		shared.WriteUnauthorized(w, r, "")
		return
	}

	params := shared.ParseCursorParams(r, defaultListPageSize, maxListPageSize)

	var cursorID *uuid.UUID
	if params.Cursor != "" {
		id, err := uuid.Parse(params.Cursor)
		if err != nil {
			shared.WriteValidationError(w, r, "invalid cursor", []shared.FieldError{{Field: "cursor", Message: "must be a valid id"}})
			return
		}
		cursorID = &id
	}

	q := r.URL.Query()
	filter := models.OutboxFilter{
		CompanyID:           companyID.String(),
		To:                  q.Get("to"),
		ExternalID:          q.Get("externalId"),
		RecipientExternalID: q.Get("recipientExternalId"),
		RecipientName:       q.Get("nome"),
		RecipientLegalName:  q.Get("razaoSocial"),
	}
	if status := q.Get("status"); status != "" {
		filter.Statuses = []string{status}
	}
	if tags := q["tags"]; len(tags) > 0 {
		filter.Tags = tags
	}
	if dateFrom := q.Get("dateFrom"); dateFrom != "" {
		filter.DateFrom = &dateFrom
	}
	if dateTo := q.Get("dateTo"); dateTo != "" {
		filter.DateTo = &dateTo
	}
	if cpfCnpj := q.Get("cpfCnpj"); cpfCnpj != "" {
		if len(h.fiscalKey) != 32 {
			shared.WriteValidationError(w, r, "fiscal identifier filter unavailable", []shared.FieldError{{Field: "cpfCnpj", Message: "no fiscal encryption key configured"}})
			return
		}
		filter.FiscalHash = crypto.HashFiscalID(cpfCnpj, h.fiscalKey)
	}

	items, err := h.outbox.ListByFilter(ctx, filter, cursorID, params.Offset, params.PageSize)
	if err != nil {
		shared.WriteInternalError(w, r)
		return
	}

	unmask := h.resolveUnmask(r)
	if unmask.allowed && len(items) > 0 && h.audit != nil {
		if err := h.audit.RecordAccess(ctx, unmask.operatorID, unmask.reason, "email_list:"+companyID.String(), clientIP(r)); err != nil {
			shared.WriteInternalError(w, r)
			return
		}
	}

	summaries := make([]outboxSummary, 0, len(items))
	for _, o := range items {
		to := maskEmail(o.To)
		if unmask.allowed {
			to = o.To
		}
		summaries = append(summaries, outboxSummary{
			ID: o.ID.String(), Status: string(o.Status), To: to,
			Subject: o.Subject, Tags: o.Tags, ExternalID: o.ExternalID,
			Attempts: o.Attempts, CreatedAt: o.CreatedAt, UpdatedAt: o.UpdatedAt,
		})
	}

	nextCursor := ""
	if len(items) == params.PageSize {
		nextCursor = items[len(items)-1].ID.String()
	}
	shared.WritePage(w, summaries, nextCursor)
}
