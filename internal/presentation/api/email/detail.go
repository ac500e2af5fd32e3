// SPDX-License-Identifier: AGPL-3.0-or-later
package email

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/btouchard/sendforge/internal/domain/models"
	"github.com/btouchard/sendforge/internal/presentation/api/shared"
)

type outboxDetail struct {
	ID               string        `json:"outboxId"`
	Status           string        `json:"status"`
	From             string        `json:"from"`
	To               string        `json:"to"`
	Cc               []string      `json:"cc,omitempty"`
	Bcc              []string      `json:"bcc,omitempty"`
	Subject          string        `json:"subject"`
	ReplyTo          string        `json:"replyTo,omitempty"`
	Tags             []string      `json:"tags,omitempty"`
	ExternalID       *string       `json:"externalId,omitempty"`
	Attempts         int           `json:"attempts"`
	RequestID        string        `json:"requestId"`
	CreatedAt        time.Time     `json:"createdAt"`
	UpdatedAt        time.Time     `json:"updatedAt"`
	DispatchAttempts []attemptView `json:"dispatchAttempts,omitempty"`
	Events           []eventView   `json:"events"`
}

type attemptView struct {
	Attempt           int       `json:"attempt"`
	Provider          string    `json:"provider"`
	ProviderMessageID *string   `json:"providerMessageId,omitempty"`
	Status            string    `json:"status"`
	ErrorCode         *string   `json:"errorCode,omitempty"`
	ErrorCategory     *string   `json:"errorCategory,omitempty"`
	ErrorReason       *string   `json:"errorReason,omitempty"`
	DurationMS        int64     `json:"durationMs"`
	CreatedAt         time.Time `json:"createdAt"`
}

type eventView struct {
	Type      string         `json:"type"`
	Sequence  int64          `json:"sequence"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// HandleDetail serves GET /v1/emails/:id: full lifecycle detail, PII
// masked unless the request carries an audit-profile break-glass session.
func (h *Handler) HandleDetail(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	companyID, err := h.tenants.CurrentCompany(ctx)
	if err != nil {
		shared.WriteUnauthorized(w, r, "")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		shared.WriteValidationError(w, r, "invalid id", []shared.FieldError{{Field: "id", Message: "must be a valid id"}})
		return
	}

	o, err := h.outbox.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, models.ErrOutboxNotFound) {
			shared.WriteNotFound(w, r, "email")
			return
		}
		shared.WriteInternalError(w, r)
		return
	}
	if o.CompanyID != companyID {
		shared.WriteNotFound(w, r, "email")
		return
	}

	logs, err := h.logs.ListByOutbox(ctx, id)
	if err != nil {
		shared.WriteInternalError(w, r)
		return
	}
	events, err := h.events.ListByOutbox(ctx, id)
	if err != nil {
		shared.WriteInternalError(w, r)
		return
	}

	unmask := h.resolveUnmask(r)
	if unmask.allowed && h.audit != nil {
		if err := h.audit.RecordAccess(ctx, unmask.operatorID, unmask.reason, "email_detail:"+id.String(), clientIP(r)); err != nil {
			shared.WriteInternalError(w, r)
			return
		}
	}

	to := maskEmail(o.To)
	if unmask.allowed {
		to = o.To
	}

	detail := outboxDetail{
		ID: o.ID.String(), Status: string(o.Status), From: o.From, To: to,
		Cc: o.Cc, Bcc: o.Bcc, Subject: o.Subject, ReplyTo: o.ReplyTo, Tags: o.Tags,
		ExternalID: o.ExternalID, Attempts: o.Attempts, RequestID: o.RequestID,
		CreatedAt: o.CreatedAt, UpdatedAt: o.UpdatedAt,
	}
	for _, l := range logs {
		detail.DispatchAttempts = append(detail.DispatchAttempts, attemptView{
			Attempt: l.Attempt, Provider: l.Provider, ProviderMessageID: l.ProviderMessageID,
			Status: l.Status, ErrorCode: l.ErrorCode, ErrorCategory: l.ErrorCategory,
			ErrorReason: l.ErrorReason, DurationMS: l.DurationMS, CreatedAt: l.CreatedAt,
		})
	}
	for _, e := range events {
		detail.Events = append(detail.Events, eventView{
			Type: string(e.Type), Sequence: e.Sequence, Metadata: e.Metadata, Timestamp: e.Timestamp,
		})
	}

	shared.WriteJSON(w, http.StatusOK, detail)
}
