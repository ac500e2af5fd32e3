// SPDX-License-Identifier: AGPL-3.0-or-later

// Package queue implements the durable job queue on Redis: per-tenant
// fairness, integer priorities, delayed retries with a TTL deadline, and
// admission counters, per §4.3 and §5. A job past its TTL is reported or
// skipped by the queue; nothing in this package writes it to the DLQ.
package queue

import (
	"time"

	"github.com/google/uuid"

	"github.com/btouchard/sendforge/internal/domain/models"
)

// JobEnvelope is the lightweight queue payload: jobId == outboxId, a
// snapshot of dispatch-critical fields, and an attempt counter. HTML is
// referenced, never inlined, to keep the envelope well under 64 KiB.
type JobEnvelope struct {
	JobID       uuid.UUID       `json:"job_id"`
	CompanyID   uuid.UUID       `json:"company_id"`
	RequestID   string          `json:"request_id"`
	From        string          `json:"from"`
	To          string          `json:"to"`
	Cc          []string        `json:"cc,omitempty"`
	Bcc         []string        `json:"bcc,omitempty"`
	Subject     string          `json:"subject"`
	HTMLRef     string          `json:"html_ref"`
	ReplyTo     string          `json:"reply_to,omitempty"`
	Headers     []models.Header `json:"headers,omitempty"`
	Tags        []string        `json:"tags,omitempty"`
	RecipientID *uuid.UUID      `json:"recipient_id,omitempty"`
	Attempt     int             `json:"attempt"`
	Priority    int             `json:"priority"`
	EnqueuedAt  time.Time       `json:"enqueued_at"`
}
