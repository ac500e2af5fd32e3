// SPDX-License-Identifier: AGPL-3.0-or-later
package models

import (
	"time"

	"github.com/google/uuid"
)

// DLQEntry is the terminal bucket for a job that exhausted retries, expired
// its TTL, or was classified non-retryable. last_failure_reason must never
// be blank; it is the user-observable final failure state.
type DLQEntry struct {
	JobID             uuid.UUID `json:"job_id"`
	OutboxID          uuid.UUID `json:"outbox_id"`
	CompanyID         uuid.UUID `json:"company_id"`
	OriginalPayload   []byte    `json:"original_payload"`
	FailedAttempts    int       `json:"failed_attempts"`
	LastFailureReason string    `json:"last_failure_reason"`
	LastFailureCode   string    `json:"last_failure_code"`
	LastFailureAt     time.Time `json:"last_failure_at"`
	EnqueuedAt        time.Time `json:"enqueued_at"`
	MovedToDLQAt      time.Time `json:"moved_to_dlq_at"`
	TTL               time.Duration `json:"ttl"`
}
