// SPDX-License-Identifier: AGPL-3.0-or-later
package models

import (
	"time"

	"github.com/google/uuid"
)

// EmailLog is a post-attempt record: one row per dispatch attempt against
// an outbox entry, 1:N with the outbox through the attempt counter.
type EmailLog struct {
	ID                uuid.UUID `json:"id"`
	OutboxID          uuid.UUID `json:"outbox_id"`
	Attempt           int       `json:"attempt"`
	Provider          string    `json:"provider"`
	ProviderMessageID *string   `json:"provider_message_id,omitempty"`
	Status            string    `json:"status"`
	ErrorCode         *string   `json:"error_code,omitempty"`
	ErrorCategory     *string   `json:"error_category,omitempty"`
	ErrorReason       *string   `json:"error_reason,omitempty"`
	DurationMS        int64     `json:"duration_ms"`
	CreatedAt         time.Time `json:"created_at"`
}
