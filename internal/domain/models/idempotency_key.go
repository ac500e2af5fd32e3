// SPDX-License-Identifier: AGPL-3.0-or-later
package models

import (
	"time"

	"github.com/google/uuid"
)

// IdempotencyKey maps a caller-supplied Idempotency-Key, scoped to a
// company, to the outbox row it originally created and a hash of the
// request payload used to detect conflicting replays.
type IdempotencyKey struct {
	CompanyID   uuid.UUID `json:"company_id"`
	Key         string    `json:"key"`
	OutboxID    uuid.UUID `json:"outbox_id"`
	PayloadHash string    `json:"payload_hash"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}
