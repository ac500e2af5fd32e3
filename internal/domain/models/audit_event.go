// SPDX-License-Identifier: AGPL-3.0-or-later
package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditEvent records one break-glass access to unmasked PII: who looked,
// why, at what resource, from where, and when.
type AuditEvent struct {
	ID         uuid.UUID `json:"id"`
	OperatorID string    `json:"operator_id"`
	Reason     string    `json:"reason"`
	Resource   string    `json:"resource"`
	IP         string    `json:"ip"`
	Timestamp  time.Time `json:"timestamp"`
}
