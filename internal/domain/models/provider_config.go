// SPDX-License-Identifier: AGPL-3.0-or-later
package models

import (
	"time"

	"github.com/google/uuid"
)

type ProviderKind string

const (
	ProviderKindSES  ProviderKind = "SES"
	ProviderKindSMTP ProviderKind = "SMTP"
	ProviderKindHTTP ProviderKind = "HTTP"
)

// ProviderConfig is a per-company, priority-ordered dispatch driver
// activation. Lower Priority is tried first; disabled configs are skipped.
type ProviderConfig struct {
	ID         uuid.UUID      `json:"id"`
	CompanyID  uuid.UUID      `json:"company_id"`
	Kind       ProviderKind   `json:"kind"`
	Region     string         `json:"region,omitempty"`
	Priority   int            `json:"priority"`
	Enabled    bool           `json:"enabled"`
	Settings   map[string]any `json:"settings,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}
