// SPDX-License-Identifier: AGPL-3.0-or-later
package models

import (
	"time"

	"github.com/google/uuid"
)

type CompanyStatus string

const (
	CompanyStatusActive    CompanyStatus = "ACTIVE"
	CompanyStatusSuspended CompanyStatus = "SUSPENDED"
)

// Company is the tenant boundary: every outbox row, recipient, domain and
// API key belongs to exactly one company, isolated via row-level security.
type Company struct {
	ID             uuid.UUID     `json:"id"`
	Name           string        `json:"name"`
	Status         CompanyStatus `json:"status"`
	DailySendCap   int           `json:"daily_send_cap"`
	RatePerSecond  int           `json:"rate_per_second"`
	RateCapPerMinute int         `json:"rate_cap_per_minute"`
	RateCapPerHour   int         `json:"rate_cap_per_hour"`
	APIKeyHash     string        `json:"-"`
	AllowedCIDRs   []string      `json:"allowed_cidrs,omitempty"`
	ProviderOrder  []string      `json:"provider_order"`
	DefaultFromAddress string    `json:"default_from_address"`
	BoundDomain    string        `json:"bound_domain,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

func (c *Company) IsActive() bool {
	return c.Status == CompanyStatusActive
}
