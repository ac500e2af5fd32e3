// SPDX-License-Identifier: AGPL-3.0-or-later
package models

import (
	"time"

	"github.com/google/uuid"
)

type DomainStatus string

const (
	DomainStatusPending           DomainStatus = "PENDING"
	DomainStatusVerified          DomainStatus = "VERIFIED"
	DomainStatusFailed            DomainStatus = "FAILED"
	DomainStatusTemporaryFailure  DomainStatus = "TEMPORARY_FAILURE"
)

type DKIMStatus string

const (
	DKIMStatusPending  DKIMStatus = "PENDING"
	DKIMStatusVerified DKIMStatus = "VERIFIED"
	DKIMStatusFailed   DKIMStatus = "FAILED"
)

// WarmupPlan bounds a newly verified domain's send volume while its sender
// reputation builds.
type WarmupPlan struct {
	DailyLimit    int  `json:"daily_limit"`
	WeeklyIncrease int `json:"weekly_increase"`
	Cap           int  `json:"cap"`
	Active        bool `json:"active"`
}

// Domain tracks the per-company sending-domain verification state machine
// that gates ingestion: only a VERIFIED domain may send outside sandbox.
type Domain struct {
	ID                       uuid.UUID    `json:"id"`
	CompanyID                uuid.UUID    `json:"company_id"`
	Name                     string       `json:"name"`
	Status                   DomainStatus `json:"status"`
	DKIMStatus               DKIMStatus   `json:"dkim_status"`
	DKIMSelectors            []string     `json:"dkim_selectors,omitempty"`
	DKIMPublicKey            string       `json:"dkim_public_key,omitempty"`
	DKIMPrivateKeyCiphertext string       `json:"-"`
	DKIMKeyVersion           int          `json:"-"`
	ConsecutiveSuccesses     int          `json:"-"`
	LastChecked              *time.Time   `json:"last_checked,omitempty"`
	WarmupPlan               WarmupPlan   `json:"warmup_plan"`
	CreatedAt                time.Time    `json:"created_at"`
}

func (d *Domain) IsSendable(sandbox bool) bool {
	if d.Status == DomainStatusVerified {
		return true
	}
	return sandbox
}
