// SPDX-License-Identifier: AGPL-3.0-or-later
package models

import (
	"time"

	"github.com/google/uuid"
)

type SuppressionReason string

const (
	SuppressionReasonBounce      SuppressionReason = "BOUNCE"
	SuppressionReasonComplaint   SuppressionReason = "COMPLAINT"
	SuppressionReasonManual      SuppressionReason = "MANUAL"
	SuppressionReasonUnsubscribe SuppressionReason = "UNSUBSCRIBE"
)

// Recipient tracks per-company identity and suppression state for an email
// address. A recipient with a non-empty SuppressedAt is rejected at
// admission time regardless of any global suppression overlay.
//
// Fiscal identifier (e.g. CPF/CNPJ) is stored only as a (hash, ciphertext,
// salt) triple, never in plaintext: FiscalHash is a deterministic keyed
// digest used for equality lookup (see pkg/crypto.HashFiscalID),
// FiscalCiphertext is the AES-256-GCM-sealed value (see
// pkg/crypto.EncryptToken), and FiscalSalt is per-row random entropy bound
// into that ciphertext's encryption, independent of the deterministic hash.
type Recipient struct {
	ID               uuid.UUID          `json:"id"`
	CompanyID        uuid.UUID          `json:"company_id"`
	ExternalID       *string            `json:"external_id,omitempty"`
	Email            string             `json:"email"`
	Name             *string            `json:"name,omitempty"`
	LegalName        *string            `json:"legal_name,omitempty"`
	FiscalHash       *string            `json:"-"`
	FiscalCiphertext []byte             `json:"-"`
	FiscalSalt       []byte             `json:"-"`
	SuppressedAt     *time.Time         `json:"suppressed_at,omitempty"`
	Reason           *SuppressionReason `json:"reason,omitempty"`
	LastEventAt      *time.Time         `json:"last_event_at,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	DeletedAt        *time.Time         `json:"deleted_at,omitempty"`
}

func (r *Recipient) IsSuppressed() bool {
	return r.SuppressedAt != nil
}

func (r *Recipient) IsDeleted() bool {
	return r.DeletedAt != nil
}

// HasFiscalIdentifier reports whether a fiscal-identifier triple was
// stored for this recipient.
func (r *Recipient) HasFiscalIdentifier() bool {
	return r.FiscalHash != nil
}
