// SPDX-License-Identifier: AGPL-3.0-or-later
package models

import (
	"time"

	"github.com/google/uuid"
)

type OutboxStatus string

const (
	OutboxStatusPending    OutboxStatus = "PENDING"
	OutboxStatusEnqueued   OutboxStatus = "ENQUEUED"
	OutboxStatusProcessing OutboxStatus = "PROCESSING"
	OutboxStatusSent       OutboxStatus = "SENT"
	OutboxStatusFailed     OutboxStatus = "FAILED"
	OutboxStatusRetrying   OutboxStatus = "RETRYING"
)

// IsTerminal reports whether no further transition out of this status is
// ever permitted. SENT and FAILED are sticky per the outbox invariant.
func (s OutboxStatus) IsTerminal() bool {
	return s == OutboxStatusSent || s == OutboxStatusFailed
}

// Header is a safe-listed X-Custom-*/X-Priority header carried on the outbox
// row and replayed verbatim to the provider driver.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// AttachmentRef is a stored attachment's metadata; the blob itself lives
// outside this system's scope (bulk storage is a Non-goal).
type AttachmentRef struct {
	Filename string `json:"filename"`
	MIMEType string `json:"mime_type"`
	SizeBy   int64  `json:"size_bytes"`
	Digest   string `json:"digest"`
}

// Outbox is the durable, authoritative record of an accepted send request.
// Its id doubles as the job id carried through the queue envelope.
type Outbox struct {
	ID             uuid.UUID       `json:"id"`
	CompanyID      uuid.UUID       `json:"company_id"`
	RecipientID    *uuid.UUID      `json:"recipient_id,omitempty"`
	From           string          `json:"from"`
	To             string          `json:"to"`
	Cc             []string        `json:"cc,omitempty"`
	Bcc            []string        `json:"bcc,omitempty"`
	Subject        string          `json:"subject"`
	HTMLRef        string          `json:"html_ref"`
	HTMLBody       string          `json:"-"`
	ReplyTo        string          `json:"reply_to,omitempty"`
	Headers        []Header        `json:"headers,omitempty"`
	Tags           []string        `json:"tags,omitempty"`
	Attachments    []AttachmentRef `json:"attachments,omitempty"`
	Status         OutboxStatus    `json:"status"`
	Attempts       int             `json:"attempts"`
	RequestID      string          `json:"request_id"`
	IdempotencyKey *string         `json:"idempotency_key,omitempty"`
	ExternalID     *string         `json:"external_id,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// validOutboxTransitions enumerates the non-terminal transitions the store
// will CAS between; terminal states are guarded separately since they must
// never regress regardless of the "from" set passed by a caller.
var validOutboxTransitions = map[OutboxStatus]map[OutboxStatus]bool{
	OutboxStatusPending:    {OutboxStatusEnqueued: true, OutboxStatusProcessing: true},
	OutboxStatusEnqueued:   {OutboxStatusProcessing: true},
	OutboxStatusProcessing: {OutboxStatusSent: true, OutboxStatusFailed: true, OutboxStatusRetrying: true},
	OutboxStatusRetrying:   {OutboxStatusProcessing: true, OutboxStatusFailed: true},
}

// CanTransition reports whether moving from 'from' to 'to' is a legal
// outbox state transition. Terminal states never transition further.
func CanTransition(from, to OutboxStatus) bool {
	if from.IsTerminal() {
		return false
	}
	next, ok := validOutboxTransitions[from]
	if !ok {
		return false
	}
	return next[to]
}
