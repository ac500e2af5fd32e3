// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider implements the pluggable dispatch-driver layer: SES,
// SMTP and generic-HTTP drivers behind a common interface, each wrapped in
// a per-(provider,region) circuit breaker and token-bucket rate limiter.
package provider

import (
	"context"

	"github.com/google/uuid"

	"github.com/btouchard/sendforge/internal/domain/models"
)

// Envelope is the dispatch-critical snapshot of an outbox row a driver
// needs to place an attempt; it never carries more PII than the to-address.
type Envelope struct {
	OutboxID uuid.UUID
	From     string
	To       string
	Cc       []string
	Bcc      []string
	Subject  string
	HTML     string
	Text     string
	ReplyTo  string
	Headers  []models.Header
	Attempt  int
}

// Result is what a successful dispatch returns.
type Result struct {
	MessageID string
}

// Driver is the contract every dispatch provider implements: send,
// connection health, and a remaining-quota probe.
type Driver interface {
	Name() string
	Kind() models.ProviderKind
	Region() string
	Send(ctx context.Context, env Envelope) (Result, error)
	VerifyConnection(ctx context.Context) error
	GetQuota(ctx context.Context) (Quota, error)
}

// Quota reports a provider's remaining send allowance, when the backend
// exposes one.
type Quota struct {
	Max24Hour     float64
	SentLast24Hour float64
	MaxSendRate   float64
}
