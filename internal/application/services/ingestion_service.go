// SPDX-License-Identifier: AGPL-3.0-or-later

// Package services implements the application layer orchestrating the
// domain model and infrastructure adapters: ingestion, admission,
// dispatch, domain verification, DLQ replay, audit and retention.
package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/btouchard/sendforge/internal/domain/models"
	"github.com/btouchard/sendforge/internal/infrastructure/queue"
	"github.com/btouchard/sendforge/internal/infrastructure/sanitize"
	"github.com/btouchard/sendforge/pkg/crypto"
	"github.com/btouchard/sendforge/pkg/logger"
	"github.com/btouchard/sendforge/pkg/metrics"
)

// emailCaser lower-cases recipient addresses locale-safely (§3: "email
// (lower-cased)"); language.Und keeps the mapping Unicode-default rather
// than tied to any one locale's casing quirks (e.g. Turkish dotless-i).
var emailCaser = cases.Lower(language.Und)

func normalizeEmail(email string) string {
	return emailCaser.String(email)
}

// SendRequest is the validated input to IngestionService.Submit, built by
// the HTTP handler from the request body.
type SendRequest struct {
	From                string
	To                  string
	Cc                  []string
	Bcc                 []string
	Subject             string
	HTML                string
	Text                string
	ReplyTo             string
	Headers             []models.Header
	Tags                []string
	Attachments         []models.AttachmentRef
	ExternalID          string
	RecipientExternalID string
	FiscalID            string
	RecipientName       string
	RecipientLegalName  string
	IdempotencyKey      string
	RequestID           string
}

type outboxRepository interface {
	Create(ctx context.Context, o *models.Outbox) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Outbox, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, to models.OutboxStatus, incrementAttempt bool) error
}

type recipientRepository interface {
	FindByEmail(ctx context.Context, companyID uuid.UUID, email string) (*models.Recipient, error)
	ResolveOrCreate(ctx context.Context, companyID uuid.UUID, rec *models.Recipient) (*models.Recipient, error)
}

type domainRepository interface {
	GetByName(ctx context.Context, companyID uuid.UUID, name string) (*models.Domain, error)
}

type idempotencyRepository interface {
	Claim(ctx context.Context, k *models.IdempotencyKey) (*models.IdempotencyKey, error)
	AttachOutboxID(ctx context.Context, companyID uuid.UUID, key string, outboxID uuid.UUID) error
}

type eventAppender interface {
	Append(ctx context.Context, e *models.EmailEvent) error
}

// IngestionService implements the admission pipeline from §4.1: sanitize,
// validate the sending domain, check suppression, enforce the daily cap
// and idempotency, then persist and enqueue.
type IngestionService struct {
	outbox         outboxRepository
	recipients     recipientRepository
	domains        domainRepository
	idempotency    idempotencyRepository
	events         eventAppender
	admission      *AdmissionService
	queue          *queue.Queue
	sandboxMode    bool
	idempotencyTTL time.Duration
	jobTTL         time.Duration
	fiscalKey      []byte
}

type IngestionServiceConfig struct {
	Outbox         outboxRepository
	Recipients     recipientRepository
	Domains        domainRepository
	Idempotency    idempotencyRepository
	Events         eventAppender
	Admission      *AdmissionService
	Queue          *queue.Queue
	SandboxMode    bool
	IdempotencyTTL time.Duration
	JobTTL         time.Duration
	FiscalKey      []byte // 32-byte AES-256 key; nil disables fiscal-identifier persistence
}

func NewIngestionService(cfg IngestionServiceConfig) *IngestionService {
	if cfg.IdempotencyTTL == 0 {
		cfg.IdempotencyTTL = 24 * time.Hour
	}
	if cfg.JobTTL == 0 {
		cfg.JobTTL = 24 * time.Hour
	}
	return &IngestionService{
		outbox: cfg.Outbox, recipients: cfg.Recipients, domains: cfg.Domains,
		idempotency: cfg.Idempotency, events: cfg.Events, admission: cfg.Admission,
		queue: cfg.Queue, sandboxMode: cfg.SandboxMode,
		idempotencyTTL: cfg.IdempotencyTTL, jobTTL: cfg.JobTTL, fiscalKey: cfg.FiscalKey,
	}
}

// Submit runs the full admission pipeline and returns the created (or
// idempotently replayed) outbox entry, recording the outcome (§4.8).
func (s *IngestionService) Submit(ctx context.Context, companyID uuid.UUID, company *models.Company, req SendRequest) (*models.Outbox, error) {
	o, err := s.submit(ctx, companyID, company, req)
	metrics.IngestionTotal.WithLabelValues(ingestionOutcome(err)).Inc()
	return o, err
}

func ingestionOutcome(err error) string {
	switch {
	case err == nil:
		return "accepted"
	case errors.Is(err, models.ErrIdempotencyReplay):
		return "replayed"
	case errors.Is(err, models.ErrIdempotencyConflict):
		return "rejected_idempotency_conflict"
	case errors.Is(err, models.ErrRecipientSuppressed):
		return "rejected_suppressed"
	case errors.Is(err, models.ErrDomainNotVerified):
		return "rejected_domain_unverified"
	case errors.Is(err, models.ErrRateLimited):
		return "rejected_rate_limited"
	case errors.Is(err, models.ErrDailyCapExceeded):
		return "rejected_daily_cap"
	default:
		return "rejected_error"
	}
}

func (s *IngestionService) submit(ctx context.Context, companyID uuid.UUID, company *models.Company, req SendRequest) (*models.Outbox, error) {
	req.To = normalizeEmail(req.To)
	payloadHash := hashPayload(req)

	if req.IdempotencyKey != "" {
		claimed, err := s.idempotency.Claim(ctx, &models.IdempotencyKey{
			CompanyID:   companyID,
			Key:         req.IdempotencyKey,
			PayloadHash: payloadHash,
			ExpiresAt:   time.Now().UTC().Add(s.idempotencyTTL),
		})
		switch {
		case errors.Is(err, models.ErrIdempotencyReplay):
			// Same key, same payload: this is not a new send, it's the client
			// retrying after a dropped response. Return the original outbox
			// rather than creating a duplicate.
			existing, getErr := s.outbox.GetByID(ctx, claimed.OutboxID)
			if getErr != nil {
				return nil, getErr
			}
			return existing, nil
		case errors.Is(err, models.ErrIdempotencyConflict):
			return nil, models.ErrIdempotencyConflict
		case err != nil:
			return nil, err
		}
	}

	recipient, err := s.recipients.FindByEmail(ctx, companyID, req.To)
	if err != nil {
		return nil, err
	}
	if recipient != nil && recipient.IsSuppressed() {
		return nil, models.ErrRecipientSuppressed
	}

	hasRecipientIdentifiers := req.RecipientExternalID != "" || req.FiscalID != "" || req.RecipientName != "" || req.RecipientLegalName != ""
	if recipient == nil && hasRecipientIdentifiers {
		resolved, err := s.resolveOrCreateRecipient(ctx, companyID, req)
		if err != nil {
			return nil, err
		}
		recipient = resolved
	}

	from := req.From
	if from == "" {
		from = company.DefaultFromAddress
	}
	domainName := domainOf(from)
	if domainName == "" {
		return nil, fmt.Errorf("%w: no from address resolvable", models.ErrDomainNotVerified)
	}
	d, err := s.domains.GetByName(ctx, companyID, domainName)
	if err != nil && err != models.ErrDomainNotFound {
		return nil, err
	}
	switch {
	case d != nil && d.IsSendable(s.sandboxMode):
		// verified, or unverified-but-sandboxed: proceed.
	case d == nil && s.sandboxMode:
		// no domain record yet, but sandbox mode tolerates unregistered senders.
	default:
		return nil, models.ErrDomainNotVerified
	}

	if err := s.admission.CheckAndReserve(ctx, companyID, company); err != nil {
		return nil, err
	}

	sanitizedHTML, err := sanitize.Sanitize(req.HTML)
	if err != nil {
		return nil, fmt.Errorf("sanitize html body: %w", err)
	}

	o := &models.Outbox{
		ID:         uuid.New(),
		CompanyID:  companyID,
		From:       from,
		To:         req.To,
		Cc:         req.Cc,
		Bcc:        req.Bcc,
		Subject:    req.Subject,
		HTMLBody:   sanitizedHTML,
		ReplyTo:    req.ReplyTo,
		Headers:     req.Headers,
		Tags:        req.Tags,
		Attachments: req.Attachments,
		Status:      models.OutboxStatusPending,
		RequestID:  req.RequestID,
		ExternalID: nonEmptyPtr(req.ExternalID),
	}
	if recipient != nil {
		o.RecipientID = &recipient.ID
	}
	if req.IdempotencyKey != "" {
		o.IdempotencyKey = &req.IdempotencyKey
	}

	if err := s.outbox.Create(ctx, o); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		if err := s.idempotency.AttachOutboxID(ctx, companyID, req.IdempotencyKey, o.ID); err != nil {
			return nil, err
		}
	}

	if err := s.events.Append(ctx, &models.EmailEvent{OutboxID: o.ID, Type: models.EventCreated}); err != nil {
		logger.Logger.Error("failed to append created event", "outbox_id", o.ID, "error", err.Error())
	}

	env := queue.JobEnvelope{
		JobID: o.ID, CompanyID: companyID, RequestID: req.RequestID,
		From: from, To: req.To, Cc: req.Cc, Bcc: req.Bcc, Subject: req.Subject, HTMLRef: o.HTMLRef,
		ReplyTo: req.ReplyTo, Headers: req.Headers, Tags: req.Tags, RecipientID: o.RecipientID,
		Attempt: 1, Priority: models.BasePriority, EnqueuedAt: time.Now().UTC(),
	}
	if err := s.queue.Enqueue(ctx, env, 0, s.jobTTL); err != nil {
		return nil, fmt.Errorf("enqueue job: %w", err)
	}
	if err := s.outbox.TransitionStatus(ctx, o.ID, models.OutboxStatusEnqueued, false); err != nil {
		logger.Logger.Warn("failed to mark outbox enqueued", "outbox_id", o.ID, "error", err.Error())
	}
	o.Status = models.OutboxStatusEnqueued

	if err := s.events.Append(ctx, &models.EmailEvent{OutboxID: o.ID, Type: models.EventEnqueued}); err != nil {
		logger.Logger.Error("failed to append enqueued event", "outbox_id", o.ID, "error", err.Error())
	}

	return o, nil
}

// resolveOrCreateRecipient implements §4.1/§4.4's RECIPIENT step: when the
// request carries an identifier beyond the bare to-address, resolve or
// create the recipient row, encrypting the fiscal id (if provided) rather
// than ever persisting it in plaintext.
func (s *IngestionService) resolveOrCreateRecipient(ctx context.Context, companyID uuid.UUID, req SendRequest) (*models.Recipient, error) {
	rec := &models.Recipient{CompanyID: companyID, Email: req.To}
	if req.RecipientExternalID != "" {
		rec.ExternalID = &req.RecipientExternalID
	}
	if req.RecipientName != "" {
		rec.Name = &req.RecipientName
	}
	if req.RecipientLegalName != "" {
		rec.LegalName = &req.RecipientLegalName
	}
	if req.FiscalID != "" {
		if len(s.fiscalKey) != 32 {
			return nil, fmt.Errorf("fiscal identifier provided but no fiscal encryption key configured")
		}
		salt, err := crypto.GenerateNonce()
		if err != nil {
			return nil, fmt.Errorf("generate fiscal salt: %w", err)
		}
		ciphertext, err := crypto.EncryptToken(req.FiscalID, s.fiscalKey)
		if err != nil {
			return nil, fmt.Errorf("encrypt fiscal identifier: %w", err)
		}
		hash := crypto.HashFiscalID(req.FiscalID, s.fiscalKey)
		rec.FiscalHash = &hash
		rec.FiscalCiphertext = ciphertext
		rec.FiscalSalt = []byte(salt)
	}
	return s.recipients.ResolveOrCreate(ctx, companyID, rec)
}

func hashPayload(req SendRequest) string {
	b, _ := json.Marshal(req)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func nonEmptyPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func domainOf(email string) string {
	for i := len(email) - 1; i >= 0; i-- {
		if email[i] == '@' {
			return email[i+1:]
		}
	}
	return ""
}
