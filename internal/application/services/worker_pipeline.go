// SPDX-License-Identifier: AGPL-3.0-or-later
package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/btouchard/sendforge/internal/domain/models"
	"github.com/btouchard/sendforge/internal/domain/taxonomy"
	"github.com/btouchard/sendforge/internal/infrastructure/dbctx"
	"github.com/btouchard/sendforge/internal/infrastructure/provider"
	"github.com/btouchard/sendforge/internal/infrastructure/queue"
	"github.com/btouchard/sendforge/internal/infrastructure/retry"
	"github.com/btouchard/sendforge/pkg/logger"
	"github.com/btouchard/sendforge/pkg/metrics"
)

type outboxStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Outbox, error)
	GetHTMLBody(ctx context.Context, id uuid.UUID) (string, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, to models.OutboxStatus, incrementAttempt bool) error
}

type emailLogStore interface {
	Create(ctx context.Context, l *models.EmailLog) error
}

type providerConfigStore interface {
	ListByCompany(ctx context.Context, companyID uuid.UUID) ([]*models.ProviderConfig, error)
}

type dlqStore interface {
	Insert(ctx context.Context, e *models.DLQEntry) error
}

type companyRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Company, error)
}

// WorkerPipeline is the dispatch state machine driven by the worker's main
// loop: claim a job, mark it PROCESSING, attempt delivery through the
// company's provider list with failover, then either finalize it SENT,
// reschedule it RETRYING with a backoff delay, or mark it FAILED with a DLQ
// entry when the failure is not retryable or attempts are exhausted. A job
// whose TTL lapses while queued is not moved to the DLQ by this pipeline.
type WorkerPipeline struct {
	db         *sql.DB
	scheduler  *FairnessScheduler
	queue      *queue.Queue
	registry   *provider.Registry
	outbox     outboxStore
	logs       emailLogStore
	events     eventAppender
	configs    providerConfigStore
	dlq        dlqStore
	retryPolicy retry.Policy
	jobTTL     time.Duration
	admission  *AdmissionService
	recipients recipientRepository
	domains    domainRepository
	companies  companyRepository
	sandboxMode bool
}

type WorkerPipelineConfig struct {
	DB          *sql.DB
	Scheduler   *FairnessScheduler
	Queue       *queue.Queue
	Registry    *provider.Registry
	Outbox      outboxStore
	Logs        emailLogStore
	Events      eventAppender
	Configs     providerConfigStore
	DLQ         dlqStore
	RetryPolicy retry.Policy
	JobTTL      time.Duration
	Admission   *AdmissionService
	Recipients  recipientRepository
	Domains     domainRepository
	Companies   companyRepository
	SandboxMode bool
}

func NewWorkerPipeline(cfg WorkerPipelineConfig) *WorkerPipeline {
	if cfg.RetryPolicy == (retry.Policy{}) {
		cfg.RetryPolicy = retry.DefaultPolicy()
	}
	if cfg.JobTTL == 0 {
		cfg.JobTTL = 24 * time.Hour
	}
	return &WorkerPipeline{
		db: cfg.DB, scheduler: cfg.Scheduler, queue: cfg.Queue, registry: cfg.Registry,
		outbox: cfg.Outbox, logs: cfg.Logs, events: cfg.Events, configs: cfg.Configs,
		dlq: cfg.DLQ, retryPolicy: cfg.RetryPolicy, jobTTL: cfg.JobTTL,
		admission: cfg.Admission, recipients: cfg.Recipients, domains: cfg.Domains,
		companies: cfg.Companies, sandboxMode: cfg.SandboxMode,
	}
}

// RunOnce claims and processes a single job, returning false when there
// was no work to claim so the caller's loop can back off.
func (p *WorkerPipeline) RunOnce(ctx context.Context) (bool, error) {
	env, err := p.scheduler.ClaimNext(ctx)
	if err != nil {
		return false, err
	}
	if env == nil {
		return false, nil
	}

	if err := p.process(ctx, env); err != nil {
		logger.Logger.Error("worker pipeline: job processing failed", "job_id", env.JobID, "company_id", env.CompanyID, "error", err.Error())
	}
	return true, nil
}

func (p *WorkerPipeline) process(ctx context.Context, env *queue.JobEnvelope) error {
	start := time.Now()

	var html string
	var configs []*models.ProviderConfig
	err := dbctx.RunInCompanyTx(ctx, p.db, env.CompanyID, func(ctx context.Context) error {
		claimErr := p.outbox.TransitionStatus(ctx, env.JobID, models.OutboxStatusProcessing, false)
		if claimErr != nil {
			return claimErr
		}
		var bodyErr error
		html, bodyErr = p.outbox.GetHTMLBody(ctx, env.JobID)
		if bodyErr != nil {
			return bodyErr
		}
		var cfgErr error
		configs, cfgErr = p.configs.ListByCompany(ctx, env.CompanyID)
		return cfgErr
	})
	if errors.Is(err, models.ErrOutboxStateConflict) {
		logger.Logger.Debug("worker pipeline: job already claimed elsewhere", "job_id", env.JobID)
		return nil
	}
	if err != nil {
		return err
	}

	if err := p.events.Append(ctx, &models.EmailEvent{OutboxID: env.JobID, Type: models.EventProcessing}); err != nil {
		logger.Logger.Error("failed to append processing event", "outbox_id", env.JobID, "error", err.Error())
	}

	if validateErr := p.validate(ctx, env); validateErr != nil {
		return p.finalizeFailure(ctx, env, validateErr, time.Since(start))
	}

	providerEnv := provider.Envelope{
		OutboxID: env.JobID, From: env.From, To: env.To, Cc: env.Cc, Bcc: env.Bcc,
		Subject: env.Subject, HTML: html, ReplyTo: env.ReplyTo, Headers: env.Headers, Attempt: env.Attempt,
	}

	configValues := make([]models.ProviderConfig, 0, len(configs))
	for _, c := range configs {
		configValues = append(configValues, *c)
	}

	result, dispatchErr := p.registry.DispatchWithFailover(ctx, configValues, providerEnv)
	duration := time.Since(start)

	if dispatchErr == nil {
		return p.finalizeSent(ctx, env, result, duration)
	}
	return p.finalizeFailure(ctx, env, dispatchErr, duration)
}

// validate runs §4.4 step 2 (OUTBOX/RECIPIENT/TEMPLATE integrity) and step 3
// (suppression, domain-VERIFIED gate, daily-cap re-check) between the CAS
// claim and provider dispatch. A claim made it through the queue, but the
// world can have changed since ingestion: a recipient can have bounced, a
// domain can have lost verification, or the company can have blown through
// its cap while this job sat in the queue.
func (p *WorkerPipeline) validate(ctx context.Context, env *queue.JobEnvelope) *taxonomy.ProviderError {
	if _, err := p.outbox.GetByID(ctx, env.JobID); err != nil {
		return taxonomy.NewProviderError(taxonomy.CodeOutboxNotFound, "outbox row missing at dispatch time", err)
	}

	if p.recipients != nil {
		recipient, err := p.recipients.FindByEmail(ctx, env.CompanyID, env.To)
		if err != nil {
			return taxonomy.NewProviderError(taxonomy.CodeRecipientNotFound, "recipient lookup failed", err)
		}
		if recipient != nil && recipient.IsSuppressed() {
			return taxonomy.NewProviderError(taxonomy.CodeRecipientNotFound, "recipient suppressed since ingestion", models.ErrRecipientSuppressed)
		}
	}

	if p.domains != nil {
		domainName := domainOf(env.From)
		d, err := p.domains.GetByName(ctx, env.CompanyID, domainName)
		if err != nil && err != models.ErrDomainNotFound {
			return taxonomy.NewProviderError(taxonomy.CodeInvalidEmail, "sending domain lookup failed", err)
		}
		sendable := d != nil && d.IsSendable(p.sandboxMode)
		if !sendable && !(d == nil && p.sandboxMode) {
			return taxonomy.NewProviderError(taxonomy.CodeInvalidEmail, "sending domain no longer verified", models.ErrDomainNotVerified)
		}
	}

	if p.admission != nil && p.companies != nil {
		company, err := p.companies.GetByID(ctx, env.CompanyID)
		if err != nil {
			return taxonomy.NewProviderError(taxonomy.CodeOutboxNotFound, "company lookup failed", err)
		}
		if err := p.admission.CheckOnly(ctx, env.CompanyID, company); err != nil {
			code := taxonomy.CodeQuotaExceeded
			if errors.Is(err, models.ErrRateLimited) {
				code = taxonomy.CodeRateLimitExceeded
			}
			return taxonomy.NewProviderError(code, "send cap exceeded at dispatch", err)
		}
	}

	return nil
}

func (p *WorkerPipeline) finalizeSent(ctx context.Context, env *queue.JobEnvelope, result provider.Result, duration time.Duration) error {
	return dbctx.RunInCompanyTx(ctx, p.db, env.CompanyID, func(ctx context.Context) error {
		if err := p.outbox.TransitionStatus(ctx, env.JobID, models.OutboxStatusSent, false); err != nil {
			return err
		}
		messageID := result.MessageID
		if err := p.logs.Create(ctx, &models.EmailLog{
			OutboxID: env.JobID, Attempt: env.Attempt, ProviderMessageID: &messageID,
			Status: "SENT", DurationMS: duration.Milliseconds(),
		}); err != nil {
			return err
		}
		return p.events.Append(ctx, &models.EmailEvent{OutboxID: env.JobID, Type: models.EventSent})
	})
}

func (p *WorkerPipeline) finalizeFailure(ctx context.Context, env *queue.JobEnvelope, dispatchErr *taxonomy.ProviderError, duration time.Duration) error {
	code := dispatchErr.Code
	category := string(dispatchErr.Category)
	reason := dispatchErr.Error()

	txErr := dbctx.RunInCompanyTx(ctx, p.db, env.CompanyID, func(ctx context.Context) error {
		if err := p.logs.Create(ctx, &models.EmailLog{
			OutboxID: env.JobID, Attempt: env.Attempt, Status: "FAILED",
			ErrorCode: &code, ErrorCategory: &category, ErrorReason: &reason, DurationMS: duration.Milliseconds(),
		}); err != nil {
			return err
		}

		retryable := dispatchErr.Retryable() && env.Attempt < p.retryPolicy.MaxAttempts
		if retryable {
			if err := p.outbox.TransitionStatus(ctx, env.JobID, models.OutboxStatusRetrying, true); err != nil {
				return err
			}
			metrics.RetryTotal.WithLabelValues(code).Inc()
			return p.events.Append(ctx, &models.EmailEvent{
				OutboxID: env.JobID, Type: models.EventRetry,
				Metadata: map[string]any{"code": code, "attempt": env.Attempt},
			})
		}

		if err := p.outbox.TransitionStatus(ctx, env.JobID, models.OutboxStatusFailed, true); err != nil {
			return err
		}
		metrics.DLQTotal.WithLabelValues(code).Inc()
		payload, _ := json.Marshal(env)
		if err := p.dlq.Insert(ctx, &models.DLQEntry{
			JobID: env.JobID, OutboxID: env.JobID, CompanyID: env.CompanyID,
			OriginalPayload: payload, FailedAttempts: env.Attempt, LastFailureReason: reason, LastFailureCode: code,
			LastFailureAt: time.Now().UTC(), EnqueuedAt: env.EnqueuedAt,
		}); err != nil {
			return err
		}
		return p.events.Append(ctx, &models.EmailEvent{
			OutboxID: env.JobID, Type: models.EventDLQ,
			Metadata: map[string]any{"code": code},
		})
	})
	if txErr != nil {
		return txErr
	}

	retryable := dispatchErr.Retryable() && env.Attempt < p.retryPolicy.MaxAttempts
	if !retryable {
		return nil
	}

	next := *env
	next.Attempt++
	next.Priority = models.BasePriority
	delay := p.retryPolicy.ComputeDelay(next.Attempt, nil)
	return p.queue.Enqueue(ctx, next, delay, p.jobTTL)
}
