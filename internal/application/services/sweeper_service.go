// SPDX-License-Identifier: AGPL-3.0-or-later
package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/btouchard/sendforge/internal/domain/models"
	"github.com/btouchard/sendforge/internal/infrastructure/queue"
	"github.com/btouchard/sendforge/pkg/logger"
)

type sweeperOutboxStore interface {
	ListStuckPending(ctx context.Context, olderThan time.Time, limit int) ([]*models.Outbox, error)
	ListStuckProcessing(ctx context.Context, olderThan time.Time, limit int) ([]*models.Outbox, error)
	TransitionStatus(ctx context.Context, id uuid.UUID, to models.OutboxStatus, incrementAttempt bool) error
	PseudonymizeOlderThan(ctx context.Context, olderThan time.Time, batchSize int) (int64, error)
	DeleteOlderThan(ctx context.Context, olderThan time.Time, batchSize int) (int64, error)
}

type deleteOlderThanStore interface {
	DeleteOlderThan(ctx context.Context, olderThan time.Time, batchSize int) (int64, error)
}

type idempotencySweepStore interface {
	DeleteExpired(ctx context.Context, batchSize int) (int64, error)
}

// SweeperConfig holds the §4.2 retention horizons and hard limits, and the
// grace period before a PENDING row is considered stuck. All are
// configurable per the operational knobs spec.md names; the constructor's
// defaults satisfy spec.md's stated minimums.
type SweeperConfig struct {
	PendingGrace       time.Duration
	ProcessingGrace    time.Duration
	LogRetention       time.Duration
	EventRetention     time.Duration
	OutboxRetention    time.Duration
	OutboxHardLimit    time.Duration
	BatchSize          int
	JobTTL             time.Duration
}

func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{
		PendingGrace:    5 * time.Minute,
		ProcessingGrace: 60 * time.Second,
		LogRetention:    90 * 24 * time.Hour,
		EventRetention:  90 * 24 * time.Hour,
		OutboxRetention: 180 * 24 * time.Hour,
		OutboxHardLimit: 365 * 24 * time.Hour,
		BatchSize:       500,
		JobTTL:          24 * time.Hour,
	}
}

// SweeperService is the retention/recovery background loop run from its own
// entrypoint: it retries enqueue for outbox rows stuck PENDING past a grace
// period, pseudonymizes PII past the retention horizon, and hard-deletes
// rows past the hard limit.
type SweeperService struct {
	outbox      sweeperOutboxStore
	logs        deleteOlderThanStore
	events      deleteOlderThanStore
	idempotency idempotencySweepStore
	queue       *queue.Queue
	cfg         SweeperConfig
}

func NewSweeperService(outbox sweeperOutboxStore, logs, events deleteOlderThanStore, idempotency idempotencySweepStore, q *queue.Queue, cfg SweeperConfig) *SweeperService {
	return &SweeperService{outbox: outbox, logs: logs, events: events, idempotency: idempotency, queue: q, cfg: cfg}
}

// RunOnce performs one full sweep pass, logging counts for operator
// visibility; intended to be called on a ticker from cmd/sweeper.
func (s *SweeperService) RunOnce(ctx context.Context) error {
	now := time.Now().UTC()

	if err := s.recoverStuckPending(ctx, now); err != nil {
		return err
	}
	if err := s.recoverStuckProcessing(ctx, now); err != nil {
		return err
	}

	pseudonymized, err := s.outbox.PseudonymizeOlderThan(ctx, now.Add(-s.cfg.OutboxRetention), s.cfg.BatchSize)
	if err != nil {
		return err
	}
	if pseudonymized > 0 {
		logger.Logger.Info("sweeper: pseudonymized outbox rows", "count", pseudonymized)
	}

	deletedOutbox, err := s.outbox.DeleteOlderThan(ctx, now.Add(-s.cfg.OutboxHardLimit), s.cfg.BatchSize)
	if err != nil {
		return err
	}
	deletedLogs, err := s.logs.DeleteOlderThan(ctx, now.Add(-s.cfg.LogRetention), s.cfg.BatchSize)
	if err != nil {
		return err
	}
	deletedEvents, err := s.events.DeleteOlderThan(ctx, now.Add(-s.cfg.EventRetention), s.cfg.BatchSize)
	if err != nil {
		return err
	}
	deletedKeys, err := s.idempotency.DeleteExpired(ctx, s.cfg.BatchSize)
	if err != nil {
		return err
	}

	if deletedOutbox+deletedLogs+deletedEvents+deletedKeys > 0 {
		logger.Logger.Info("sweeper: hard-deleted expired rows",
			"outbox", deletedOutbox, "logs", deletedLogs, "events", deletedEvents, "idempotency_keys", deletedKeys)
	}
	return nil
}

// recoverStuckPending re-enqueues rows whose write-order step 3 (publish to
// the queue) never landed after step 1 (outbox insert) succeeded.
func (s *SweeperService) recoverStuckPending(ctx context.Context, now time.Time) error {
	stuck, err := s.outbox.ListStuckPending(ctx, now.Add(-s.cfg.PendingGrace), s.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, o := range stuck {
		env := queue.JobEnvelope{
			JobID: o.ID, CompanyID: o.CompanyID, RequestID: o.RequestID,
			From: o.From, To: o.To, Cc: o.Cc, Bcc: o.Bcc, Subject: o.Subject, HTMLRef: o.HTMLRef,
			ReplyTo: o.ReplyTo, Headers: o.Headers, Tags: o.Tags, RecipientID: o.RecipientID,
			Attempt: o.Attempts + 1, Priority: models.BasePriority, EnqueuedAt: now,
		}
		if err := s.queue.Enqueue(ctx, env, 0, s.cfg.JobTTL); err != nil {
			logger.Logger.Error("sweeper: failed to recover stuck pending outbox row", "outbox_id", o.ID, "error", err.Error())
			continue
		}
		logger.Logger.Info("sweeper: recovered stuck pending outbox row", "outbox_id", o.ID)
	}
	return nil
}

// recoverStuckProcessing reclaims rows left in PROCESSING past the §4.4
// claim lease: a worker crashed (or was killed) between claiming the job
// and finalizing it, so the CAS claim that moved PENDING/ENQUEUED ->
// PROCESSING never made further progress. These are pushed through the
// same PROCESSING -> RETRYING transition a dispatch failure would take,
// then re-enqueued for another worker to pick up.
func (s *SweeperService) recoverStuckProcessing(ctx context.Context, now time.Time) error {
	stuck, err := s.outbox.ListStuckProcessing(ctx, now.Add(-s.cfg.ProcessingGrace), s.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, o := range stuck {
		if err := s.outbox.TransitionStatus(ctx, o.ID, models.OutboxStatusRetrying, true); err != nil {
			logger.Logger.Error("sweeper: failed to transition stuck processing outbox row", "outbox_id", o.ID, "error", err.Error())
			continue
		}
		env := queue.JobEnvelope{
			JobID: o.ID, CompanyID: o.CompanyID, RequestID: o.RequestID,
			From: o.From, To: o.To, Cc: o.Cc, Bcc: o.Bcc, Subject: o.Subject, HTMLRef: o.HTMLRef,
			ReplyTo: o.ReplyTo, Headers: o.Headers, Tags: o.Tags, RecipientID: o.RecipientID,
			Attempt: o.Attempts + 1, Priority: models.BasePriority, EnqueuedAt: now,
		}
		if err := s.queue.Enqueue(ctx, env, 0, s.cfg.JobTTL); err != nil {
			logger.Logger.Error("sweeper: failed to recover stuck processing outbox row", "outbox_id", o.ID, "error", err.Error())
			continue
		}
		logger.Logger.Info("sweeper: recovered stuck processing outbox row", "outbox_id", o.ID)
	}
	return nil
}
