// SPDX-License-Identifier: AGPL-3.0-or-later
package services

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/btouchard/sendforge/internal/domain/models"
	"github.com/btouchard/sendforge/internal/infrastructure/queue"
	"github.com/btouchard/sendforge/internal/infrastructure/retry"
	"github.com/btouchard/sendforge/pkg/logger"
)

type replayOutboxStore interface {
	Requeue(ctx context.Context, id uuid.UUID) error
}

type replayDLQStore interface {
	ListByCompany(ctx context.Context, companyID uuid.UUID, limit int) ([]*models.DLQEntry, error)
	Delete(ctx context.Context, jobID uuid.UUID) error
}

// ReplayService drives the cmd/replay operator tool: it reopens DLQ entries
// as fresh ENQUEUED outbox rows and re-enqueues their original envelope,
// aborting early once consecutive replay failures trip the small backoff
// circuit so a systemic outage doesn't burn through an entire DLQ page.
type ReplayService struct {
	outbox replayOutboxStore
	dlq    replayDLQStore
	queue  *queue.Queue
	jobTTL time.Duration
}

func NewReplayService(outbox replayOutboxStore, dlq replayDLQStore, q *queue.Queue, jobTTL time.Duration) *ReplayService {
	if jobTTL == 0 {
		jobTTL = 24 * time.Hour
	}
	return &ReplayService{outbox: outbox, dlq: dlq, queue: q, jobTTL: jobTTL}
}

// ReplayResult summarizes one replay run for the operator CLI's output.
type ReplayResult struct {
	Replayed int
	Failed   int
	Aborted  bool
}

// ReplayCompany requeues up to limit DLQ entries for one company, stopping
// after maxConsecutiveFailures failures in a row.
func (s *ReplayService) ReplayCompany(ctx context.Context, companyID uuid.UUID, limit int, maxConsecutiveFailures uint64) (ReplayResult, error) {
	entries, err := s.dlq.ListByCompany(ctx, companyID, limit)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("list dlq entries for replay: %w", err)
	}

	result := ReplayResult{}
	bo := retry.ReplayBackOff(2*time.Second, maxConsecutiveFailures)
	var consecutiveFailures uint64

	for _, e := range entries {
		if err := s.replayOne(ctx, e); err != nil {
			logger.Logger.Error("replay: entry failed", "job_id", e.JobID, "error", err.Error())
			result.Failed++
			consecutiveFailures++

			next := bo.NextBackOff()
			if next == backoff.Stop || consecutiveFailures >= maxConsecutiveFailures {
				result.Aborted = true
				logger.Logger.Error("replay: aborting after consecutive failures", "company_id", companyID, "failures", consecutiveFailures)
				break
			}
			select {
			case <-time.After(next):
			case <-ctx.Done():
				return result, ctx.Err()
			}
			continue
		}

		bo.Reset()
		consecutiveFailures = 0
		result.Replayed++
	}
	return result, nil
}

func (s *ReplayService) replayOne(ctx context.Context, e *models.DLQEntry) error {
	env, err := s.queue.GetEnvelope(ctx, e.JobID)
	if err != nil {
		return fmt.Errorf("recover job envelope: %w", err)
	}

	env.Attempt = 1
	env.Priority = models.BasePriority
	env.EnqueuedAt = time.Now().UTC()

	if err := s.outbox.Requeue(ctx, e.OutboxID); err != nil {
		return fmt.Errorf("reopen outbox entry: %w", err)
	}
	if err := s.queue.Enqueue(ctx, *env, 0, s.jobTTL); err != nil {
		return fmt.Errorf("re-enqueue job: %w", err)
	}
	if err := s.dlq.Delete(ctx, e.JobID); err != nil {
		return fmt.Errorf("delete dlq entry: %w", err)
	}
	return nil
}
