// SPDX-License-Identifier: AGPL-3.0-or-later
package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/btouchard/sendforge/internal/domain/models"
	"github.com/btouchard/sendforge/internal/infrastructure/queue"
)

// FairnessRepository persists the tenant fairness record across worker
// restarts; an in-memory implementation is sufficient for a single
// process, a Redis-backed one for a cluster.
type FairnessRepository interface {
	Get(ctx context.Context, companyID uuid.UUID) (models.TenantFairness, error)
	Save(ctx context.Context, f models.TenantFairness) error
}

// FairnessScheduler implements the round-robin-by-tenant policy from §4.3:
// at most MaxJobsPerTenantBatch consecutive jobs from one company before
// yielding, with starved tenants promoted to a more urgent priority.
type FairnessScheduler struct {
	queue       *queue.Queue
	repo        FairnessRepository
	maxBatch    int
	mu          sync.Mutex
	lastCompany uuid.UUID
	batchCount  int
}

func NewFairnessScheduler(q *queue.Queue, repo FairnessRepository, maxBatch int) *FairnessScheduler {
	return &FairnessScheduler{queue: q, repo: repo, maxBatch: maxBatch}
}

// ClaimNext picks the next eligible company (skipping one that has already
// consumed its batch this round, unless no other company has work) and
// claims its oldest, most urgent job.
func (s *FairnessScheduler) ClaimNext(ctx context.Context) (*queue.JobEnvelope, error) {
	companies, err := s.queue.ActiveCompanies(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active companies: %w", err)
	}
	if len(companies) == 0 {
		return nil, nil
	}

	s.mu.Lock()
	skip := uuid.Nil
	if s.lastCompany != uuid.Nil && s.batchCount >= s.maxBatch && len(companies) > 1 {
		skip = s.lastCompany
	}
	s.mu.Unlock()

	ordered := reorderStartFrom(companies, skip)
	for _, companyID := range ordered {
		if companyID == skip {
			continue
		}
		env, err := s.queue.ClaimNext(ctx, companyID)
		if err != nil {
			return nil, err
		}
		if env == nil {
			continue
		}

		s.mu.Lock()
		if s.lastCompany == companyID {
			s.batchCount++
		} else {
			s.lastCompany = companyID
			s.batchCount = 1
		}
		s.mu.Unlock()

		if err := s.onProcessed(ctx, companyID); err != nil {
			return env, err
		}
		return env, nil
	}

	// Every company was the skip target or empty; fall back without the skip.
	if skip != uuid.Nil {
		env, err := s.queue.ClaimNext(ctx, skip)
		if err != nil || env == nil {
			return env, err
		}
		s.mu.Lock()
		s.lastCompany = skip
		s.batchCount = 1
		s.mu.Unlock()
		return env, s.onProcessed(ctx, skip)
	}

	return nil, nil
}

func reorderStartFrom(companies []uuid.UUID, skip uuid.UUID) []uuid.UUID {
	if skip == uuid.Nil {
		return companies
	}
	out := make([]uuid.UUID, 0, len(companies))
	for _, c := range companies {
		if c != skip {
			out = append(out, c)
		}
	}
	return out
}

// onProcessed resets the fairness record for a company that was just
// given a processing slot: rounds-without-processing and batch count
// reset, per §4.3.
func (s *FairnessScheduler) onProcessed(ctx context.Context, companyID uuid.UUID) error {
	f, err := s.repo.Get(ctx, companyID)
	if err != nil {
		f = models.TenantFairness{CompanyID: companyID, CurrentPriority: models.BasePriority}
	}
	f.RoundsWithoutProcessing = 0
	f.ConsecutiveBatchCount = 0
	f.TotalProcessed++
	f.CurrentPriority = models.BasePriority
	return s.repo.Save(ctx, f)
}

// Tick increments rounds-without-processing for every company that did
// NOT get a slot this round and recomputes its next-enqueue priority;
// called once per scheduling round from the worker's main loop.
func (s *FairnessScheduler) Tick(ctx context.Context, processedThisRound map[uuid.UUID]bool, allKnown []uuid.UUID) error {
	for _, companyID := range allKnown {
		if processedThisRound[companyID] {
			continue
		}
		f, err := s.repo.Get(ctx, companyID)
		if err != nil {
			f = models.TenantFairness{CompanyID: companyID, CurrentPriority: models.BasePriority}
		}
		f.RoundsWithoutProcessing++
		f.CurrentPriority = models.NextPriority(f.RoundsWithoutProcessing)
		if err := s.repo.Save(ctx, f); err != nil {
			return err
		}
	}
	return nil
}
