// SPDX-License-Identifier: AGPL-3.0-or-later
package services

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/btouchard/sendforge/internal/domain/models"
	"github.com/btouchard/sendforge/internal/infrastructure/queue"
	"github.com/btouchard/sendforge/pkg/metrics"
)

// AdmissionService enforces the per-company minute/hour/day send caps
// ahead of ingestion (§3/§6). Per-second throughput is a dispatch-time
// concern, enforced by the provider driver's own rate limiter rather than
// here.
type AdmissionService struct {
	counters *queue.AdmissionCounters
}

func NewAdmissionService(counters *queue.AdmissionCounters) *AdmissionService {
	return &AdmissionService{counters: counters}
}

// CheckAndReserve atomically increments the company's minute, hour and day
// counters and rejects the request if any of them exceeds its cap. The
// windows are checked in order and the first exceeded one returns at once,
// so the windows after it are not incremented. Increments already made are
// not rolled back on a rejection or a later pipeline failure: a rejected
// send still consumed one unit of budget in each window it reached,
// matching the teacher's fail-closed posture on shared counters. The minute/hour caps
// fail RATE_LIMIT_EXCEEDED; the day cap keeps its own DAILY_CAP error since
// callers already branch on it.
func (s *AdmissionService) CheckAndReserve(ctx context.Context, companyID uuid.UUID, company *models.Company) error {
	minuteCount, minuteExceeded, err := s.counters.IncrementAndCheckWindow(ctx, companyID, queue.WindowMinute, company.RateCapPerMinute)
	if err != nil {
		return fmt.Errorf("check per-minute admission counter: %w", err)
	}
	if minuteExceeded {
		metrics.AdmissionRejectionsTotal.WithLabelValues("minute").Inc()
		return fmt.Errorf("%w: %d/%d this minute", models.ErrRateLimited, minuteCount, company.RateCapPerMinute)
	}

	hourCount, hourExceeded, err := s.counters.IncrementAndCheckWindow(ctx, companyID, queue.WindowHour, company.RateCapPerHour)
	if err != nil {
		return fmt.Errorf("check per-hour admission counter: %w", err)
	}
	if hourExceeded {
		metrics.AdmissionRejectionsTotal.WithLabelValues("hour").Inc()
		return fmt.Errorf("%w: %d/%d this hour", models.ErrRateLimited, hourCount, company.RateCapPerHour)
	}

	dayCount, dayExceeded, err := s.counters.IncrementAndCheckWindow(ctx, companyID, queue.WindowDay, company.DailySendCap)
	if err != nil {
		return fmt.Errorf("check daily admission counter: %w", err)
	}
	if dayExceeded {
		metrics.AdmissionRejectionsTotal.WithLabelValues("day").Inc()
		return fmt.Errorf("%w: %d/%d today", models.ErrDailyCapExceeded, dayCount, company.DailySendCap)
	}
	return nil
}

// CurrentUsage reports today's send count for a company without reserving
// a new slot, used by status/quota endpoints.
func (s *AdmissionService) CurrentUsage(ctx context.Context, companyID uuid.UUID) (int64, error) {
	return s.counters.CurrentWindow(ctx, companyID, queue.WindowDay)
}

// CheckOnly re-verifies the minute/hour/day caps without incrementing any
// counter, used by the worker's dispatch-time admission re-check (§4.4
// step 3) so a job claimed from the queue doesn't consume a second unit of
// budget on top of what ingestion already reserved.
func (s *AdmissionService) CheckOnly(ctx context.Context, companyID uuid.UUID, company *models.Company) error {
	minuteCount, err := s.counters.CurrentWindow(ctx, companyID, queue.WindowMinute)
	if err != nil {
		return fmt.Errorf("check per-minute admission counter: %w", err)
	}
	if company.RateCapPerMinute > 0 && minuteCount > int64(company.RateCapPerMinute) {
		return fmt.Errorf("%w: %d/%d this minute", models.ErrRateLimited, minuteCount, company.RateCapPerMinute)
	}

	hourCount, err := s.counters.CurrentWindow(ctx, companyID, queue.WindowHour)
	if err != nil {
		return fmt.Errorf("check per-hour admission counter: %w", err)
	}
	if company.RateCapPerHour > 0 && hourCount > int64(company.RateCapPerHour) {
		return fmt.Errorf("%w: %d/%d this hour", models.ErrRateLimited, hourCount, company.RateCapPerHour)
	}

	dayCount, err := s.counters.CurrentWindow(ctx, companyID, queue.WindowDay)
	if err != nil {
		return fmt.Errorf("check daily admission counter: %w", err)
	}
	if company.DailySendCap > 0 && dayCount > int64(company.DailySendCap) {
		return fmt.Errorf("%w: %d/%d today", models.ErrDailyCapExceeded, dayCount, company.DailySendCap)
	}
	return nil
}
