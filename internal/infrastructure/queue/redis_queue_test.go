// SPDX-License-Identifier: AGPL-3.0-or-later
package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/btouchard/sendforge/internal/domain/models"
)

func newTestQueue(t *testing.T) *Queue {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb, "test")
}

func TestEnqueueAndClaimNext(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	companyID := uuid.New()
	env := JobEnvelope{
		JobID: uuid.New(), CompanyID: companyID, To: "a@example.com",
		Priority: models.BasePriority, EnqueuedAt: time.Now(),
	}

	require.NoError(t, q.Enqueue(ctx, env, 0, time.Hour))

	companies, err := q.ActiveCompanies(ctx)
	require.NoError(t, err)
	require.Contains(t, companies, companyID)

	claimed, err := q.ClaimNext(ctx, companyID)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	require.Equal(t, env.JobID, claimed.JobID)

	// Queue now empty: claiming again returns nil, and the company drops
	// out of the active set.
	claimed2, err := q.ClaimNext(ctx, companyID)
	require.NoError(t, err)
	require.Nil(t, claimed2)

	companies, err = q.ActiveCompanies(ctx)
	require.NoError(t, err)
	require.NotContains(t, companies, companyID)
}

func TestClaimNextOrdersByPriorityThenInsertion(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	companyID := uuid.New()
	low := JobEnvelope{JobID: uuid.New(), CompanyID: companyID, Priority: 10, EnqueuedAt: time.Now()}
	high := JobEnvelope{JobID: uuid.New(), CompanyID: companyID, Priority: 1, EnqueuedAt: time.Now().Add(time.Second)}

	require.NoError(t, q.Enqueue(ctx, low, 0, time.Hour))
	require.NoError(t, q.Enqueue(ctx, high, 0, time.Hour))

	first, err := q.ClaimNext(ctx, companyID)
	require.NoError(t, err)
	require.NotNil(t, first)
	require.Equal(t, high.JobID, first.JobID, "lower priority value (more urgent) must be claimed first")

	second, err := q.ClaimNext(ctx, companyID)
	require.NoError(t, err)
	require.NotNil(t, second)
	require.Equal(t, low.JobID, second.JobID)
}

func TestClaimNextEmptyCompanyReturnsNil(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	env, err := q.ClaimNext(ctx, uuid.New())
	require.NoError(t, err)
	require.Nil(t, env)
}

func TestPromoteDueDelayedIgnoresReadyJobs(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	companyID := uuid.New()
	env := JobEnvelope{JobID: uuid.New(), CompanyID: companyID, Priority: models.BasePriority, EnqueuedAt: time.Now()}

	require.NoError(t, q.Enqueue(ctx, env, 0, time.Hour))
	// This job was enqueued ready, not delayed; promote should be a no-op.
	promoted, expired, err := q.PromoteDueDelayed(ctx)
	require.NoError(t, err)
	require.Empty(t, promoted)
	require.Empty(t, expired)

	claimed, err := q.ClaimNext(ctx, companyID)
	require.NoError(t, err)
	require.NotNil(t, claimed)
}

func TestGetEnvelopeRoundTrips(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	env := JobEnvelope{JobID: uuid.New(), CompanyID: uuid.New(), To: "b@example.com", Priority: 5, EnqueuedAt: time.Now()}
	require.NoError(t, q.Enqueue(ctx, env, 0, time.Hour))

	got, err := q.GetEnvelope(ctx, env.JobID)
	require.NoError(t, err)
	require.Equal(t, env.JobID, got.JobID)
	require.Equal(t, env.To, got.To)
}

func TestDepthCountsReadyAcrossCompanies(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t)

	a, b := uuid.New(), uuid.New()
	require.NoError(t, q.Enqueue(ctx, JobEnvelope{JobID: uuid.New(), CompanyID: a, Priority: 5, EnqueuedAt: time.Now()}, 0, time.Hour))
	require.NoError(t, q.Enqueue(ctx, JobEnvelope{JobID: uuid.New(), CompanyID: b, Priority: 5, EnqueuedAt: time.Now()}, 0, time.Hour))
	require.NoError(t, q.Enqueue(ctx, JobEnvelope{JobID: uuid.New(), CompanyID: b, Priority: 5, EnqueuedAt: time.Now()}, time.Minute, time.Hour))

	ready, delayed, err := q.Depth(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), ready)
	require.Equal(t, int64(1), delayed)
}
