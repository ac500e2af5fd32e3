// SPDX-License-Identifier: AGPL-3.0-or-later
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/btouchard/sendforge/pkg/logger"
)

// Queue is the durable, at-least-once job queue backed by Redis. Per-tenant
// fairness lives one layer up (application/services.FairnessScheduler);
// this type exposes the storage primitives it's built from: a ready
// sorted-set per company, a shared delayed set, and a rotation set of
// companies with outstanding work.
type Queue struct {
	rdb  *redis.Client
	name string
}

func New(rdb *redis.Client, name string) *Queue {
	return &Queue{rdb: rdb, name: name}
}

func (q *Queue) readyKey(companyID uuid.UUID) string {
	return fmt.Sprintf("sendforge:%s:ready:%s", q.name, companyID)
}

func (q *Queue) delayedKey() string {
	return fmt.Sprintf("sendforge:%s:delayed", q.name)
}

func (q *Queue) companiesKey() string {
	return fmt.Sprintf("sendforge:%s:companies", q.name)
}

func (q *Queue) jobKey(jobID uuid.UUID) string {
	return fmt.Sprintf("sendforge:%s:job:%s", q.name, jobID)
}

// score orders within a company's ready set by priority first (lower value
// = more urgent, tried first), then insertion order, so fairness promotion
// (lowering priority) actually changes delivery order.
func score(priority int, enqueuedAt time.Time) float64 {
	return float64(priority)*1e13 + float64(enqueuedAt.UnixNano())/1e6
}

// Enqueue durably stores the envelope and, when delay is zero, makes it
// immediately visible in its company's ready set; a positive delay instead
// schedules it in the shared delayed set for later promotion. ttl sets the
// job's deadline: PromoteDueDelayed reports a delayed job found past it as
// expired, and the stored payload itself expires a minute after ttl+delay,
// after which ClaimNext skips the job.
func (q *Queue) Enqueue(ctx context.Context, env JobEnvelope, delay, ttl time.Duration) error {
	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal job envelope: %w", err)
	}

	deadline := time.Now().Add(ttl)
	pipe := q.rdb.TxPipeline()
	pipe.Set(ctx, q.jobKey(env.JobID), payload, ttl+delay+time.Minute)
	pipe.Set(ctx, q.jobKey(env.JobID)+":deadline", deadline.Unix(), ttl+delay+time.Minute)

	if delay > 0 {
		readyAt := time.Now().Add(delay)
		pipe.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(readyAt.Unix()), Member: env.JobID.String()})
	} else {
		pipe.ZAdd(ctx, q.readyKey(env.CompanyID), redis.Z{Score: score(env.Priority, env.EnqueuedAt), Member: env.JobID.String()})
		pipe.SAdd(ctx, q.companiesKey(), env.CompanyID.String())
	}

	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("enqueue job: %w", err)
	}
	return nil
}

// ActiveCompanies returns the set of companies with at least one job
// currently visible in a ready set.
func (q *Queue) ActiveCompanies(ctx context.Context) ([]uuid.UUID, error) {
	members, err := q.rdb.SMembers(ctx, q.companiesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list active companies: %w", err)
	}
	out := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		id, err := uuid.Parse(m)
		if err != nil {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

// ClaimNext pops the most urgent, oldest job from a company's ready set.
// Returns (nil, nil) when the set is empty.
func (q *Queue) ClaimNext(ctx context.Context, companyID uuid.UUID) (*JobEnvelope, error) {
	results, err := q.rdb.ZPopMin(ctx, q.readyKey(companyID), 1).Result()
	if err != nil {
		return nil, fmt.Errorf("claim next job: %w", err)
	}
	if len(results) == 0 {
		q.rdb.SRem(ctx, q.companiesKey(), companyID.String())
		return nil, nil
	}

	jobID, ok := results[0].Member.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected job member type")
	}
	raw, err := q.rdb.Get(ctx, fmt.Sprintf("sendforge:%s:job:%s", q.name, jobID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			// Job payload expired before being claimed; treat as gone.
			return nil, nil
		}
		return nil, fmt.Errorf("load claimed job payload: %w", err)
	}

	var env JobEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("unmarshal job envelope: %w", err)
	}

	remaining, err := q.rdb.ZCard(ctx, q.readyKey(companyID)).Result()
	if err == nil && remaining == 0 {
		q.rdb.SRem(ctx, q.companiesKey(), companyID.String())
	}

	return &env, nil
}

// PromoteDueDelayed moves delayed jobs whose ready time has passed back
// into their company's ready set, or reports them as TTL-expired when
// their deadline has already elapsed. cmd/worker calls it once a second.
func (q *Queue) PromoteDueDelayed(ctx context.Context) (promoted []uuid.UUID, expired []uuid.UUID, err error) {
	now := time.Now()
	due, err := q.rdb.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%d", now.Unix()),
	}).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("scan due delayed jobs: %w", err)
	}

	for _, jobIDStr := range due {
		jobID, parseErr := uuid.Parse(jobIDStr)
		if parseErr != nil {
			q.rdb.ZRem(ctx, q.delayedKey(), jobIDStr)
			continue
		}

		deadlineStr, derr := q.rdb.Get(ctx, q.jobKey(jobID)+":deadline").Result()
		if derr == nil {
			if deadlineUnix, perr := parseUnix(deadlineStr); perr == nil && now.After(time.Unix(deadlineUnix, 0)) {
				expired = append(expired, jobID)
				q.rdb.ZRem(ctx, q.delayedKey(), jobIDStr)
				continue
			}
		}

		raw, gerr := q.rdb.Get(ctx, q.jobKey(jobID)).Bytes()
		if gerr != nil {
			q.rdb.ZRem(ctx, q.delayedKey(), jobIDStr)
			continue
		}
		var env JobEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			q.rdb.ZRem(ctx, q.delayedKey(), jobIDStr)
			continue
		}

		pipe := q.rdb.TxPipeline()
		pipe.ZRem(ctx, q.delayedKey(), jobIDStr)
		pipe.ZAdd(ctx, q.readyKey(env.CompanyID), redis.Z{Score: score(env.Priority, now), Member: jobIDStr})
		pipe.SAdd(ctx, q.companiesKey(), env.CompanyID.String())
		if _, err := pipe.Exec(ctx); err != nil {
			logger.Logger.Error("failed to promote delayed job", "job_id", jobID, "error", err)
			continue
		}
		promoted = append(promoted, jobID)
	}

	return promoted, expired, nil
}

// GetEnvelope fetches a job's stored envelope by id, used by the replay
// tool and DLQ promotion path to recover the original payload.
func (q *Queue) GetEnvelope(ctx context.Context, jobID uuid.UUID) (*JobEnvelope, error) {
	raw, err := q.rdb.Get(ctx, q.jobKey(jobID)).Bytes()
	if err != nil {
		return nil, err
	}
	var env JobEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	return &env, nil
}

// Depth reports the ready and delayed components of the queue-depth gauge
// (§4.8). Waiting and prioritized jobs share one score-ordered ready set,
// so ready counts both; jobs already claimed by a worker are not counted.
func (q *Queue) Depth(ctx context.Context) (ready int64, delayed int64, err error) {
	companies, err := q.ActiveCompanies(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, c := range companies {
		n, err := q.rdb.ZCard(ctx, q.readyKey(c)).Result()
		if err != nil {
			return 0, 0, err
		}
		ready += n
	}
	delayed, err = q.rdb.ZCard(ctx, q.delayedKey()).Result()
	return ready, delayed, err
}

func parseUnix(s string) (int64, error) {
	var v int64
	_, err := fmt.Sscanf(s, "%d", &v)
	return v, err
}
