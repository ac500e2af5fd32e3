// SPDX-License-Identifier: AGPL-3.0-or-later
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AdmissionCounters tracks per-company minute/hour/day send counts as atomic
// increment-with-TTL counters in the queue's own backing store, per §5's
// "Admission counters ... live in the queue's backing store with atomic
// increment + TTL".
type AdmissionCounters struct {
	q *Queue
}

func NewAdmissionCounters(q *Queue) *AdmissionCounters {
	return &AdmissionCounters{q: q}
}

// Window identifies one of the three granularities a company's send rate
// is capped at (§3/§6: "rate caps (per minute/hour/day)").
type Window string

const (
	WindowMinute Window = "minute"
	WindowHour   Window = "hour"
	WindowDay    Window = "day"
)

// bucket truncates t to the start of the window, used as the counter key's
// time component so every increment within the same window hits one key.
func (w Window) bucket(t time.Time) string {
	t = t.UTC()
	switch w {
	case WindowMinute:
		return t.Format("2006-01-02T15:04")
	case WindowHour:
		return t.Format("2006-01-02T15")
	default:
		return t.Format("2006-01-02")
	}
}

// ttl bounds how long an idle counter key survives: long enough to outlast
// its own window so a crashed process can't wedge it forever, short enough
// not to accumulate stale keys.
func (w Window) ttl() time.Duration {
	switch w {
	case WindowMinute:
		return 2 * time.Minute
	case WindowHour:
		return 2 * time.Hour
	default:
		return 48 * time.Hour
	}
}

func windowKey(companyID uuid.UUID, w Window, t time.Time) string {
	return fmt.Sprintf("sendforge:admission:%s:%s:%s", w, companyID, w.bucket(t))
}

// IncrementAndCheckWindow atomically increments a company's counter for the
// given granularity and reports whether the increment pushed it over cap.
// A cap of 0 is treated as "unbounded" so companies without a configured
// minute/hour cap aren't rejected.
func (a *AdmissionCounters) IncrementAndCheckWindow(ctx context.Context, companyID uuid.UUID, w Window, cap int) (count int64, exceeded bool, err error) {
	key := windowKey(companyID, w, time.Now())
	pipe := a.q.rdb.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, w.ttl())
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, false, fmt.Errorf("increment admission counter: %w", err)
	}
	count = incr.Val()
	return count, cap > 0 && count > int64(cap), nil
}

// CurrentWindow returns a company's current counter for the given
// granularity without incrementing it.
func (a *AdmissionCounters) CurrentWindow(ctx context.Context, companyID uuid.UUID, w Window) (int64, error) {
	v, err := a.q.rdb.Get(ctx, windowKey(companyID, w, time.Now())).Int64()
	if err != nil {
		if err.Error() == "redis: nil" {
			return 0, nil
		}
		return 0, err
	}
	return v, nil
}
