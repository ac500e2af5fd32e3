// SPDX-License-Identifier: AGPL-3.0-or-later

// Package retry computes the exponential-backoff-with-jitter delay used by
// the worker pipeline and drives the DLQ replay tool's abort-after-K-failures
// circuit using cenkalti/backoff/v4.
package retry

import (
	"math"
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Policy holds the tunables from §4.6; defaults match the spec exactly.
type Policy struct {
	Base         time.Duration
	Max          time.Duration
	JitterFactor float64
	MaxAttempts  int
}

func DefaultPolicy() Policy {
	return Policy{
		Base:         1 * time.Second,
		Max:          60 * time.Second,
		JitterFactor: 0.25,
		MaxAttempts:  5,
	}
}

// ComputeDelay returns the delay before attempt N (1-indexed), per
// d = min(Max, Base * 2^(N-1)), jittered by ± JitterFactor*d and never
// negative. rnd defaults to the package rand source when nil, letting
// callers inject a deterministic source in tests.
func (p Policy) ComputeDelay(attempt int, rnd *rand.Rand) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.Base) * math.Pow(2, float64(attempt-1))
	if d > float64(p.Max) {
		d = float64(p.Max)
	}
	jitter := d * p.JitterFactor
	var offset float64
	if rnd != nil {
		offset = (rnd.Float64()*2 - 1) * jitter
	} else {
		offset = (rand.Float64()*2 - 1) * jitter
	}
	delay := d + offset
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}

// Bounds returns the [min,max] the delay for attempt N must fall within,
// used by tests asserting the §8 property directly.
func (p Policy) Bounds(attempt int) (min, max time.Duration) {
	d := float64(p.Base) * math.Pow(2, float64(attempt-1))
	if d > float64(p.Max) {
		d = float64(p.Max)
	}
	jitter := d * p.JitterFactor
	lo := d - jitter
	if lo < 0 {
		lo = 0
	}
	return time.Duration(lo), time.Duration(d + jitter)
}

// ReplayBackOff builds a cenkalti/backoff constant backoff wrapped with a
// max-retries guard, used by the DLQ replay tool's small circuit breaker
// to abort after K consecutive replay failures.
func ReplayBackOff(interval time.Duration, maxRetries uint64) backoff.BackOff {
	return backoff.WithMaxRetries(backoff.NewConstantBackOff(interval), maxRetries)
}
