// SPDX-License-Identifier: AGPL-3.0-or-later
package retry

import (
	"math/rand"
	"testing"
	"time"
)

func TestComputeDelayWithinBounds(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	rnd := rand.New(rand.NewSource(1))

	for attempt := 1; attempt <= p.MaxAttempts+2; attempt++ {
		lo, hi := p.Bounds(attempt)
		for i := 0; i < 50; i++ {
			d := p.ComputeDelay(attempt, rnd)
			if d < lo || d > hi {
				t.Fatalf("attempt %d: delay %v outside bounds [%v, %v]", attempt, d, lo, hi)
			}
		}
	}
}

func TestComputeDelayCapsAtMax(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	rnd := rand.New(rand.NewSource(2))

	d := p.ComputeDelay(20, rnd)
	lo, hi := p.Bounds(20)
	if hi != p.Max+time.Duration(float64(p.Max)*p.JitterFactor) {
		t.Fatalf("expected Bounds(20) hi to reflect the capped max, got %v", hi)
	}
	if d < lo || d > hi {
		t.Fatalf("delay %v outside capped bounds [%v, %v]", d, lo, hi)
	}
}

func TestComputeDelayNeverNegative(t *testing.T) {
	t.Parallel()

	p := Policy{Base: 10 * time.Millisecond, Max: 20 * time.Millisecond, JitterFactor: 1.0, MaxAttempts: 3}
	rnd := rand.New(rand.NewSource(3))

	for i := 0; i < 200; i++ {
		if d := p.ComputeDelay(1, rnd); d < 0 {
			t.Fatalf("got negative delay %v", d)
		}
	}
}

func TestComputeDelayBelowOneClampsToFirstAttempt(t *testing.T) {
	t.Parallel()

	p := DefaultPolicy()
	rnd := rand.New(rand.NewSource(4))

	lo, hi := p.Bounds(1)
	d := p.ComputeDelay(0, rnd)
	if d < lo || d > hi {
		t.Fatalf("attempt 0 should clamp to attempt 1 bounds [%v, %v], got %v", lo, hi, d)
	}
}

func TestReplayBackOffRespectsMaxRetries(t *testing.T) {
	t.Parallel()

	b := ReplayBackOff(time.Millisecond, 3)
	for i := 0; i < 3; i++ {
		if d := b.NextBackOff(); d < 0 {
			t.Fatalf("attempt %d: expected a non-negative interval, got %v", i, d)
		}
	}
	// The 4th call must signal the caller to stop retrying.
	if d := b.NextBackOff(); d >= 0 {
		t.Fatalf("expected Stop sentinel after exhausting max retries, got %v", d)
	}
}
