// SPDX-License-Identifier: AGPL-3.0-or-later
package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"github.com/btouchard/sendforge/internal/domain/taxonomy"
	"github.com/btouchard/sendforge/pkg/logger"
	"github.com/btouchard/sendforge/pkg/metrics"
)

// GuardedDriver wraps a Driver with a per-(provider,region) circuit breaker
// and a token-bucket rate limiter, per §4.5. While the breaker is open,
// calls fail fast with PROVIDER_CIRCUIT_OPEN without touching the network.
type GuardedDriver struct {
	Driver
	breaker *gobreaker.CircuitBreaker
	limiter *RateLimiter
}

// BreakerSettings controls when the circuit opens and how long it cools
// down before a half-open probe, per §4.5 and the §6 configuration knobs.
type BreakerSettings struct {
	OpenThreshold uint32
	Cooldown      time.Duration
}

func NewGuardedDriver(d Driver, settings BreakerSettings, limiter *RateLimiter) *GuardedDriver {
	name := fmt.Sprintf("%s/%s", d.Kind(), d.Region())
	kind, region := string(d.Kind()), d.Region()
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    name,
		Timeout: settings.Cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.OpenThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Logger.Warn("provider circuit breaker state change", "breaker", name, "from", from.String(), "to", to.String())
			metrics.CircuitBreakerState.WithLabelValues(kind, region).Set(float64(to))
		},
	})
	return &GuardedDriver{Driver: d, breaker: cb, limiter: limiter}
}

func (g *GuardedDriver) Send(ctx context.Context, env Envelope) (Result, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return Result{}, taxonomy.NewProviderError(taxonomy.CodeProviderTimeout, "rate limiter wait aborted", err)
		}
	}

	out, err := g.breaker.Execute(func() (any, error) {
		r, sendErr := g.Driver.Send(ctx, env)
		return r, sendErr
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return Result{}, taxonomy.NewProviderError(taxonomy.CodeProviderCircuitOpen, "circuit open for "+g.Driver.Name(), err)
		}
		return Result{}, err
	}
	return out.(Result), nil
}
