// SPDX-License-Identifier: AGPL-3.0-or-later
package provider

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/btouchard/sendforge/internal/domain/models"
	"github.com/btouchard/sendforge/internal/domain/taxonomy"
	"github.com/btouchard/sendforge/pkg/metrics"
)

// Registry selects a dispatch driver for a company from its
// priority-ordered, enabled ProviderConfig list, mirroring the teacher's
// storage factory's type-switch construction but keyed per-tenant instead
// of per-process.
type Registry struct {
	mu          sync.RWMutex
	drivers     map[string]Driver // key: kind+region, built once per process
	breaker     BreakerSettings
	rateLimit   RateLimitSettings
	sendTimeout time.Duration
}

// RateLimitSettings bounds the per-driver token bucket a registered driver
// dispatches through, mirroring a provider's published max-send-rate quota.
type RateLimitSettings struct {
	PerSecond float64
	Burst     int
}

func NewRegistry(breaker BreakerSettings) *Registry {
	return &Registry{drivers: make(map[string]Driver), breaker: breaker, sendTimeout: 30 * time.Second}
}

// WithRateLimit sets the per-driver token-bucket rate limit newly
// registered drivers are guarded with. Call before Register.
func (r *Registry) WithRateLimit(settings RateLimitSettings) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rateLimit = settings
	return r
}

// WithSendTimeout sets the per-call deadline DispatchWithFailover enforces
// around each driver's Send, per §4.5's dispatch timeout.
func (r *Registry) WithSendTimeout(d time.Duration) *Registry {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d > 0 {
		r.sendTimeout = d
	}
	return r
}

// Register installs a concrete driver instance (already constructed with
// its own credentials) under its Kind+Region key.
func (r *Registry) Register(d Driver) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var limiter *RateLimiter
	if r.rateLimit.PerSecond > 0 {
		limiter = NewRateLimiter(r.rateLimit.PerSecond, r.rateLimit.Burst)
	}
	r.drivers[key(d.Kind(), d.Region())] = NewGuardedDriver(d, r.breaker, limiter)
}

func key(kind models.ProviderKind, region string) string {
	return string(kind) + "/" + region
}

// Select walks a company's enabled provider configs in priority order and
// returns the first one with a registered driver.
func (r *Registry) Select(configs []models.ProviderConfig) (Driver, error) {
	enabled := make([]models.ProviderConfig, 0, len(configs))
	for _, c := range configs {
		if c.Enabled {
			enabled = append(enabled, c)
		}
	}
	sort.Slice(enabled, func(i, j int) bool { return enabled[i].Priority < enabled[j].Priority })

	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range enabled {
		if d, ok := r.drivers[key(c.Kind, c.Region)]; ok {
			return d, nil
		}
	}
	return nil, taxonomy.NewProviderError(taxonomy.CodeProviderConfig, "no enabled provider driver registered", nil)
}

// DispatchWithFailover tries the company's enabled provider list in
// priority order and returns on the first success. A VALIDATION failure
// stops the walk; any other failure, CONFIGURATION_ERROR included since
// misconfiguration is per-driver, moves on to the next provider. When every
// attempt fails the last error is returned; no alert is raised here.
func (r *Registry) DispatchWithFailover(ctx context.Context, configs []models.ProviderConfig, env Envelope) (Result, *taxonomy.ProviderError) {
	enabled := make([]models.ProviderConfig, 0, len(configs))
	for _, c := range configs {
		if c.Enabled {
			enabled = append(enabled, c)
		}
	}
	sort.Slice(enabled, func(i, j int) bool { return enabled[i].Priority < enabled[j].Priority })

	var last *taxonomy.ProviderError
	r.mu.RLock()
	sendTimeout := r.sendTimeout
	defer r.mu.RUnlock()
	for _, c := range enabled {
		d, ok := r.drivers[key(c.Kind, c.Region)]
		if !ok {
			continue
		}
		attemptStart := time.Now()
		sendCtx, cancel := context.WithTimeout(ctx, sendTimeout)
		res, err := d.Send(sendCtx, env)
		cancel()
		if errors.Is(err, context.DeadlineExceeded) {
			err = taxonomy.NewProviderError(taxonomy.CodeProviderTimeout, "provider dispatch deadline exceeded", err)
		}
		if err == nil {
			metrics.RecordDispatch(string(c.Kind), c.Region, "sent", time.Since(attemptStart))
			return res, nil
		}
		pe, ok := err.(*taxonomy.ProviderError)
		if !ok {
			pe = taxonomy.NewProviderError(taxonomy.CodeUnknownError, err.Error(), err)
		}
		metrics.RecordDispatch(string(c.Kind), c.Region, "failed", time.Since(attemptStart))
		last = pe
		if pe.Category == taxonomy.CategoryValidation {
			break
		}
	}
	if last == nil {
		last = taxonomy.NewProviderError(taxonomy.CodeProviderConfig, "no enabled provider driver registered", nil)
	}
	return Result{}, last
}
