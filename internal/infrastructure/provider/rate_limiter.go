// SPDX-License-Identifier: AGPL-3.0-or-later
package provider

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter is a thin token-bucket wrapper aligned with a provider's
// published send-rate cap (e.g. SES's max-send-rate quota).
type RateLimiter struct {
	limiter *rate.Limiter
}

func NewRateLimiter(ratePerSecond float64, burst int) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}
