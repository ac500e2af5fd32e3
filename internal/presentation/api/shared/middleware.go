// SPDX-License-Identifier: AGPL-3.0-or-later
package shared

import (
	"net/http"
	"strings"
	"sync"
	"time"
)

// SecurityHeaders adds baseline security headers for a JSON API with no
// browser-rendered surface.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none';")
		next.ServeHTTP(w, r)
	})
}

// RateLimit is a sliding-window limiter keyed by client address (the first
// X-Forwarded-For entry, else RemoteAddr). The router installs it on every
// route, authenticated or not; per-company send caps are enforced
// separately by the admission counters.
type RateLimit struct {
	attempts *sync.Map
	limit    int
	window   time.Duration
}

func NewRateLimit(limit int, window time.Duration) *RateLimit {
	return &RateLimit{attempts: &sync.Map{}, limit: limit, window: window}
}

func (rl *RateLimit) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := r.RemoteAddr
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			ip = strings.TrimSpace(strings.Split(fwd, ",")[0])
		}

		now := time.Now()
		var valid []time.Time
		if val, ok := rl.attempts.Load(ip); ok {
			for _, t := range val.([]time.Time) {
				if now.Sub(t) < rl.window {
					valid = append(valid, t)
				}
			}
		}

		if len(valid) >= rl.limit {
			WriteRateLimited(w, r, int(rl.window.Seconds()))
			return
		}

		valid = append(valid, now)
		rl.attempts.Store(ip, valid)
		next.ServeHTTP(w, r)
	})
}
