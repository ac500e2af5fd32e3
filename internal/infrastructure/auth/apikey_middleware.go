// SPDX-License-Identifier: AGPL-3.0-or-later
package auth

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net"
	"net/http"
	"strings"

	"github.com/btouchard/sendforge/internal/domain/models"
	"github.com/btouchard/sendforge/internal/infrastructure/tenant"
	"github.com/btouchard/sendforge/internal/presentation/api/shared"
)

// CompanyLookup resolves the company owning a hashed API key; implemented
// by the company repository.
type CompanyLookup func(r *http.Request, hash string) (*models.Company, error)

// HashAPIKey hashes a raw API key with SHA-256 for constant-time lookup
// and storage; the pepper is a deployment-wide secret, never persisted.
func HashAPIKey(rawKey, pepper string) string {
	sum := sha256.Sum256([]byte(rawKey + pepper))
	return hex.EncodeToString(sum[:])
}

// APIKeyMiddleware authenticates X-API-Key, enforces the company's CIDR
// allow-list, rejects a suspended company, and attaches the resolved
// company ID to the request context for the RLS middleware downstream.
func APIKeyMiddleware(lookup CompanyLookup, pepper string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawKey := r.Header.Get("X-API-Key")
			if rawKey == "" {
				shared.WriteUnauthorized(w, r, "missing X-API-Key header")
				return
			}

			hash := HashAPIKey(rawKey, pepper)
			company, err := lookup(r, hash)
			if err != nil || company == nil {
				shared.WriteUnauthorized(w, r, "invalid API key")
				return
			}
			if !constantTimeEqual(company.APIKeyHash, hash) {
				shared.WriteUnauthorized(w, r, "invalid API key")
				return
			}

			if !company.IsActive() {
				shared.WriteForbidden(w, r, "company suspended")
				return
			}

			if len(company.AllowedCIDRs) > 0 && !ipAllowed(clientIP(r), company.AllowedCIDRs) {
				shared.WriteForbidden(w, r, "source IP not allow-listed")
				return
			}

			ctx := tenant.WithCompany(r.Context(), company.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func constantTimeEqual(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}

func ipAllowed(ip string, cidrs []string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	for _, c := range cidrs {
		_, network, err := net.ParseCIDR(c)
		if err != nil {
			continue
		}
		if network.Contains(parsed) {
			return true
		}
	}
	return false
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
