// SPDX-License-Identifier: AGPL-3.0-or-later
package email

import (
	"net/http"
	"strings"
)

const operatorIDHeader = "X-Operator-Id"

// maskEmail reduces an address to its first character and domain, e.g.
// "alice@example.com" -> "a***@example.com". Outside break-glass, this is
// the only form of a recipient address that ever leaves the API.
func maskEmail(addr string) string {
	at := strings.IndexByte(addr, '@')
	if at <= 0 {
		return "***"
	}
	return addr[:1] + "***" + addr[at:]
}

// unmaskContext carries what's needed to decide whether a request may see
// unmasked PII and, if so, who to credit the access to in the audit log.
type unmaskContext struct {
	allowed    bool
	operatorID string
	reason     string
}

func (h *Handler) resolveUnmask(r *http.Request) unmaskContext {
	if h.sessions == nil {
		return unmaskContext{}
	}
	operatorID := r.Header.Get(operatorIDHeader)
	if operatorID == "" {
		return unmaskContext{}
	}
	session := h.sessions.Current(r, operatorID)
	if !session.CanUnmaskPII() {
		return unmaskContext{}
	}
	return unmaskContext{allowed: true, operatorID: operatorID, reason: session.Justification}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		return strings.TrimSpace(strings.Split(fwd, ",")[0])
	}
	return r.RemoteAddr
}
