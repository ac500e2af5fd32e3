// SPDX-License-Identifier: AGPL-3.0-or-later

// Package auth implements X-API-Key company authentication and the
// break-glass operator session used to unmask PII per §4.8.
package auth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/sessions"

	"github.com/btouchard/sendforge/internal/domain/models"
	"github.com/btouchard/sendforge/pkg/logger"
)

const breakGlassSessionName = "sendforge_breakglass"

const (
	ProfileOperations = "operations"
	ProfileAudit      = "audit"

	MinJustificationLen = 20
	MaxSessionAge       = 60 * time.Minute
)

// BreakGlassSession is what's stored, encrypted, in the operator's cookie.
type BreakGlassSession struct {
	OperatorID    string    `json:"operator_id"`
	Profile       string    `json:"profile"`
	Justification string    `json:"justification"`
	IssuedAt      time.Time `json:"issued_at"`
}

func (s *BreakGlassSession) Expired() bool {
	return time.Since(s.IssuedAt) > MaxSessionAge
}

func (s *BreakGlassSession) CanUnmaskPII() bool {
	return s.Profile == ProfileAudit && !s.Expired()
}

// SessionService manages the break-glass operator session: elevation to
// the `audit` profile requires a signed justification of at least
// MinJustificationLen characters and expires after MaxSessionAge, per
// §4.8. The default `operations` profile never sees unmasked PII.
type SessionService struct {
	store *sessions.CookieStore
}

type SessionServiceConfig struct {
	CookieSecret  []byte
	SecureCookies bool
}

func NewSessionService(cfg SessionServiceConfig) *SessionService {
	store := sessions.NewCookieStore(cfg.CookieSecret)
	store.Options = &sessions.Options{
		Path:     "/",
		HttpOnly: true,
		Secure:   cfg.SecureCookies,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(MaxSessionAge.Seconds()),
	}
	return &SessionService{store: store}
}

// ElevateToAudit starts a break-glass session after validating the
// justification length; the caller is responsible for recording an
// audit_events row for the elevation itself.
func (s *SessionService) ElevateToAudit(w http.ResponseWriter, r *http.Request, operatorID, justification string) error {
	if len(justification) < MinJustificationLen {
		return models.ErrJustificationShort
	}

	session, err := s.store.New(r, breakGlassSessionName)
	if err != nil {
		return fmt.Errorf("create break-glass session: %w", err)
	}

	bg := BreakGlassSession{
		OperatorID:    operatorID,
		Profile:       ProfileAudit,
		Justification: justification,
		IssuedAt:      time.Now(),
	}
	raw, err := json.Marshal(bg)
	if err != nil {
		return fmt.Errorf("marshal break-glass session: %w", err)
	}
	session.Values["session"] = string(raw)

	if err := session.Save(r, w); err != nil {
		return fmt.Errorf("save break-glass session: %w", err)
	}

	logger.Logger.Info("operator elevated to audit profile", "operator_id", operatorID)
	return nil
}

// Current returns the operator's current session, defaulting to the
// operations profile when no break-glass cookie is present or it expired.
func (s *SessionService) Current(r *http.Request, operatorID string) BreakGlassSession {
	session, err := s.store.Get(r, breakGlassSessionName)
	if err != nil {
		return BreakGlassSession{OperatorID: operatorID, Profile: ProfileOperations}
	}

	raw, ok := session.Values["session"].(string)
	if !ok || raw == "" {
		return BreakGlassSession{OperatorID: operatorID, Profile: ProfileOperations}
	}

	var bg BreakGlassSession
	if err := json.Unmarshal([]byte(raw), &bg); err != nil || bg.Expired() {
		return BreakGlassSession{OperatorID: operatorID, Profile: ProfileOperations}
	}
	return bg
}

func (s *SessionService) Revoke(w http.ResponseWriter, r *http.Request) {
	session, err := s.store.Get(r, breakGlassSessionName)
	if err != nil {
		return
	}
	session.Options.MaxAge = -1
	_ = session.Save(r, w)
}
