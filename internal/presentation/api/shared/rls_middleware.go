// SPDX-License-Identifier: AGPL-3.0-or-later
package shared

import (
	"database/sql"
	"net/http"

	"github.com/btouchard/sendforge/internal/infrastructure/dbctx"
	"github.com/btouchard/sendforge/internal/infrastructure/tenant"
	"github.com/btouchard/sendforge/pkg/logger"
)

// RLSMiddleware provides Row Level Security context for database queries.
// It wraps each request in a transaction with app.company_id set via
// set_config. RLS is always active - this is a security feature that
// cannot be disabled. It runs after APIKeyMiddleware, which attaches the
// resolved company to the request context.
type RLSMiddleware struct {
	db        *sql.DB
	companies tenant.Provider
}

func NewRLSMiddleware(db *sql.DB, companies tenant.Provider) *RLSMiddleware {
	return &RLSMiddleware{db: db, companies: companies}
}

// Handler wraps HTTP requests with RLS transaction context: resolves the
// company from the request, starts a transaction, sets app.company_id,
// stores the transaction in the request context, and commits on a 2xx-3xx
// response or rolls back otherwise (including on panic).
func (m *RLSMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		requestID := getRequestID(ctx)

		companyID, err := m.companies.CurrentCompany(ctx)
		if err != nil {
			logger.Logger.Error("rls_middleware: failed to get company", "request_id", requestID, "error", err.Error())
			WriteInternalError(w, r)
			return
		}

		tx, err := m.db.BeginTx(ctx, nil)
		if err != nil {
			logger.Logger.Error("rls_middleware: failed to begin transaction", "request_id", requestID, "error", err.Error())
			WriteInternalError(w, r)
			return
		}

		if _, err = tx.ExecContext(ctx, "SELECT set_config('app.company_id', $1, true)", companyID.String()); err != nil {
			_ = tx.Rollback()
			logger.Logger.Error("rls_middleware: failed to set company context", "request_id", requestID, "company_id", companyID.String(), "error", err.Error())
			WriteInternalError(w, r)
			return
		}

		ctxWithTx := dbctx.WithTx(ctx, tx)
		wrapped := &statusCapturingResponseWriter{ResponseWriter: w, status: http.StatusOK}

		defer func() {
			if rec := recover(); rec != nil {
				_ = tx.Rollback()
				logger.Logger.Error("rls_middleware: panic recovered, transaction rolled back", "request_id", requestID, "panic", rec)
				panic(rec)
			}
		}()

		next.ServeHTTP(wrapped, r.WithContext(ctxWithTx))

		if wrapped.status >= 200 && wrapped.status < 400 {
			if err := tx.Commit(); err != nil {
				logger.Logger.Error("rls_middleware: failed to commit transaction", "request_id", requestID, "status", wrapped.status, "error", err.Error())
			}
		} else {
			if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
				logger.Logger.Error("rls_middleware: failed to rollback transaction", "request_id", requestID, "status", wrapped.status, "error", err.Error())
			}
		}
	})
}

type statusCapturingResponseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (w *statusCapturingResponseWriter) WriteHeader(code int) {
	if !w.wroteHeader {
		w.status = code
		w.wroteHeader = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusCapturingResponseWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	return w.ResponseWriter.Write(b)
}
