// SPDX-License-Identifier: AGPL-3.0-or-later

// Package tenant carries the caller's company identity in a context and
// provides a helper that runs a function inside a transaction that has set
// app.company_id, the key of the outbox store's Row-Level-Security policies.
package tenant

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/btouchard/sendforge/internal/infrastructure/dbctx"
)

// WithCompanyContext executes fn inside a transaction scoped to companyID
// via RLS: it begins a transaction, sets app.company_id for that
// transaction only, stores the transaction in ctx for dbctx.GetQuerier,
// and commits on success / rolls back on error or panic. Nothing in this
// module calls it at present: HTTP handlers get the same scoping from
// shared.RLSMiddleware, and the worker pipeline from dbctx.RunInCompanyTx.
func WithCompanyContext(ctx context.Context, db *sql.DB, companyID uuid.UUID, fn func(ctx context.Context) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, "SELECT set_config('app.company_id', $1, true)", companyID.String()); err != nil {
		return fmt.Errorf("failed to set company context: %w", err)
	}

	txCtx := dbctx.WithTx(ctx, tx)

	if err = fn(txCtx); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// WithCompanyContextFromProvider is like WithCompanyContext but obtains the
// company ID from a Provider, for call sites that don't already have it.
func WithCompanyContextFromProvider(ctx context.Context, db *sql.DB, provider Provider, fn func(ctx context.Context) error) error {
	companyID, err := provider.CurrentCompany(ctx)
	if err != nil {
		return fmt.Errorf("failed to get company ID: %w", err)
	}
	return WithCompanyContext(ctx, db, companyID, fn)
}
