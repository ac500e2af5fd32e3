// SPDX-License-Identifier: AGPL-3.0-or-later
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/btouchard/sendforge/internal/domain/models"
	"github.com/btouchard/sendforge/internal/infrastructure/dbctx"
)

// RecipientRepository tracks per-company suppression state. All operations
// run through dbctx.GetQuerier so callers inherit the RLS transaction the
// request middleware already opened.
type RecipientRepository struct {
	db *sql.DB
}

func NewRecipientRepository(db *sql.DB) *RecipientRepository {
	return &RecipientRepository{db: db}
}

func scanRecipient(row interface{ Scan(...interface{}) error }) (*models.Recipient, error) {
	rec := &models.Recipient{}
	if err := row.Scan(
		&rec.ID, &rec.CompanyID, &rec.ExternalID, &rec.Email, &rec.Name, &rec.LegalName,
		&rec.FiscalHash, &rec.FiscalCiphertext, &rec.FiscalSalt,
		&rec.SuppressedAt, &rec.Reason, &rec.LastEventAt, &rec.CreatedAt, &rec.DeletedAt,
	); err != nil {
		return nil, err
	}
	return rec, nil
}

const recipientColumns = `
	id, company_id, external_id, email, name, legal_name,
	fiscal_hash, fiscal_ciphertext, fiscal_salt,
	suppressed_at, reason, last_event_at, created_at, deleted_at
`

func (r *RecipientRepository) FindByEmail(ctx context.Context, companyID uuid.UUID, email string) (*models.Recipient, error) {
	q := dbctx.GetQuerier(ctx, r.db)
	query := `SELECT ` + recipientColumns + ` FROM recipients WHERE company_id = $1 AND email = $2`
	rec, err := scanRecipient(q.QueryRowContext(ctx, query, companyID, email))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find recipient: %w", err)
	}
	return rec, nil
}

// FindByFiscalHash resolves a recipient by its deterministic fiscal-id
// digest, used by the operator list endpoint's cpfCnpj filter (§6): the
// caller hashes the query value with the same key before calling this, so
// the plaintext identifier never reaches the store.
func (r *RecipientRepository) FindByFiscalHash(ctx context.Context, companyID uuid.UUID, fiscalHash string) (*models.Recipient, error) {
	q := dbctx.GetQuerier(ctx, r.db)
	query := `SELECT ` + recipientColumns + ` FROM recipients WHERE company_id = $1 AND fiscal_hash = $2`
	rec, err := scanRecipient(q.QueryRowContext(ctx, query, companyID, fiscalHash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find recipient by fiscal hash: %w", err)
	}
	return rec, nil
}

// ResolveOrCreate upserts a recipient on the (company_id, email) key,
// filling in whichever identifying fields the caller supplied (external
// id, fiscal triple, name) without clobbering existing suppression state.
// Grounded on Suppress's existing ON CONFLICT upsert shape.
func (r *RecipientRepository) ResolveOrCreate(ctx context.Context, companyID uuid.UUID, rec *models.Recipient) (*models.Recipient, error) {
	q := dbctx.GetQuerier(ctx, r.db)
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	query := `
		INSERT INTO recipients (id, company_id, external_id, email, name, legal_name, fiscal_hash, fiscal_ciphertext, fiscal_salt)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (company_id, email) DO UPDATE
		SET external_id       = COALESCE(EXCLUDED.external_id, recipients.external_id),
		    name              = COALESCE(EXCLUDED.name, recipients.name),
		    legal_name        = COALESCE(EXCLUDED.legal_name, recipients.legal_name),
		    fiscal_hash       = COALESCE(EXCLUDED.fiscal_hash, recipients.fiscal_hash),
		    fiscal_ciphertext = COALESCE(EXCLUDED.fiscal_ciphertext, recipients.fiscal_ciphertext),
		    fiscal_salt       = COALESCE(EXCLUDED.fiscal_salt, recipients.fiscal_salt)
		RETURNING ` + recipientColumns
	row := q.QueryRowContext(ctx, query,
		rec.ID, companyID, rec.ExternalID, rec.Email, rec.Name, rec.LegalName,
		rec.FiscalHash, rec.FiscalCiphertext, rec.FiscalSalt,
	)
	out, err := scanRecipient(row)
	if err != nil {
		return nil, fmt.Errorf("resolve or create recipient: %w", err)
	}
	return out, nil
}

// Suppress upserts a suppression row for the (company, email) pair. Bounce
// and complaint suppressions are never cleared automatically; only a
// manual operator action may lift them.
func (r *RecipientRepository) Suppress(ctx context.Context, companyID uuid.UUID, email string, reason models.SuppressionReason) error {
	q := dbctx.GetQuerier(ctx, r.db)
	now := time.Now().UTC()
	query := `
		INSERT INTO recipients (id, company_id, email, suppressed_at, reason, last_event_at)
		VALUES ($1, $2, $3, $4, $5, $4)
		ON CONFLICT (company_id, email) DO UPDATE
		SET suppressed_at = EXCLUDED.suppressed_at, reason = EXCLUDED.reason, last_event_at = EXCLUDED.last_event_at
	`
	_, err := q.ExecContext(ctx, query, uuid.New(), companyID, email, now, reason)
	if err != nil {
		return fmt.Errorf("suppress recipient: %w", err)
	}
	return nil
}

func (r *RecipientRepository) Unsuppress(ctx context.Context, companyID uuid.UUID, email string) error {
	q := dbctx.GetQuerier(ctx, r.db)
	_, err := q.ExecContext(ctx, `UPDATE recipients SET suppressed_at = NULL, reason = NULL WHERE company_id = $1 AND email = $2`, companyID, email)
	if err != nil {
		return fmt.Errorf("unsuppress recipient: %w", err)
	}
	return nil
}
