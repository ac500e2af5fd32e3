// SPDX-License-Identifier: AGPL-3.0-or-later
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/btouchard/sendforge/internal/domain/models"
	"github.com/btouchard/sendforge/internal/infrastructure/dbctx"
)

// CompanyRepository handles database operations for the tenant root table.
// Lookups by API key hash run against the raw *sql.DB, never inside an RLS
// transaction, since the company isn't known until the lookup resolves it.
type CompanyRepository struct {
	db *sql.DB
}

func NewCompanyRepository(db *sql.DB) *CompanyRepository {
	return &CompanyRepository{db: db}
}

const companyColumns = `id, name, status, daily_send_cap, rate_per_second, rate_cap_per_minute, rate_cap_per_hour, api_key_hash, allowed_cidrs, provider_order, default_from_address, bound_domain, created_at, updated_at`

func scanCompany(row interface{ Scan(...interface{}) error }) (*models.Company, error) {
	c := &models.Company{}
	var boundDomain sql.NullString
	if err := row.Scan(
		&c.ID, &c.Name, &c.Status, &c.DailySendCap, &c.RatePerSecond, &c.RateCapPerMinute, &c.RateCapPerHour, &c.APIKeyHash,
		pq.Array(&c.AllowedCIDRs), pq.Array(&c.ProviderOrder), &c.DefaultFromAddress, &boundDomain, &c.CreatedAt, &c.UpdatedAt,
	); err != nil {
		return nil, err
	}
	c.BoundDomain = boundDomain.String
	return c, nil
}

// FindByAPIKeyHash looks up the company owning a hashed API key. It is
// called from the APIKeyMiddleware before any RLS context exists.
func (r *CompanyRepository) FindByAPIKeyHash(ctx context.Context, hash string) (*models.Company, error) {
	query := `SELECT ` + companyColumns + ` FROM companies WHERE api_key_hash = $1`
	c, err := scanCompany(r.db.QueryRowContext(ctx, query, hash))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrCompanyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find company by api key hash: %w", err)
	}
	return c, nil
}

func (r *CompanyRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Company, error) {
	q := dbctx.GetQuerier(ctx, r.db)
	query := `SELECT ` + companyColumns + ` FROM companies WHERE id = $1`
	c, err := scanCompany(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrCompanyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get company: %w", err)
	}
	return c, nil
}

func (r *CompanyRepository) Create(ctx context.Context, c *models.Company) error {
	q := dbctx.GetQuerier(ctx, r.db)
	query := `
		INSERT INTO companies (id, name, status, daily_send_cap, rate_per_second, rate_cap_per_minute, rate_cap_per_hour, api_key_hash, allowed_cidrs, provider_order, default_from_address, bound_domain)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at
	`
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = models.CompanyStatusActive
	}
	err := q.QueryRowContext(ctx, query,
		c.ID, c.Name, c.Status, c.DailySendCap, c.RatePerSecond, c.RateCapPerMinute, c.RateCapPerHour, c.APIKeyHash,
		pq.Array(c.AllowedCIDRs), pq.Array(c.ProviderOrder), c.DefaultFromAddress, nullableString(c.BoundDomain),
	).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create company: %w", err)
	}
	return nil
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func (r *CompanyRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.CompanyStatus) error {
	q := dbctx.GetQuerier(ctx, r.db)
	res, err := q.ExecContext(ctx, `UPDATE companies SET status = $1, updated_at = now() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("update company status: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return models.ErrCompanyNotFound
	}
	return nil
}
