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

// DomainRepository persists the sending-domain DKIM verification state
// machine described in models.Domain.
type DomainRepository struct {
	db *sql.DB
}

func NewDomainRepository(db *sql.DB) *DomainRepository {
	return &DomainRepository{db: db}
}

const domainColumns = `
	id, company_id, name, status, dkim_status, dkim_selectors, dkim_public_key,
	dkim_private_key_ciphertext, dkim_key_version, consecutive_successes, last_checked,
	warmup_daily_limit, warmup_weekly_increase, warmup_cap, warmup_active, created_at
`

func scanDomain(row interface{ Scan(...interface{}) error }) (*models.Domain, error) {
	d := &models.Domain{}
	if err := row.Scan(
		&d.ID, &d.CompanyID, &d.Name, &d.Status, &d.DKIMStatus, pq.Array(&d.DKIMSelectors), &d.DKIMPublicKey,
		&d.DKIMPrivateKeyCiphertext, &d.DKIMKeyVersion, &d.ConsecutiveSuccesses, &d.LastChecked,
		&d.WarmupPlan.DailyLimit, &d.WarmupPlan.WeeklyIncrease, &d.WarmupPlan.Cap, &d.WarmupPlan.Active, &d.CreatedAt,
	); err != nil {
		return nil, err
	}
	return d, nil
}

func (r *DomainRepository) GetByName(ctx context.Context, companyID uuid.UUID, name string) (*models.Domain, error) {
	q := dbctx.GetQuerier(ctx, r.db)
	query := `SELECT ` + domainColumns + ` FROM domains WHERE company_id = $1 AND name = $2`
	d, err := scanDomain(q.QueryRowContext(ctx, query, companyID, name))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrDomainNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get domain: %w", err)
	}
	return d, nil
}

func (r *DomainRepository) Create(ctx context.Context, d *models.Domain) error {
	q := dbctx.GetQuerier(ctx, r.db)
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.Status == "" {
		d.Status = models.DomainStatusPending
	}
	if d.DKIMStatus == "" {
		d.DKIMStatus = models.DKIMStatusPending
	}
	query := `
		INSERT INTO domains (
			id, company_id, name, status, dkim_status, dkim_selectors, dkim_public_key,
			dkim_private_key_ciphertext, dkim_key_version, warmup_daily_limit,
			warmup_weekly_increase, warmup_cap, warmup_active
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		RETURNING created_at
	`
	err := q.QueryRowContext(ctx, query,
		d.ID, d.CompanyID, d.Name, d.Status, d.DKIMStatus, pq.Array(d.DKIMSelectors), d.DKIMPublicKey,
		d.DKIMPrivateKeyCiphertext, d.DKIMKeyVersion, d.WarmupPlan.DailyLimit,
		d.WarmupPlan.WeeklyIncrease, d.WarmupPlan.Cap, d.WarmupPlan.Active,
	).Scan(&d.CreatedAt)
	if err != nil {
		return fmt.Errorf("create domain: %w", err)
	}
	return nil
}

// MarkChecked records the outcome of a periodic DKIM DNS verification pass:
// a success increments the consecutive-success counter (and flips status
// to VERIFIED once warmup promotion criteria are met by the caller); a
// failure resets it to zero.
func (r *DomainRepository) MarkChecked(ctx context.Context, id uuid.UUID, dkimStatus models.DKIMStatus, status models.DomainStatus, success bool) error {
	q := dbctx.GetQuerier(ctx, r.db)
	query := `
		UPDATE domains SET
			dkim_status = $1,
			status = $2,
			last_checked = now(),
			consecutive_successes = CASE WHEN $3 THEN consecutive_successes + 1 ELSE 0 END
		WHERE id = $4
	`
	_, err := q.ExecContext(ctx, query, dkimStatus, status, success, id)
	if err != nil {
		return fmt.Errorf("mark domain checked: %w", err)
	}
	return nil
}

func (r *DomainRepository) ListDueForCheck(ctx context.Context, limit int) ([]*models.Domain, error) {
	query := `
		SELECT ` + domainColumns + ` FROM domains
		WHERE status != $1 AND (last_checked IS NULL OR last_checked < now() - interval '15 minutes')
		ORDER BY last_checked ASC NULLS FIRST
		LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, models.DomainStatusVerified, limit)
	if err != nil {
		return nil, fmt.Errorf("list domains due for check: %w", err)
	}
	defer rows.Close()

	var domains []*models.Domain
	for rows.Next() {
		d, err := scanDomain(rows)
		if err != nil {
			return nil, fmt.Errorf("scan domain: %w", err)
		}
		domains = append(domains, d)
	}
	return domains, rows.Err()
}
