// SPDX-License-Identifier: AGPL-3.0-or-later
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/btouchard/sendforge/internal/domain/models"
	"github.com/btouchard/sendforge/internal/infrastructure/dbctx"
)

// ProviderConfigRepository stores each company's priority-ordered dispatch
// driver activations, consumed by provider.Registry.Select.
type ProviderConfigRepository struct {
	db *sql.DB
}

func NewProviderConfigRepository(db *sql.DB) *ProviderConfigRepository {
	return &ProviderConfigRepository{db: db}
}

func (r *ProviderConfigRepository) ListByCompany(ctx context.Context, companyID uuid.UUID) ([]*models.ProviderConfig, error) {
	q := dbctx.GetQuerier(ctx, r.db)
	query := `
		SELECT id, company_id, kind, region, priority, enabled, settings, created_at, updated_at
		FROM email_provider_configs WHERE company_id = $1 AND enabled = true ORDER BY priority ASC
	`
	rows, err := q.QueryContext(ctx, query, companyID)
	if err != nil {
		return nil, fmt.Errorf("list provider configs: %w", err)
	}
	defer rows.Close()

	var configs []*models.ProviderConfig
	for rows.Next() {
		c := &models.ProviderConfig{}
		var settingsJSON []byte
		if err := rows.Scan(&c.ID, &c.CompanyID, &c.Kind, &c.Region, &c.Priority, &c.Enabled, &settingsJSON, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan provider config: %w", err)
		}
		if len(settingsJSON) > 0 {
			if err := json.Unmarshal(settingsJSON, &c.Settings); err != nil {
				return nil, fmt.Errorf("unmarshal provider settings: %w", err)
			}
		}
		configs = append(configs, c)
	}
	return configs, rows.Err()
}

func (r *ProviderConfigRepository) Upsert(ctx context.Context, c *models.ProviderConfig) error {
	q := dbctx.GetQuerier(ctx, r.db)
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	settingsJSON, err := json.Marshal(c.Settings)
	if err != nil {
		return fmt.Errorf("marshal provider settings: %w", err)
	}

	query := `
		INSERT INTO email_provider_configs (id, company_id, kind, region, priority, enabled, settings)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (company_id, kind, region) DO UPDATE
		SET priority = EXCLUDED.priority, enabled = EXCLUDED.enabled, settings = EXCLUDED.settings, updated_at = now()
		RETURNING created_at, updated_at
	`
	err = q.QueryRowContext(ctx, query, c.ID, c.CompanyID, c.Kind, c.Region, c.Priority, c.Enabled, settingsJSON).Scan(&c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert provider config: %w", err)
	}
	return nil
}
