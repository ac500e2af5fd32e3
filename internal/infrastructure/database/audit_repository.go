// SPDX-License-Identifier: AGPL-3.0-or-later
package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/btouchard/sendforge/internal/domain/models"
)

// AuditRepository records break-glass PII access. Writes always go
// against the raw *sql.DB: audit rows must survive even when the
// triggering request's RLS transaction later rolls back.
type AuditRepository struct {
	db *sql.DB
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Record(ctx context.Context, e *models.AuditEvent) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	query := `
		INSERT INTO audit_events (id, operator_id, reason, resource, ip)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING timestamp
	`
	err := r.db.QueryRowContext(ctx, query, e.ID, e.OperatorID, e.Reason, e.Resource, e.IP).Scan(&e.Timestamp)
	if err != nil {
		return fmt.Errorf("record audit event: %w", err)
	}
	return nil
}

func (r *AuditRepository) ListByOperator(ctx context.Context, operatorID string, limit int) ([]*models.AuditEvent, error) {
	query := `SELECT id, operator_id, reason, resource, ip, timestamp FROM audit_events WHERE operator_id = $1 ORDER BY timestamp DESC LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, operatorID, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []*models.AuditEvent
	for rows.Next() {
		e := &models.AuditEvent{}
		if err := rows.Scan(&e.ID, &e.OperatorID, &e.Reason, &e.Resource, &e.IP, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}
