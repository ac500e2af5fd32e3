// SPDX-License-Identifier: AGPL-3.0-or-later
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/btouchard/sendforge/internal/domain/models"
	"github.com/btouchard/sendforge/internal/infrastructure/dbctx"
)

// EmailLogRepository records one row per dispatch attempt against an
// outbox entry.
type EmailLogRepository struct {
	db *sql.DB
}

func NewEmailLogRepository(db *sql.DB) *EmailLogRepository {
	return &EmailLogRepository{db: db}
}

func (r *EmailLogRepository) Create(ctx context.Context, l *models.EmailLog) error {
	q := dbctx.GetQuerier(ctx, r.db)
	if l.ID == uuid.Nil {
		l.ID = uuid.New()
	}
	query := `
		INSERT INTO email_logs (
			id, outbox_id, attempt, provider, provider_message_id, status,
			error_code, error_category, error_reason, duration_ms
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at
	`
	err := q.QueryRowContext(ctx, query,
		l.ID, l.OutboxID, l.Attempt, l.Provider, l.ProviderMessageID, l.Status,
		l.ErrorCode, l.ErrorCategory, l.ErrorReason, l.DurationMS,
	).Scan(&l.CreatedAt)
	if err != nil {
		return fmt.Errorf("create email log: %w", err)
	}
	return nil
}

func (r *EmailLogRepository) ListByOutbox(ctx context.Context, outboxID uuid.UUID) ([]*models.EmailLog, error) {
	q := dbctx.GetQuerier(ctx, r.db)
	query := `
		SELECT id, outbox_id, attempt, provider, provider_message_id, status,
		       error_code, error_category, error_reason, duration_ms, created_at
		FROM email_logs WHERE outbox_id = $1 ORDER BY attempt ASC
	`
	rows, err := q.QueryContext(ctx, query, outboxID)
	if err != nil {
		return nil, fmt.Errorf("list email logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.EmailLog
	for rows.Next() {
		l := &models.EmailLog{}
		if err := rows.Scan(
			&l.ID, &l.OutboxID, &l.Attempt, &l.Provider, &l.ProviderMessageID, &l.Status,
			&l.ErrorCode, &l.ErrorCategory, &l.ErrorReason, &l.DurationMS, &l.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan email log: %w", err)
		}
		logs = append(logs, l)
	}
	return logs, rows.Err()
}

// DeleteOlderThan hard-deletes dispatch-attempt rows past the sweeper's
// retention horizon (§4.2: email_logs ≥ 90 d).
func (r *EmailLogRepository) DeleteOlderThan(ctx context.Context, olderThan time.Time, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM email_logs WHERE id IN (
			SELECT id FROM email_logs WHERE created_at < $1 LIMIT $2
		)
	`, olderThan, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete expired email logs: %w", err)
	}
	return res.RowsAffected()
}
