// SPDX-License-Identifier: AGPL-3.0-or-later
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/btouchard/sendforge/internal/domain/models"
	"github.com/btouchard/sendforge/internal/infrastructure/dbctx"
)

// DLQRepository is the durable record of jobs the worker pipeline gave up
// on, mirrored from the Redis-backed queue once a job exhausts retries,
// expires its TTL, or is classified non-retryable.
type DLQRepository struct {
	db *sql.DB
}

func NewDLQRepository(db *sql.DB) *DLQRepository {
	return &DLQRepository{db: db}
}

func (r *DLQRepository) Insert(ctx context.Context, e *models.DLQEntry) error {
	q := dbctx.GetQuerier(ctx, r.db)
	query := `
		INSERT INTO dlq_entries (
			job_id, outbox_id, company_id, original_payload, failed_attempts,
			last_failure_reason, last_failure_code, last_failure_at, enqueued_at, moved_to_dlq_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9, now())
	`
	_, err := q.ExecContext(ctx, query,
		e.JobID, e.OutboxID, e.CompanyID, e.OriginalPayload, e.FailedAttempts,
		e.LastFailureReason, e.LastFailureCode, e.LastFailureAt, e.EnqueuedAt,
	)
	if err != nil {
		return fmt.Errorf("insert dlq entry: %w", err)
	}
	return nil
}

func (r *DLQRepository) GetByJobID(ctx context.Context, jobID uuid.UUID) (*models.DLQEntry, error) {
	q := dbctx.GetQuerier(ctx, r.db)
	query := `
		SELECT job_id, outbox_id, company_id, original_payload, failed_attempts,
		       last_failure_reason, last_failure_code, last_failure_at, enqueued_at, moved_to_dlq_at
		FROM dlq_entries WHERE job_id = $1
	`
	e := &models.DLQEntry{}
	err := q.QueryRowContext(ctx, query, jobID).Scan(
		&e.JobID, &e.OutboxID, &e.CompanyID, &e.OriginalPayload, &e.FailedAttempts,
		&e.LastFailureReason, &e.LastFailureCode, &e.LastFailureAt, &e.EnqueuedAt, &e.MovedToDLQAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrDLQEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get dlq entry: %w", err)
	}
	return e, nil
}

// ListByCompany returns DLQ rows for the replay tool and operator listing,
// newest first.
func (r *DLQRepository) ListByCompany(ctx context.Context, companyID uuid.UUID, limit int) ([]*models.DLQEntry, error) {
	query := `
		SELECT job_id, outbox_id, company_id, original_payload, failed_attempts,
		       last_failure_reason, last_failure_code, last_failure_at, enqueued_at, moved_to_dlq_at
		FROM dlq_entries WHERE company_id = $1 ORDER BY moved_to_dlq_at DESC LIMIT $2
	`
	rows, err := r.db.QueryContext(ctx, query, companyID, limit)
	if err != nil {
		return nil, fmt.Errorf("list dlq entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.DLQEntry
	for rows.Next() {
		e := &models.DLQEntry{}
		if err := rows.Scan(
			&e.JobID, &e.OutboxID, &e.CompanyID, &e.OriginalPayload, &e.FailedAttempts,
			&e.LastFailureReason, &e.LastFailureCode, &e.LastFailureAt, &e.EnqueuedAt, &e.MovedToDLQAt,
		); err != nil {
			return nil, fmt.Errorf("scan dlq entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *DLQRepository) Delete(ctx context.Context, jobID uuid.UUID) error {
	q := dbctx.GetQuerier(ctx, r.db)
	_, err := q.ExecContext(ctx, `DELETE FROM dlq_entries WHERE job_id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("delete dlq entry: %w", err)
	}
	return nil
}
