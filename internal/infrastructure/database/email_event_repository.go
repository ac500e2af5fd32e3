// SPDX-License-Identifier: AGPL-3.0-or-later
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/btouchard/sendforge/internal/domain/models"
	"github.com/btouchard/sendforge/internal/infrastructure/dbctx"
)

// EmailEventRepository is the append-only audit stream for an outbox
// entry's lifecycle; sequence is assigned by a per-outbox-id sequence so
// ordering survives concurrent writers.
type EmailEventRepository struct {
	db *sql.DB
}

func NewEmailEventRepository(db *sql.DB) *EmailEventRepository {
	return &EmailEventRepository{db: db}
}

func (r *EmailEventRepository) Append(ctx context.Context, e *models.EmailEvent) error {
	q := dbctx.GetQuerier(ctx, r.db)
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	metadataJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return fmt.Errorf("marshal event metadata: %w", err)
	}

	query := `
		INSERT INTO email_events (id, outbox_id, log_id, type, sequence, metadata)
		VALUES ($1, $2, $3, $4,
			COALESCE((SELECT MAX(sequence) FROM email_events WHERE outbox_id = $2), 0) + 1,
			$5)
		RETURNING sequence, timestamp
	`
	err = q.QueryRowContext(ctx, query, e.ID, e.OutboxID, e.LogID, e.Type, metadataJSON).Scan(&e.Sequence, &e.Timestamp)
	if err != nil {
		return fmt.Errorf("append email event: %w", err)
	}
	return nil
}

func (r *EmailEventRepository) ListByOutbox(ctx context.Context, outboxID uuid.UUID) ([]*models.EmailEvent, error) {
	q := dbctx.GetQuerier(ctx, r.db)
	query := `
		SELECT id, outbox_id, log_id, type, sequence, metadata, timestamp
		FROM email_events WHERE outbox_id = $1 ORDER BY sequence ASC
	`
	rows, err := q.QueryContext(ctx, query, outboxID)
	if err != nil {
		return nil, fmt.Errorf("list email events: %w", err)
	}
	defer rows.Close()

	var events []*models.EmailEvent
	for rows.Next() {
		e := &models.EmailEvent{}
		var metadataJSON []byte
		if err := rows.Scan(&e.ID, &e.OutboxID, &e.LogID, &e.Type, &e.Sequence, &metadataJSON, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan email event: %w", err)
		}
		if len(metadataJSON) > 0 {
			if err := json.Unmarshal(metadataJSON, &e.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal event metadata: %w", err)
			}
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// DeleteOlderThan hard-deletes lifecycle events past the sweeper's
// retention horizon (§4.2: email_events ≥ 90 d).
func (r *EmailEventRepository) DeleteOlderThan(ctx context.Context, olderThan time.Time, batchSize int) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM email_events WHERE id IN (
			SELECT id FROM email_events WHERE timestamp < $1 LIMIT $2
		)
	`, olderThan, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete expired email events: %w", err)
	}
	return res.RowsAffected()
}
