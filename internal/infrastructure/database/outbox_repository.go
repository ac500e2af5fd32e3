// SPDX-License-Identifier: AGPL-3.0-or-later
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/btouchard/sendforge/internal/domain/models"
	"github.com/btouchard/sendforge/internal/infrastructure/dbctx"
	"github.com/btouchard/sendforge/pkg/logger"
)

// OutboxRepository is the authoritative store for accepted send requests.
// Status transitions are enforced with a compare-and-swap UPDATE so two
// workers racing to claim the same job can never both win.
type OutboxRepository struct {
	db *sql.DB
}

func NewOutboxRepository(db *sql.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

const outboxColumns = `
	id, company_id, recipient_id, "from", "to", cc, bcc, subject, html_ref, reply_to,
	headers, tags, attachments, status, attempts, request_id, idempotency_key,
	external_id, created_at, updated_at
`

func scanOutbox(row interface{ Scan(...interface{}) error }) (*models.Outbox, error) {
	o := &models.Outbox{}
	var headersJSON, attachmentsJSON []byte
	if err := row.Scan(
		&o.ID, &o.CompanyID, &o.RecipientID, &o.From, &o.To, pq.Array(&o.Cc), pq.Array(&o.Bcc),
		&o.Subject, &o.HTMLRef, &o.ReplyTo, &headersJSON, pq.Array(&o.Tags), &attachmentsJSON,
		&o.Status, &o.Attempts, &o.RequestID, &o.IdempotencyKey, &o.ExternalID,
		&o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(headersJSON) > 0 {
		if err := json.Unmarshal(headersJSON, &o.Headers); err != nil {
			return nil, fmt.Errorf("unmarshal outbox headers: %w", err)
		}
	}
	if len(attachmentsJSON) > 0 {
		if err := json.Unmarshal(attachmentsJSON, &o.Attachments); err != nil {
			return nil, fmt.Errorf("unmarshal outbox attachments: %w", err)
		}
	}
	return o, nil
}

// Create inserts a new outbox row in the PENDING status.
func (r *OutboxRepository) Create(ctx context.Context, o *models.Outbox) error {
	q := dbctx.GetQuerier(ctx, r.db)

	headersJSON, err := json.Marshal(o.Headers)
	if err != nil {
		return fmt.Errorf("marshal outbox headers: %w", err)
	}
	attachmentsJSON, err := json.Marshal(o.Attachments)
	if err != nil {
		return fmt.Errorf("marshal outbox attachments: %w", err)
	}
	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}
	if o.Status == "" {
		o.Status = models.OutboxStatusPending
	}
	if o.HTMLRef == "" {
		o.HTMLRef = o.ID.String()
	}

	query := `
		INSERT INTO email_outbox (
			id, company_id, recipient_id, "from", "to", cc, bcc, subject, html_ref, html_body, reply_to,
			headers, tags, attachments, status, attempts, request_id, idempotency_key, external_id
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		RETURNING created_at, updated_at
	`
	err = q.QueryRowContext(ctx, query,
		o.ID, o.CompanyID, o.RecipientID, o.From, o.To, pq.Array(o.Cc), pq.Array(o.Bcc),
		o.Subject, o.HTMLRef, o.HTMLBody, o.ReplyTo, headersJSON, pq.Array(o.Tags), attachmentsJSON,
		o.Status, o.Attempts, o.RequestID, o.IdempotencyKey, o.ExternalID,
	).Scan(&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create outbox entry: %w", err)
	}
	return nil
}

// GetHTMLBody resolves a job envelope's html_ref to the stored sanitized
// body at dispatch time, keeping the queue payload well under 64 KiB.
func (r *OutboxRepository) GetHTMLBody(ctx context.Context, id uuid.UUID) (string, error) {
	q := dbctx.GetQuerier(ctx, r.db)
	var body string
	err := q.QueryRowContext(ctx, `SELECT html_body FROM email_outbox WHERE id = $1`, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return "", models.ErrOutboxNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get outbox html body: %w", err)
	}
	return body, nil
}

func (r *OutboxRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Outbox, error) {
	q := dbctx.GetQuerier(ctx, r.db)
	query := `SELECT ` + outboxColumns + ` FROM email_outbox WHERE id = $1`
	o, err := scanOutbox(q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrOutboxNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get outbox entry: %w", err)
	}
	return o, nil
}

// TransitionStatus performs the CAS update: it reads the row's current
// status, and only succeeds if models.CanTransition(current, to) holds and
// the row still has that status when the UPDATE runs.
// ErrOutboxStateConflict signals a lost race or an illegal jump, which the
// caller should treat as a no-op rather than a hard failure.
func (r *OutboxRepository) TransitionStatus(ctx context.Context, id uuid.UUID, to models.OutboxStatus, incrementAttempt bool) error {
	q := dbctx.GetQuerier(ctx, r.db)

	current, err := r.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if !models.CanTransition(current.Status, to) {
		return models.ErrOutboxStateConflict
	}

	query := `UPDATE email_outbox SET status = $1, updated_at = now()`
	args := []interface{}{to}
	if incrementAttempt {
		query += `, attempts = attempts + 1`
	}
	query += ` WHERE id = $2 AND status = $3`
	args = append(args, id, current.Status)

	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("transition outbox status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("transition outbox status rows affected: %w", err)
	}
	if n == 0 {
		return models.ErrOutboxStateConflict
	}

	logger.Logger.Debug("outbox status transitioned", "outbox_id", id.String(), "from", current.Status, "to", to)
	return nil
}

// Requeue reopens a FAILED outbox row as ENQUEUED with a reset attempt
// counter. This is the one transition CanTransition deliberately refuses,
// since FAILED is sticky against automatic retries; only the DLQ replay
// tool, acting on explicit operator intent, is allowed to take it.
func (r *OutboxRepository) Requeue(ctx context.Context, id uuid.UUID) error {
	q := dbctx.GetQuerier(ctx, r.db)
	res, err := q.ExecContext(ctx, `
		UPDATE email_outbox SET status = $1, attempts = 0, updated_at = now()
		WHERE id = $2 AND status = $3
	`, models.OutboxStatusEnqueued, id, models.OutboxStatusFailed)
	if err != nil {
		return fmt.Errorf("requeue outbox entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("requeue outbox entry rows affected: %w", err)
	}
	if n == 0 {
		return models.ErrOutboxStateConflict
	}
	return nil
}

// ListByFilter returns a page of outbox rows for the operator listing
// endpoint, in either cursor mode (cursorID set, offset ignored) or
// offset mode (cursorID nil), matching models.Pagination's mutually
// exclusive modes. Filters that live on the recipient row (fiscal hash,
// name, legal name, recipient external id) are applied through a
// recipient_id IN (subquery) only when at least one of them is set, so
// the common case stays a single-table scan.
func (r *OutboxRepository) ListByFilter(ctx context.Context, filter models.OutboxFilter, cursorID *uuid.UUID, offset, limit int) ([]*models.Outbox, error) {
	q := dbctx.GetQuerier(ctx, r.db)

	query := `SELECT ` + outboxColumns + ` FROM email_outbox WHERE company_id = $1`
	args := []interface{}{filter.CompanyID}
	argN := 2

	if len(filter.Statuses) > 0 {
		query += fmt.Sprintf(` AND status = ANY($%d)`, argN)
		args = append(args, pq.Array(filter.Statuses))
		argN++
	}
	if filter.To != "" {
		query += fmt.Sprintf(` AND "to" = $%d`, argN)
		args = append(args, filter.To)
		argN++
	}
	if filter.ExternalID != "" {
		query += fmt.Sprintf(` AND external_id = $%d`, argN)
		args = append(args, filter.ExternalID)
		argN++
	}
	if filter.DateFrom != nil && *filter.DateFrom != "" {
		query += fmt.Sprintf(` AND created_at >= $%d`, argN)
		args = append(args, *filter.DateFrom)
		argN++
	}
	if filter.DateTo != nil && *filter.DateTo != "" {
		query += fmt.Sprintf(` AND created_at <= $%d`, argN)
		args = append(args, *filter.DateTo)
		argN++
	}
	if len(filter.Tags) > 0 {
		query += fmt.Sprintf(` AND tags && $%d`, argN)
		args = append(args, pq.Array(filter.Tags))
		argN++
	}

	// Recipient-table filters go through a subquery rather than a join so
	// the SELECT list (shared column names like id, company_id, created_at
	// between email_outbox and recipients) stays unambiguous.
	if filter.RecipientExternalID != "" || filter.FiscalHash != "" ||
		filter.RecipientName != "" || filter.RecipientLegalName != "" {
		sub := fmt.Sprintf(`SELECT id FROM recipients WHERE company_id = $%d`, argN)
		args = append(args, filter.CompanyID)
		argN++
		if filter.RecipientExternalID != "" {
			sub += fmt.Sprintf(` AND external_id = $%d`, argN)
			args = append(args, filter.RecipientExternalID)
			argN++
		}
		if filter.FiscalHash != "" {
			sub += fmt.Sprintf(` AND fiscal_hash = $%d`, argN)
			args = append(args, filter.FiscalHash)
			argN++
		}
		if filter.RecipientName != "" {
			sub += fmt.Sprintf(` AND name = $%d`, argN)
			args = append(args, filter.RecipientName)
			argN++
		}
		if filter.RecipientLegalName != "" {
			sub += fmt.Sprintf(` AND legal_name = $%d`, argN)
			args = append(args, filter.RecipientLegalName)
			argN++
		}
		query += fmt.Sprintf(` AND recipient_id IN (%s)`, sub)
	}

	if cursorID != nil {
		query += fmt.Sprintf(` AND id < $%d`, argN)
		args = append(args, *cursorID)
		argN++
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if cursorID == nil && offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argN)
		args = append(args, offset)
		argN++
	}
	query += fmt.Sprintf(` LIMIT $%d`, argN)
	args = append(args, limit)

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list outbox entries: %w", err)
	}
	defer rows.Close()

	var items []*models.Outbox
	for rows.Next() {
		o, err := scanOutbox(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		items = append(items, o)
	}
	return items, rows.Err()
}

// ListStuckPending returns PENDING rows older than olderThan: enqueue
// accepted the idempotency/outbox write but the queue publish (step 3 of
// ingestion) never landed. The sweeper re-enqueues these at-least-once.
func (r *OutboxRepository) ListStuckPending(ctx context.Context, olderThan time.Time, limit int) ([]*models.Outbox, error) {
	query := `SELECT ` + outboxColumns + ` FROM email_outbox WHERE status = $1 AND created_at < $2 LIMIT $3`
	rows, err := r.db.QueryContext(ctx, query, models.OutboxStatusPending, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list stuck pending outbox entries: %w", err)
	}
	defer rows.Close()

	var items []*models.Outbox
	for rows.Next() {
		o, err := scanOutbox(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		items = append(items, o)
	}
	return items, rows.Err()
}

// ListStuckProcessing returns PROCESSING rows whose claim lease has expired:
// a worker crashed (or was killed) between claiming the job and finalizing
// it, leaving the outbox row stranded past the CAS-claim visibility
// timeout. The sweeper reopens these for re-claim.
func (r *OutboxRepository) ListStuckProcessing(ctx context.Context, olderThan time.Time, limit int) ([]*models.Outbox, error) {
	query := `SELECT ` + outboxColumns + ` FROM email_outbox WHERE status = $1 AND updated_at < $2 LIMIT $3`
	rows, err := r.db.QueryContext(ctx, query, models.OutboxStatusProcessing, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list stuck processing outbox entries: %w", err)
	}
	defer rows.Close()

	var items []*models.Outbox
	for rows.Next() {
		o, err := scanOutbox(rows)
		if err != nil {
			return nil, fmt.Errorf("scan outbox entry: %w", err)
		}
		items = append(items, o)
	}
	return items, rows.Err()
}

// PseudonymizeOlderThan scrubs recipient-identifying fields on terminal rows
// past the retention horizon, leaving the row (and its attempt/status
// history) intact for aggregate reporting.
func (r *OutboxRepository) PseudonymizeOlderThan(ctx context.Context, olderThan time.Time, batchSize int) (int64, error) {
	query := `
		UPDATE email_outbox SET "to" = 'redacted@retention.invalid', cc = '{}', bcc = '{}', reply_to = ''
		WHERE id IN (
			SELECT id FROM email_outbox
			WHERE status IN ($1, $2) AND created_at < $3 AND "to" != 'redacted@retention.invalid'
			LIMIT $4
		)
	`
	res, err := r.db.ExecContext(ctx, query, models.OutboxStatusSent, models.OutboxStatusFailed, olderThan, batchSize)
	if err != nil {
		return 0, fmt.Errorf("pseudonymize outbox entries: %w", err)
	}
	return res.RowsAffected()
}

// DeleteOlderThan hard-deletes outbox rows past the retention hard limit.
func (r *OutboxRepository) DeleteOlderThan(ctx context.Context, olderThan time.Time, batchSize int) (int64, error) {
	query := `
		DELETE FROM email_outbox WHERE id IN (
			SELECT id FROM email_outbox WHERE created_at < $1 LIMIT $2
		)
	`
	res, err := r.db.ExecContext(ctx, query, olderThan, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete expired outbox entries: %w", err)
	}
	return res.RowsAffected()
}
