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

// IdempotencyRepository stores the (company, key) -> outbox mapping used to
// detect replays of a send request. TTL expiry is enforced lazily on read
// and swept in bulk by the retention sweeper.
type IdempotencyRepository struct {
	db *sql.DB
}

func NewIdempotencyRepository(db *sql.DB) *IdempotencyRepository {
	return &IdempotencyRepository{db: db}
}

// Claim attempts to insert the idempotency key; on conflict it returns the
// existing record so the caller can decide between ErrIdempotencyReplay
// (same payload hash) and ErrIdempotencyConflict (different payload).
func (r *IdempotencyRepository) Claim(ctx context.Context, k *models.IdempotencyKey) (*models.IdempotencyKey, error) {
	q := dbctx.GetQuerier(ctx, r.db)

	query := `
		INSERT INTO idempotency_keys (company_id, key, outbox_id, payload_hash, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (company_id, key) DO NOTHING
		RETURNING created_at
	`
	err := q.QueryRowContext(ctx, query, k.CompanyID, k.Key, k.OutboxID, k.PayloadHash, k.ExpiresAt).Scan(&k.CreatedAt)
	if err == nil {
		return k, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("claim idempotency key: %w", err)
	}

	existing, getErr := r.Get(ctx, k.CompanyID, k.Key)
	if getErr != nil {
		return nil, getErr
	}
	if existing.ExpiresAt.Before(time.Now().UTC()) {
		return nil, nil
	}
	if existing.PayloadHash != k.PayloadHash {
		return existing, models.ErrIdempotencyConflict
	}
	return existing, models.ErrIdempotencyReplay
}

func (r *IdempotencyRepository) Get(ctx context.Context, companyID uuid.UUID, key string) (*models.IdempotencyKey, error) {
	q := dbctx.GetQuerier(ctx, r.db)
	query := `SELECT company_id, key, outbox_id, payload_hash, created_at, expires_at FROM idempotency_keys WHERE company_id = $1 AND key = $2`
	k := &models.IdempotencyKey{}
	err := q.QueryRowContext(ctx, query, companyID, key).Scan(&k.CompanyID, &k.Key, &k.OutboxID, &k.PayloadHash, &k.CreatedAt, &k.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get idempotency key: %w", err)
	}
	return k, nil
}

// AttachOutboxID fills in the outbox id on a key row claimed before the
// outbox entry existed; called once Create succeeds.
func (r *IdempotencyRepository) AttachOutboxID(ctx context.Context, companyID uuid.UUID, key string, outboxID uuid.UUID) error {
	q := dbctx.GetQuerier(ctx, r.db)
	_, err := q.ExecContext(ctx, `UPDATE idempotency_keys SET outbox_id = $1 WHERE company_id = $2 AND key = $3`, outboxID, companyID, key)
	if err != nil {
		return fmt.Errorf("attach outbox id to idempotency key: %w", err)
	}
	return nil
}

// DeleteExpired purges keys past their TTL in batches, returning the count
// removed; the sweeper calls this on a fixed interval.
func (r *IdempotencyRepository) DeleteExpired(ctx context.Context, batchSize int) (int64, error) {
	query := `
		DELETE FROM idempotency_keys WHERE (company_id, key) IN (
			SELECT company_id, key FROM idempotency_keys WHERE expires_at < now() LIMIT $1
		)
	`
	res, err := r.db.ExecContext(ctx, query, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete expired idempotency keys: %w", err)
	}
	return res.RowsAffected()
}
