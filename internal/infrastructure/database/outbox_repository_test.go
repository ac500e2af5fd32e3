// SPDX-License-Identifier: AGPL-3.0-or-later
package database

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/btouchard/sendforge/internal/domain/models"
)

func outboxRow(id uuid.UUID, companyID uuid.UUID, status models.OutboxStatus) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"id", "company_id", "recipient_id", "from", "to", "cc", "bcc", "subject", "html_ref", "reply_to",
		"headers", "tags", "attachments", "status", "attempts", "request_id", "idempotency_key",
		"external_id", "created_at", "updated_at",
	}).AddRow(
		id, companyID, nil, "from@example.com", "to@example.com", "{}", "{}", "subject", id.String(), "",
		[]byte("[]"), "{}", []byte("[]"), status, 0, "req-1", nil,
		nil, now, now,
	)
}

func TestOutboxRepositoryGetByIDNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewOutboxRepository(db)
	id := uuid.New()
	mock.ExpectQuery(`(?s)SELECT .* FROM email_outbox WHERE id = \$1`).
		WithArgs(id).
		WillReturnError(sql.ErrNoRows)

	_, err = repo.GetByID(context.Background(), id)
	require.ErrorIs(t, err, models.ErrOutboxNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxRepositoryGetByIDFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewOutboxRepository(db)
	id := uuid.New()
	companyID := uuid.New()
	mock.ExpectQuery(`(?s)SELECT .* FROM email_outbox WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(outboxRow(id, companyID, models.OutboxStatusPending))

	got, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, id, got.ID)
	require.Equal(t, models.OutboxStatusPending, got.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxRepositoryTransitionStatusRejectsIllegalTransition(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewOutboxRepository(db)
	id := uuid.New()
	companyID := uuid.New()

	// Row is currently SENT (terminal); any further transition must be
	// rejected before a single UPDATE is ever issued.
	mock.ExpectQuery(`(?s)SELECT .* FROM email_outbox WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(outboxRow(id, companyID, models.OutboxStatusSent))

	err = repo.TransitionStatus(context.Background(), id, models.OutboxStatusRetrying, false)
	require.ErrorIs(t, err, models.ErrOutboxStateConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxRepositoryTransitionStatusCASLostRace(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewOutboxRepository(db)
	id := uuid.New()
	companyID := uuid.New()

	mock.ExpectQuery(`(?s)SELECT .* FROM email_outbox WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(outboxRow(id, companyID, models.OutboxStatusProcessing))

	// Another worker already moved the row out of PROCESSING between the
	// read and the write: zero rows affected.
	mock.ExpectExec(`UPDATE email_outbox SET status = \$1.*WHERE id = \$2 AND status = \$3`).
		WithArgs(models.OutboxStatusSent, id, models.OutboxStatusProcessing).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = repo.TransitionStatus(context.Background(), id, models.OutboxStatusSent, false)
	require.ErrorIs(t, err, models.ErrOutboxStateConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxRepositoryTransitionStatusSucceeds(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewOutboxRepository(db)
	id := uuid.New()
	companyID := uuid.New()

	mock.ExpectQuery(`(?s)SELECT .* FROM email_outbox WHERE id = \$1`).
		WithArgs(id).
		WillReturnRows(outboxRow(id, companyID, models.OutboxStatusProcessing))

	mock.ExpectExec(`UPDATE email_outbox SET status = \$1, updated_at = now\(\), attempts = attempts \+ 1 WHERE id = \$2 AND status = \$3`).
		WithArgs(models.OutboxStatusRetrying, id, models.OutboxStatusProcessing).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err = repo.TransitionStatus(context.Background(), id, models.OutboxStatusRetrying, true)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxRepositoryRequeueRejectsNonFailedRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewOutboxRepository(db)
	id := uuid.New()

	mock.ExpectExec(`UPDATE email_outbox SET status = \$1, attempts = 0, updated_at = now\(\) WHERE id = \$2 AND status = \$3`).
		WithArgs(models.OutboxStatusEnqueued, id, models.OutboxStatusFailed).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err = repo.Requeue(context.Background(), id)
	require.ErrorIs(t, err, models.ErrOutboxStateConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}
