package ledgerdb

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"bookflow/internal/saga"
)

// AttemptStore persists idempotency attempts in Postgres.
type AttemptStore struct {
	db *sql.DB
}

// NewAttemptStore constructs an AttemptStore backed by Postgres.
func NewAttemptStore(db *sql.DB) *AttemptStore {
	return &AttemptStore{db: db}
}

// NewAttemptStoreWithSchema initializes the schema then returns the store.
func NewAttemptStoreWithSchema(ctx context.Context, db *sql.DB) (*AttemptStore, error) {
	store := NewAttemptStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the attempts table if it does not exist.
func (s *AttemptStore) InitSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS idempotency_attempts (
			idempotency_key TEXT PRIMARY KEY,
			correlation_id TEXT NOT NULL,
			amount BIGINT NOT NULL,
			status TEXT NOT NULL,
			provider_reference_id TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			completed_at TIMESTAMPTZ
		)
	`)
	return err
}

// Create inserts the attempt unless the key already exists.
func (s *AttemptStore) Create(ctx context.Context, rec saga.AttemptRecord) (bool, error) {
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO idempotency_attempts (idempotency_key, correlation_id, amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (idempotency_key) DO NOTHING`,
		rec.IdempotencyKey, rec.CorrelationID, rec.Amount, string(saga.AttemptStatusAttempted), createdAt,
	)
	if err != nil {
		return false, err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

// Get loads the attempt for key.
func (s *AttemptStore) Get(ctx context.Context, key string) (saga.AttemptRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT idempotency_key, correlation_id, amount, status, provider_reference_id, created_at, completed_at
		FROM idempotency_attempts
		WHERE idempotency_key = $1`,
		key,
	)

	var (
		rec         saga.AttemptRecord
		status      string
		completedAt sql.NullTime
	)
	if err := row.Scan(&rec.IdempotencyKey, &rec.CorrelationID, &rec.Amount, &status,
		&rec.ProviderReferenceID, &rec.CreatedAt, &completedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return saga.AttemptRecord{}, saga.ErrAttemptNotFound
		}
		return saga.AttemptRecord{}, err
	}
	rec.Status = saga.AttemptStatus(status)
	if completedAt.Valid {
		rec.CompletedAt = completedAt.Time
	}
	return rec, nil
}

// Complete transitions an attempted record to completed. Completing an
// already completed record is a no-op.
func (s *AttemptStore) Complete(ctx context.Context, key, providerReferenceID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE idempotency_attempts
		SET status = $2, provider_reference_id = $3, completed_at = $4
		WHERE idempotency_key = $1 AND status = $5`,
		key, string(saga.AttemptStatusCompleted), providerReferenceID, at, string(saga.AttemptStatusAttempted),
	)
	if err != nil {
		return err
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected > 0 {
		return nil
	}

	var status string
	row := s.db.QueryRowContext(ctx, `SELECT status FROM idempotency_attempts WHERE idempotency_key = $1`, key)
	switch scanErr := row.Scan(&status); {
	case scanErr == nil:
		if saga.AttemptStatus(status) == saga.AttemptStatusCompleted {
			return nil
		}
		return saga.ErrAttemptNotFound
	case errors.Is(scanErr, sql.ErrNoRows):
		return saga.ErrAttemptNotFound
	default:
		return scanErr
	}
}
