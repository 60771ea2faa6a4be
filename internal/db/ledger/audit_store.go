// Package ledgerdb stores the idempotency ledger in Postgres.
package ledgerdb

import (
	"context"
	"database/sql"
	"time"

	"bookflow/internal/saga"
)

// AuditStore persists the saga audit trail in Postgres, one row per
// (correlation_id, step_name).
type AuditStore struct {
	db *sql.DB
}

// NewAuditStore constructs an AuditStore backed by Postgres.
func NewAuditStore(db *sql.DB) *AuditStore {
	return &AuditStore{db: db}
}

// NewAuditStoreWithSchema initializes the schema then returns the store.
func NewAuditStoreWithSchema(ctx context.Context, db *sql.DB) (*AuditStore, error) {
	store := NewAuditStore(db)
	if err := store.InitSchema(ctx); err != nil {
		return nil, err
	}
	return store, nil
}

// InitSchema creates the audit table if it does not exist.
func (s *AuditStore) InitSchema(ctx context.Context) error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS saga_audit (
			correlation_id TEXT NOT NULL,
			step_name TEXT NOT NULL,
			state TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (correlation_id, step_name)
		)`,
		`CREATE INDEX IF NOT EXISTS saga_audit_recorded_at ON saga_audit (correlation_id, recorded_at)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// Insert writes the row only if none exists for the key.
func (s *AuditStore) Insert(ctx context.Context, rec saga.AuditRecord) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO saga_audit (correlation_id, step_name, state, detail, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (correlation_id, step_name) DO NOTHING`,
		rec.CorrelationID, rec.StepName, string(rec.State), rec.Detail, timestamp(rec.Timestamp),
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

// Upsert writes the row, replacing any existing state for the key.
func (s *AuditStore) Upsert(ctx context.Context, rec saga.AuditRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO saga_audit (correlation_id, step_name, state, detail, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (correlation_id, step_name)
		DO UPDATE SET state = EXCLUDED.state, detail = EXCLUDED.detail, recorded_at = EXCLUDED.recorded_at`,
		rec.CorrelationID, rec.StepName, string(rec.State), rec.Detail, timestamp(rec.Timestamp),
	)
	return err
}

// List returns the audit trail for a saga in recorded order.
func (s *AuditStore) List(ctx context.Context, correlationID string) ([]saga.AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT correlation_id, step_name, state, detail, recorded_at
		FROM saga_audit
		WHERE correlation_id = $1
		ORDER BY recorded_at, step_name`,
		correlationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []saga.AuditRecord
	for rows.Next() {
		var rec saga.AuditRecord
		var state string
		if err := rows.Scan(&rec.CorrelationID, &rec.StepName, &state, &rec.Detail, &rec.Timestamp); err != nil {
			return nil, err
		}
		rec.State = saga.AuditState(state)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func timestamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
