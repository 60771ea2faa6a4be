// Package ledger is the idempotency ledger shared by every saga step: a
// conditional-create attempt table that makes mutating steps safe to redeliver,
// and an audit trail of step state transitions.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"bookflow/internal/saga"
)

// Publisher receives every audit write that reached the store.
type Publisher interface {
	PublishAudit(rec saga.AuditRecord)
}

// Ledger wraps the attempt and audit stores with the step-facing semantics.
type Ledger struct {
	attempts  saga.AttemptStore
	audits    saga.AuditStore
	logger    *slog.Logger
	publisher Publisher
	now       func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

func WithLogger(logger *slog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

func WithPublisher(p Publisher) Option {
	return func(l *Ledger) { l.publisher = p }
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New constructs a Ledger over the given stores.
func New(attempts saga.AttemptStore, audits saga.AuditStore, opts ...Option) *Ledger {
	l := &Ledger{
		attempts: attempts,
		audits:   audits,
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NewMemory constructs a Ledger over fresh in-memory stores.
func NewMemory(opts ...Option) *Ledger {
	return New(NewMemoryAttemptStore(), NewMemoryAuditStore(), opts...)
}

// RecordAttempt conditionally creates the attempt for key. An existing key
// reports created=false without error; any other store failure is transient.
func (l *Ledger) RecordAttempt(ctx context.Context, key, correlationID string, amount int64) (bool, error) {
	created, err := l.attempts.Create(ctx, saga.AttemptRecord{
		IdempotencyKey: key,
		CorrelationID:  correlationID,
		Amount:         amount,
		Status:         saga.AttemptStatusAttempted,
		CreatedAt:      l.now().UTC(),
	})
	if err != nil {
		return false, saga.Transient("ledger_unavailable", fmt.Errorf("record attempt %s: %w", key, err))
	}
	return created, nil
}

// Attempt loads the attempt recorded for key. A missing key returns
// saga.ErrAttemptNotFound unwrapped; store failures are transient.
func (l *Ledger) Attempt(ctx context.Context, key string) (saga.AttemptRecord, error) {
	rec, err := l.attempts.Get(ctx, key)
	if err != nil {
		if errors.Is(err, saga.ErrAttemptNotFound) {
			return saga.AttemptRecord{}, err
		}
		return saga.AttemptRecord{}, saga.Transient("ledger_unavailable", fmt.Errorf("load attempt %s: %w", key, err))
	}
	return rec, nil
}

// MarkCompleted moves the attempt to completed with the provider's reference.
func (l *Ledger) MarkCompleted(ctx context.Context, key, providerReferenceID string) error {
	if err := l.attempts.Complete(ctx, key, providerReferenceID, l.now().UTC()); err != nil {
		return saga.Transient("ledger_unavailable", fmt.Errorf("complete attempt %s: %w", key, err))
	}
	return nil
}

// RecordAuditOnce writes the audit row only if none exists for
// (correlationID, step). It reports whether this call wrote it. Failures are
// logged and swallowed.
func (l *Ledger) RecordAuditOnce(ctx context.Context, correlationID, step string, state saga.AuditState, detail string) bool {
	rec := l.auditRecord(correlationID, step, state, detail)
	created, err := l.audits.Insert(ctx, rec)
	if err != nil {
		l.writeFailed(ctx, rec, err)
		return false
	}
	if created {
		l.publish(rec)
	}
	return created
}

// RecordAudit upserts the audit row. Duplicates are tolerated and failures
// are logged and swallowed.
func (l *Ledger) RecordAudit(ctx context.Context, correlationID, step string, state saga.AuditState, detail string) {
	rec := l.auditRecord(correlationID, step, state, detail)
	if err := l.audits.Upsert(ctx, rec); err != nil {
		l.writeFailed(ctx, rec, err)
		return
	}
	l.publish(rec)
}

// Audit lists the audit trail for a saga.
func (l *Ledger) Audit(ctx context.Context, correlationID string) ([]saga.AuditRecord, error) {
	return l.audits.List(ctx, correlationID)
}

func (l *Ledger) auditRecord(correlationID, step string, state saga.AuditState, detail string) saga.AuditRecord {
	return saga.AuditRecord{
		CorrelationID: correlationID,
		StepName:      step,
		State:         state,
		Detail:        detail,
		Timestamp:     l.now().UTC(),
	}
}

func (l *Ledger) writeFailed(ctx context.Context, rec saga.AuditRecord, cause error) {
	err := &saga.SagaWriteFailed{Step: rec.StepName, Err: cause}
	l.logger.WarnContext(ctx, "audit write failed",
		"correlation_id", rec.CorrelationID,
		"step", rec.StepName,
		"state", string(rec.State),
		"error_name", err.Name(),
		"error", err,
	)
}

func (l *Ledger) publish(rec saga.AuditRecord) {
	if l.publisher != nil {
		l.publisher.PublishAudit(rec)
	}
}
