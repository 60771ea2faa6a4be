package saga

import (
	"context"
	"time"
)

// AttemptStatus captures the lifecycle of a payment-like attempt.
type AttemptStatus string

const (
	AttemptStatusAttempted AttemptStatus = "attempted"
	AttemptStatusCompleted AttemptStatus = "completed"
)

// AttemptRecord is keyed by a globally unique idempotency key.
type AttemptRecord struct {
	IdempotencyKey      string
	CorrelationID       string
	Amount              int64
	Status              AttemptStatus
	ProviderReferenceID string
	CreatedAt           time.Time
	CompletedAt         time.Time
}

// AuditState is the state recorded for a saga step.
type AuditState string

const (
	AuditStateStarted   AuditState = "started"
	AuditStateSuccess   AuditState = "success"
	AuditStateCompleted AuditState = "completed"
	AuditStateFailed    AuditState = "failed"
)

// AuditRecord is keyed by (CorrelationID, StepName).
type AuditRecord struct {
	CorrelationID string     `json:"correlationId"`
	StepName      string     `json:"stepName"`
	State         AuditState `json:"state"`
	Detail        string     `json:"detail,omitempty"`
	Timestamp     time.Time  `json:"timestamp"`
}

// PendingCallback holds the orchestrator's continuation handle for a
// suspended saga.
type PendingCallback struct {
	CorrelationID     string
	ContinuationToken string
	Payload           []byte
	CreatedAt         time.Time
}

// AttemptStore persists attempt records. Create is a conditional create and
// reports false, without error, when the key already exists.
type AttemptStore interface {
	Create(ctx context.Context, rec AttemptRecord) (bool, error)
	Get(ctx context.Context, idempotencyKey string) (AttemptRecord, error)
	Complete(ctx context.Context, idempotencyKey, providerReferenceID string, at time.Time) error
}

// AuditStore persists the saga audit trail. Insert is a conditional create;
// Upsert overwrites and tolerates duplicates.
type AuditStore interface {
	Insert(ctx context.Context, rec AuditRecord) (bool, error)
	Upsert(ctx context.Context, rec AuditRecord) error
	List(ctx context.Context, correlationID string) ([]AuditRecord, error)
}
