package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"bookflow/internal/saga"
)

// MemoryAttemptStore is an in-process AttemptStore.
type MemoryAttemptStore struct {
	mu      sync.Mutex
	records map[string]saga.AttemptRecord
}

// NewMemoryAttemptStore constructs an empty MemoryAttemptStore.
func NewMemoryAttemptStore() *MemoryAttemptStore {
	return &MemoryAttemptStore{records: make(map[string]saga.AttemptRecord)}
}

func (s *MemoryAttemptStore) Create(_ context.Context, rec saga.AttemptRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.IdempotencyKey]; ok {
		return false, nil
	}
	s.records[rec.IdempotencyKey] = rec
	return true, nil
}

func (s *MemoryAttemptStore) Get(_ context.Context, key string) (saga.AttemptRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return saga.AttemptRecord{}, saga.ErrAttemptNotFound
	}
	return rec, nil
}

func (s *MemoryAttemptStore) Complete(_ context.Context, key, providerReferenceID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return saga.ErrAttemptNotFound
	}
	if rec.Status == saga.AttemptStatusCompleted {
		return nil
	}
	rec.Status = saga.AttemptStatusCompleted
	rec.ProviderReferenceID = providerReferenceID
	rec.CompletedAt = at
	s.records[key] = rec
	return nil
}

type auditKey struct {
	correlationID string
	step          string
}

// MemoryAuditStore is an in-process AuditStore.
type MemoryAuditStore struct {
	mu      sync.Mutex
	records map[auditKey]saga.AuditRecord
}

// NewMemoryAuditStore constructs an empty MemoryAuditStore.
func NewMemoryAuditStore() *MemoryAuditStore {
	return &MemoryAuditStore{records: make(map[auditKey]saga.AuditRecord)}
}

func (s *MemoryAuditStore) Insert(_ context.Context, rec saga.AuditRecord) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := auditKey{rec.CorrelationID, rec.StepName}
	if _, ok := s.records[key]; ok {
		return false, nil
	}
	s.records[key] = rec
	return true, nil
}

func (s *MemoryAuditStore) Upsert(_ context.Context, rec saga.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[auditKey{rec.CorrelationID, rec.StepName}] = rec
	return nil
}

func (s *MemoryAuditStore) List(_ context.Context, correlationID string) ([]saga.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []saga.AuditRecord
	for key, rec := range s.records {
		if key.correlationID == correlationID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].StepName < out[j].StepName
		}
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}
