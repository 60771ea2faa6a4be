package resilience

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen indicates the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker open")

// BreakerState is the shared state of a service's breaker.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// BreakerStore holds breaker state where every concurrent caller can see it.
// Absence of state means closed. Trip opens the breaker for cooldown, after
// which it is half-open for halfOpenWindow; AcquireProbe hands the single
// half-open probe to one caller.
type BreakerStore interface {
	State(ctx context.Context, service string) (BreakerState, error)
	Trip(ctx context.Context, service string, cooldown, halfOpenWindow time.Duration) error
	AcquireProbe(ctx context.Context, service string, ttl time.Duration) (bool, error)
	Reset(ctx context.Context, service string) error
}

// MemoryBreakerStore keeps breaker state in process. It is for tests and
// single-process development only.
type MemoryBreakerStore struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]breakerEntry
}

type breakerEntry struct {
	openUntil    time.Time
	trippedUntil time.Time
	probeUntil   time.Time
}

// NewMemoryBreakerStore constructs an in-memory breaker store. A nil now uses
// time.Now.
func NewMemoryBreakerStore(now func() time.Time) *MemoryBreakerStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryBreakerStore{now: now, entries: make(map[string]breakerEntry)}
}

func (m *MemoryBreakerStore) State(_ context.Context, service string) (BreakerState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[service]
	if !ok {
		return BreakerClosed, nil
	}
	now := m.now()
	switch {
	case now.Before(entry.openUntil):
		return BreakerOpen, nil
	case now.Before(entry.trippedUntil):
		return BreakerHalfOpen, nil
	default:
		delete(m.entries, service)
		return BreakerClosed, nil
	}
}

func (m *MemoryBreakerStore) Trip(_ context.Context, service string, cooldown, halfOpenWindow time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.entries[service] = breakerEntry{
		openUntil:    now.Add(cooldown),
		trippedUntil: now.Add(cooldown + halfOpenWindow),
	}
	return nil
}

func (m *MemoryBreakerStore) AcquireProbe(_ context.Context, service string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[service]
	if !ok {
		return true, nil
	}
	now := m.now()
	if now.Before(entry.probeUntil) {
		return false, nil
	}
	entry.probeUntil = now.Add(ttl)
	m.entries[service] = entry
	return true, nil
}

func (m *MemoryBreakerStore) Reset(_ context.Context, service string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, service)
	return nil
}
