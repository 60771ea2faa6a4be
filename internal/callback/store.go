// Package callback keeps the orchestrator's continuation handles for suspended
// sagas and resumes the orchestrator when the external event arrives.
package callback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"bookflow/internal/saga"
)

// Store persists at most one pending callback per correlation id. Take
// removes and returns it atomically, so exactly one caller observes it.
type Store interface {
	Put(ctx context.Context, cb saga.PendingCallback, ttl time.Duration) error
	Get(ctx context.Context, correlationID string) (saga.PendingCallback, error)
	Take(ctx context.Context, correlationID string) (saga.PendingCallback, error)
}

type storedCallback struct {
	ContinuationToken string          `json:"continuationToken"`
	Payload           json.RawMessage `json:"payload,omitempty"`
	CreatedAt         time.Time       `json:"createdAt"`
}

// RedisStore keeps pending callbacks as JSON strings under <prefix>:<id>.
type RedisStore struct {
	client redis.Cmdable
	prefix string
}

// NewRedisStore constructs a Redis-backed Store.
func NewRedisStore(client redis.Cmdable, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "callback"
	}
	return &RedisStore{client: client, prefix: prefix}
}

func (s *RedisStore) key(correlationID string) string {
	return s.prefix + ":" + correlationID
}

// Put stores cb, replacing any previous handle. A zero ttl never expires.
func (s *RedisStore) Put(ctx context.Context, cb saga.PendingCallback, ttl time.Duration) error {
	if s.client == nil {
		return errors.New("redis callback store: nil client")
	}
	data, err := json.Marshal(storedCallback{
		ContinuationToken: cb.ContinuationToken,
		Payload:           rawPayload(cb.Payload),
		CreatedAt:         cb.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("encode callback: %w", err)
	}
	return s.client.Set(ctx, s.key(cb.CorrelationID), data, ttl).Err()
}

func (s *RedisStore) Get(ctx context.Context, correlationID string) (saga.PendingCallback, error) {
	if s.client == nil {
		return saga.PendingCallback{}, errors.New("redis callback store: nil client")
	}
	raw, err := s.client.Get(ctx, s.key(correlationID)).Bytes()
	return s.decode(correlationID, raw, err)
}

func (s *RedisStore) Take(ctx context.Context, correlationID string) (saga.PendingCallback, error) {
	if s.client == nil {
		return saga.PendingCallback{}, errors.New("redis callback store: nil client")
	}
	raw, err := s.client.GetDel(ctx, s.key(correlationID)).Bytes()
	return s.decode(correlationID, raw, err)
}

func (s *RedisStore) decode(correlationID string, raw []byte, err error) (saga.PendingCallback, error) {
	if errors.Is(err, redis.Nil) {
		return saga.PendingCallback{}, saga.ErrCallbackNotFound
	}
	if err != nil {
		return saga.PendingCallback{}, err
	}
	var stored storedCallback
	if err := json.Unmarshal(raw, &stored); err != nil {
		return saga.PendingCallback{}, fmt.Errorf("decode callback %s: %w", correlationID, err)
	}
	return saga.PendingCallback{
		CorrelationID:     correlationID,
		ContinuationToken: stored.ContinuationToken,
		Payload:           []byte(stored.Payload),
		CreatedAt:         stored.CreatedAt,
	}, nil
}

func rawPayload(p []byte) json.RawMessage {
	if len(p) == 0 {
		return nil
	}
	if json.Valid(p) {
		return json.RawMessage(p)
	}
	quoted, _ := json.Marshal(string(p))
	return quoted
}

type memoryEntry struct {
	cb      saga.PendingCallback
	expires time.Time
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]memoryEntry
}

// NewMemoryStore constructs a MemoryStore. A nil now uses time.Now.
func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{now: now, entries: make(map[string]memoryEntry)}
}

func (s *MemoryStore) Put(_ context.Context, cb saga.PendingCallback, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := memoryEntry{cb: cb}
	if ttl > 0 {
		entry.expires = s.now().Add(ttl)
	}
	s.entries[cb.CorrelationID] = entry
	return nil
}

func (s *MemoryStore) Get(_ context.Context, correlationID string) (saga.PendingCallback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.live(correlationID)
	if !ok {
		return saga.PendingCallback{}, saga.ErrCallbackNotFound
	}
	return entry.cb, nil
}

func (s *MemoryStore) Take(_ context.Context, correlationID string) (saga.PendingCallback, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.live(correlationID)
	if !ok {
		return saga.PendingCallback{}, saga.ErrCallbackNotFound
	}
	delete(s.entries, correlationID)
	return entry.cb, nil
}

func (s *MemoryStore) live(correlationID string) (memoryEntry, bool) {
	entry, ok := s.entries[correlationID]
	if !ok {
		return memoryEntry{}, false
	}
	if !entry.expires.IsZero() && !s.now().Before(entry.expires) {
		delete(s.entries, correlationID)
		return memoryEntry{}, false
	}
	return entry, true
}
