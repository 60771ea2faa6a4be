// Package secrets resolves named secrets at call time from a parameter store.
// Values are never logged.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ErrNotFound signals the named secret does not exist.
var ErrNotFound = errors.New("secret not found")

// Store resolves a secret by name.
type Store interface {
	Get(ctx context.Context, name string) (string, error)
}

// EnvStore reads secrets from environment variables. The name
// "webhook/booking-confirmation" maps to SECRET_WEBHOOK_BOOKING_CONFIRMATION.
type EnvStore struct {
	Prefix string
	lookup func(string) (string, bool)
}

// NewEnvStore constructs an EnvStore with the default SECRET_ prefix.
func NewEnvStore() *EnvStore {
	return &EnvStore{Prefix: "SECRET_", lookup: os.LookupEnv}
}

// EnvName returns the variable name a secret is read from.
func (s *EnvStore) EnvName(name string) string {
	var b strings.Builder
	b.WriteString(s.Prefix)
	for _, r := range strings.ToUpper(name) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			continue
		}
		b.WriteByte('_')
	}
	return b.String()
}

func (s *EnvStore) Get(_ context.Context, name string) (string, error) {
	lookup := s.lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	value, ok := lookup(s.EnvName(name))
	if !ok || value == "" {
		return "", fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return value, nil
}

// FileStore reads each secret from a file named after it under Dir, the
// layout used by mounted secret volumes.
type FileStore struct {
	Dir string
}

// NewFileStore constructs a FileStore rooted at dir.
func NewFileStore(dir string) *FileStore {
	return &FileStore{Dir: dir}
}

func (s *FileStore) Get(_ context.Context, name string) (string, error) {
	if name == "" || filepath.IsAbs(name) || strings.Contains(name, "..") {
		return "", fmt.Errorf("invalid secret name %q", name)
	}
	data, err := os.ReadFile(filepath.Join(s.Dir, filepath.FromSlash(name)))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return "", fmt.Errorf("read secret %s: %w", name, err)
	}
	value := strings.TrimRight(string(data), "\r\n")
	if value == "" {
		return "", fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return value, nil
}

type cachedSecret struct {
	value   string
	expires time.Time
}

// CachedStore memoizes successful lookups for TTL so rotation is picked up
// without a restart. Failures are not cached.
type CachedStore struct {
	next Store
	ttl  time.Duration
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]cachedSecret
}

// NewCachedStore wraps next. A non-positive ttl disables caching.
func NewCachedStore(next Store, ttl time.Duration) *CachedStore {
	return &CachedStore{next: next, ttl: ttl, now: time.Now, entries: make(map[string]cachedSecret)}
}

func (s *CachedStore) Get(ctx context.Context, name string) (string, error) {
	if s.ttl <= 0 {
		return s.next.Get(ctx, name)
	}
	now := s.now()
	s.mu.Lock()
	entry, ok := s.entries[name]
	s.mu.Unlock()
	if ok && now.Before(entry.expires) {
		return entry.value, nil
	}

	value, err := s.next.Get(ctx, name)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.entries[name] = cachedSecret{value: value, expires: now.Add(s.ttl)}
	s.mu.Unlock()
	return value, nil
}

// Static is a fixed in-memory Store.
type Static map[string]string

func (s Static) Get(_ context.Context, name string) (string, error) {
	value, ok := s[name]
	if !ok || value == "" {
		return "", fmt.Errorf("%s: %w", name, ErrNotFound)
	}
	return value, nil
}

// New builds the store for backend ("env" or "file") wrapped in a cache.
func New(backend, dir string, ttl time.Duration) (Store, error) {
	var base Store
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", "env":
		base = NewEnvStore()
	case "file":
		if dir == "" {
			return nil, errors.New("SECRETS_DIR is required for the file backend")
		}
		base = NewFileStore(dir)
	default:
		return nil, fmt.Errorf("unknown secrets backend %q", backend)
	}
	return NewCachedStore(base, ttl), nil
}
