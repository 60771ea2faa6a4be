package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEnvStore(t *testing.T) {
	store := &EnvStore{Prefix: "SECRET_", lookup: func(key string) (string, bool) {
		if key == "SECRET_WEBHOOK_BOOKING_CONFIRMATION" {
			return "s3cr3t", true
		}
		return "", false
	}}

	got, err := store.Get(context.Background(), "webhook/booking-confirmation")
	if err != nil || got != "s3cr3t" {
		t.Fatalf("unexpected result %q err=%v", got, err)
	}
	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestEnvStore_ReadsProcessEnv(t *testing.T) {
	t.Setenv("SECRET_PAYMENTS_API_KEY", "sk_test")
	got, err := NewEnvStore().Get(context.Background(), "payments.api-key")
	if err != nil || got != "sk_test" {
		t.Fatalf("unexpected result %q err=%v", got, err)
	}
}

func TestFileStore(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "webhook"), 0o700); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "webhook", "secret"), []byte("abc\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	store := NewFileStore(dir)

	got, err := store.Get(context.Background(), "webhook/secret")
	if err != nil || got != "abc" {
		t.Fatalf("unexpected result %q err=%v", got, err)
	}
	if _, err := store.Get(context.Background(), "webhook/none"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := store.Get(context.Background(), "../etc/passwd"); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected invalid name error, got %v", err)
	}
}

type countingStore struct {
	calls int
	value string
	err   error
}

func (c *countingStore) Get(context.Context, string) (string, error) {
	c.calls++
	return c.value, c.err
}

func TestCachedStore(t *testing.T) {
	base := &countingStore{value: "v1"}
	now := time.Unix(1700000000, 0)
	store := NewCachedStore(base, time.Minute)
	store.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if got, _ := store.Get(context.Background(), "k"); got != "v1" {
			t.Fatalf("unexpected value %q", got)
		}
	}
	if base.calls != 1 {
		t.Fatalf("expected one backend call, got %d", base.calls)
	}

	base.value = "v2"
	now = now.Add(2 * time.Minute)
	if got, _ := store.Get(context.Background(), "k"); got != "v2" {
		t.Fatalf("expected refreshed value, got %q", got)
	}
}

func TestCachedStore_DoesNotCacheFailures(t *testing.T) {
	base := &countingStore{err: ErrNotFound}
	store := NewCachedStore(base, time.Minute)
	_, _ = store.Get(context.Background(), "k")
	_, _ = store.Get(context.Background(), "k")
	if base.calls != 2 {
		t.Fatalf("expected failures to reach backend each time, got %d", base.calls)
	}
}

func TestNew(t *testing.T) {
	if _, err := New("file", "", time.Minute); err == nil {
		t.Fatalf("expected error without dir")
	}
	if _, err := New("vault", "", time.Minute); err == nil {
		t.Fatalf("expected unknown backend error")
	}
	if _, err := New("env", "", 0); err != nil {
		t.Fatalf("env backend: %v", err)
	}
}
