package resilience

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeProfiles(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write profiles: %v", err)
	}
	return path
}

func TestLoadProfiles_EmptyPathReturnsDefaults(t *testing.T) {
	profiles, err := LoadProfiles("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if profiles[ServiceBooking].IdempotencyHeader != "X-Idempotency-Key" {
		t.Fatalf("unexpected booking header: %s", profiles[ServiceBooking].IdempotencyHeader)
	}
	if profiles[ServiceOrchestrator].IdempotencyHeader != "X-Client-Token" {
		t.Fatalf("unexpected orchestrator header: %s", profiles[ServiceOrchestrator].IdempotencyHeader)
	}
}

func TestLoadProfiles_MergesOverDefaults(t *testing.T) {
	path := writeProfiles(t, `
services:
  payments:
    max_attempts: 6
    base_delay: 50ms
  inventory:
    idempotency_header: X-Request-Id
    cooldown: 1m
    rate_limit_interval: 100ms
    rate_limit_burst: 5
`)
	profiles, err := LoadProfiles(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	payments := profiles[ServicePayments]
	if payments.MaxAttempts != 6 || payments.BaseDelay != 50*time.Millisecond {
		t.Fatalf("override not applied: %+v", payments)
	}
	if payments.IdempotencyHeader != "Idempotency-Key" || payments.MaxDelay != 2*time.Second {
		t.Fatalf("defaults not inherited: %+v", payments)
	}
	inventory := profiles["inventory"]
	if inventory.IdempotencyHeader != "X-Request-Id" || inventory.Cooldown != time.Minute {
		t.Fatalf("unexpected inventory profile: %+v", inventory)
	}
	if inventory.MaxAttempts != DefaultProfile.MaxAttempts {
		t.Fatalf("expected default attempts, got %d", inventory.MaxAttempts)
	}
	if inventory.RateLimitBurst != 5 {
		t.Fatalf("expected burst 5, got %d", inventory.RateLimitBurst)
	}
}

func TestLoadProfiles_RejectsInvalid(t *testing.T) {
	path := writeProfiles(t, `
services:
  payments:
    multiplier: 0.5
`)
	if _, err := LoadProfiles(path); err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestLoadProfiles_MissingFile(t *testing.T) {
	if _, err := LoadProfiles(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected read error")
	}
}

func TestLoadProfiles_MalformedYAML(t *testing.T) {
	path := writeProfiles(t, "services: [oops")
	if _, err := LoadProfiles(path); err == nil {
		t.Fatalf("expected parse error")
	}
}
