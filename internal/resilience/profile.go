package resilience

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Well-known dependencies.
const (
	ServicePayments     = "payments"
	ServiceBooking      = "booking"
	ServiceOrchestrator = "orchestrator"
)

// Profile is the per-service call configuration, including the header the
// downstream service expects the idempotency key under.
type Profile struct {
	IdempotencyHeader string        `yaml:"idempotency_header"`
	MaxAttempts       int           `yaml:"max_attempts"`
	BaseDelay         time.Duration `yaml:"base_delay"`
	MaxDelay          time.Duration `yaml:"max_delay"`
	Multiplier        float64       `yaml:"multiplier"`
	Cooldown          time.Duration `yaml:"cooldown"`
	HalfOpenWindow    time.Duration `yaml:"half_open_window"`
	ProbeTimeout      time.Duration `yaml:"probe_timeout"`
	RateLimitInterval time.Duration `yaml:"rate_limit_interval"`
	RateLimitBurst    int           `yaml:"rate_limit_burst"`
}

// DefaultProfile applies to services without an explicit profile.
var DefaultProfile = Profile{
	IdempotencyHeader: "Idempotency-Key",
	MaxAttempts:       3,
	BaseDelay:         100 * time.Millisecond,
	MaxDelay:          time.Second,
	Multiplier:        2,
	Cooldown:          30 * time.Second,
	HalfOpenWindow:    5 * time.Minute,
	ProbeTimeout:      10 * time.Second,
}

// DefaultProfiles returns the built-in profiles for well-known dependencies.
func DefaultProfiles() map[string]Profile {
	return map[string]Profile{
		ServicePayments: {
			IdempotencyHeader: "Idempotency-Key",
			MaxAttempts:       3,
			BaseDelay:         200 * time.Millisecond,
			MaxDelay:          2 * time.Second,
			Multiplier:        2,
			Cooldown:          30 * time.Second,
			HalfOpenWindow:    5 * time.Minute,
			ProbeTimeout:      10 * time.Second,
		},
		ServiceBooking: {
			IdempotencyHeader: "X-Idempotency-Key",
			MaxAttempts:       4,
			BaseDelay:         100 * time.Millisecond,
			MaxDelay:          time.Second,
			Multiplier:        2,
			Cooldown:          15 * time.Second,
			HalfOpenWindow:    5 * time.Minute,
			ProbeTimeout:      5 * time.Second,
		},
		ServiceOrchestrator: {
			IdempotencyHeader: "X-Client-Token",
			MaxAttempts:       5,
			BaseDelay:         50 * time.Millisecond,
			MaxDelay:          2 * time.Second,
			Multiplier:        3,
			Cooldown:          10 * time.Second,
			HalfOpenWindow:    time.Minute,
			ProbeTimeout:      5 * time.Second,
		},
	}
}

type profileFile struct {
	Services map[string]Profile `yaml:"services"`
}

// LoadProfiles reads a YAML profile file and layers it over the defaults.
// Unset fields inherit from the service's default, or DefaultProfile.
// An empty path returns the defaults.
func LoadProfiles(path string) (map[string]Profile, error) {
	profiles := DefaultProfiles()
	if path == "" {
		return profiles, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read service profiles: %w", err)
	}
	var file profileFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse service profiles: %w", err)
	}
	for name, p := range file.Services {
		base, ok := profiles[name]
		if !ok {
			base = DefaultProfile
		}
		merged := p.withDefaults(base)
		if err := merged.Validate(); err != nil {
			return nil, fmt.Errorf("service %q: %w", name, err)
		}
		profiles[name] = merged
	}
	return profiles, nil
}

// Validate rejects nonsensical profiles.
func (p Profile) Validate() error {
	switch {
	case p.MaxAttempts < 1:
		return errors.New("max_attempts must be >= 1")
	case p.BaseDelay < 0 || p.MaxDelay < 0:
		return errors.New("delays must be >= 0")
	case p.Multiplier < 1:
		return errors.New("multiplier must be >= 1")
	case p.Cooldown <= 0:
		return errors.New("cooldown must be > 0")
	case p.RateLimitBurst < 0 || p.RateLimitInterval < 0:
		return errors.New("rate limit must be >= 0")
	}
	return nil
}

func (p Profile) withDefaults(base Profile) Profile {
	if p.IdempotencyHeader == "" {
		p.IdempotencyHeader = base.IdempotencyHeader
	}
	if p.MaxAttempts == 0 {
		p.MaxAttempts = base.MaxAttempts
	}
	if p.BaseDelay == 0 {
		p.BaseDelay = base.BaseDelay
	}
	if p.MaxDelay == 0 {
		p.MaxDelay = base.MaxDelay
	}
	if p.Multiplier == 0 {
		p.Multiplier = base.Multiplier
	}
	if p.Cooldown == 0 {
		p.Cooldown = base.Cooldown
	}
	if p.HalfOpenWindow == 0 {
		p.HalfOpenWindow = base.HalfOpenWindow
	}
	if p.ProbeTimeout == 0 {
		p.ProbeTimeout = base.ProbeTimeout
	}
	if p.RateLimitInterval == 0 {
		p.RateLimitInterval = base.RateLimitInterval
	}
	if p.RateLimitBurst == 0 {
		p.RateLimitBurst = base.RateLimitBurst
	}
	return p
}
