// Package flags reads feature flags at call time.
package flags

import (
	"context"
	"os"
	"strconv"
	"strings"
	"sync"
)

// LivePayments routes the payment step to the real provider instead of the
// deterministic stub.
const LivePayments = "live-payments"

// Source reports whether a flag is enabled. Unknown flags are off.
type Source interface {
	Enabled(ctx context.Context, name string) bool
}

// EnvSource reads FLAG_<NAME> on every call, so toggling needs no restart.
type EnvSource struct {
	lookup func(string) (string, bool)
}

// NewEnvSource constructs an EnvSource over the process environment.
func NewEnvSource() *EnvSource {
	return &EnvSource{lookup: os.LookupEnv}
}

// EnvName maps "live-payments" to FLAG_LIVE_PAYMENTS.
func EnvName(name string) string {
	return "FLAG_" + strings.ToUpper(strings.NewReplacer("-", "_", ".", "_").Replace(name))
}

func (s *EnvSource) Enabled(_ context.Context, name string) bool {
	raw, ok := s.lookup(EnvName(name))
	if !ok {
		return false
	}
	enabled, err := strconv.ParseBool(strings.TrimSpace(raw))
	return err == nil && enabled
}

// Static is a mutable in-memory Source.
type Static struct {
	mu    sync.RWMutex
	flags map[string]bool
}

// NewStatic constructs a Static source with the given initial values.
func NewStatic(initial map[string]bool) *Static {
	flags := make(map[string]bool, len(initial))
	for k, v := range initial {
		flags[k] = v
	}
	return &Static{flags: flags}
}

func (s *Static) Enabled(_ context.Context, name string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flags[name]
}

// Set toggles a flag.
func (s *Static) Set(name string, enabled bool) {
	s.mu.Lock()
	s.flags[name] = enabled
	s.mu.Unlock()
}
