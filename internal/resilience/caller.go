// Package resilience wraps outbound dependency calls with a shared circuit
// breaker, bounded exponential-backoff retry, error classification and
// idempotency-key plumbing.
package resilience

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Call describes one attempt of an outbound operation.
type Call struct {
	Service        string
	Attempt        int
	IdempotencyKey string
	// Header carries the idempotency key under the service's configured name.
	Header http.Header
}

// Operation is the caller's actual dependency call.
type Operation func(ctx context.Context, call Call) error

// Observer receives breaker events. observability.Metrics implements it.
type Observer interface {
	BreakerTripped(service string)
	BreakerRejected(service string)
}

// Caller runs operations under each service's profile.
type Caller struct {
	breakers BreakerStore
	profiles map[string]Profile
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
	entropy  func() string
	sleep    func(context.Context, time.Duration) error
	jitter   func(time.Duration) time.Duration

	mu       sync.Mutex
	limiters map[string]*RateLimiter
}

// CallerOption configures a Caller.
type CallerOption func(*Caller)

func WithLogger(logger *slog.Logger) CallerOption {
	return func(c *Caller) { c.logger = logger }
}

func WithObserver(observer Observer) CallerOption {
	return func(c *Caller) { c.observer = observer }
}

func WithClock(now func() time.Time) CallerOption {
	return func(c *Caller) { c.now = now }
}

func WithEntropy(entropy func() string) CallerOption {
	return func(c *Caller) { c.entropy = entropy }
}

func WithSleep(sleep func(context.Context, time.Duration) error) CallerOption {
	return func(c *Caller) { c.sleep = sleep }
}

func WithJitter(jitter func(time.Duration) time.Duration) CallerOption {
	return func(c *Caller) { c.jitter = jitter }
}

// NewCaller constructs a Caller. A nil profiles map uses DefaultProfiles.
func NewCaller(breakers BreakerStore, profiles map[string]Profile, opts ...CallerOption) *Caller {
	if breakers == nil {
		breakers = NewMemoryBreakerStore(nil)
	}
	if profiles == nil {
		profiles = DefaultProfiles()
	}
	c := &Caller{
		breakers: breakers,
		profiles: profiles,
		logger:   slog.Default(),
		now:      time.Now,
		entropy:  defaultEntropy,
		limiters: make(map[string]*RateLimiter),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type callOptions struct {
	idempotencyKey string
	shouldRetry    func(error, int) bool
	maxAttempts    int
}

// CallOption tunes a single call.
type CallOption func(*callOptions)

// WithIdempotencyKey supplies the key instead of synthesizing one.
func WithIdempotencyKey(key string) CallOption {
	return func(o *callOptions) { o.idempotencyKey = key }
}

// WithShouldRetry replaces the retry predicate for one call.
func WithShouldRetry(fn func(err error, attempt int) bool) CallOption {
	return func(o *callOptions) { o.shouldRetry = fn }
}

// WithMaxAttempts overrides the profile's attempt budget for one call.
func WithMaxAttempts(n int) CallOption {
	return func(o *callOptions) { o.maxAttempts = n }
}

// Profile returns the effective profile for service.
func (c *Caller) Profile(service string) Profile {
	if p, ok := c.profiles[service]; ok {
		return p
	}
	return DefaultProfile
}

// Call runs op against service. An open breaker fails fast with
// ErrCircuitOpen without invoking op. A half-open breaker lets exactly one
// caller through for a single probe attempt. Once ctx is done no further
// attempt is made and the breaker is left untouched.
func (c *Caller) Call(ctx context.Context, service string, op Operation, opts ...CallOption) error {
	if ctx == nil {
		ctx = context.Background()
	}
	profile := c.Profile(service)
	co := callOptions{
		shouldRetry: func(err error, _ int) bool { return Retryable(err) },
		maxAttempts: profile.MaxAttempts,
	}
	for _, opt := range opts {
		opt(&co)
	}

	key := co.idempotencyKey
	if key == "" {
		key = c.IdempotencyKey(service)
	}
	header := http.Header{}
	if profile.IdempotencyHeader != "" {
		header.Set(profile.IdempotencyHeader, key)
	}
	call := Call{Service: service, IdempotencyKey: key, Header: header}

	state, err := c.breakers.State(ctx, service)
	if err != nil {
		c.logger.WarnContext(ctx, "breaker state unavailable, proceeding closed", "service", service, "error", err)
		state = BreakerClosed
	}

	switch state {
	case BreakerOpen:
		c.reject(ctx, service)
		return fmt.Errorf("%s: %w", service, ErrCircuitOpen)
	case BreakerHalfOpen:
		acquired, err := c.breakers.AcquireProbe(ctx, service, profile.ProbeTimeout)
		if err != nil || !acquired {
			c.reject(ctx, service)
			return fmt.Errorf("%s: %w", service, ErrCircuitOpen)
		}
		call.Attempt = 1
		err = c.attempt(ctx, profile, service, op, call)
		switch {
		case err == nil:
			c.reset(ctx, service)
		case ctx.Err() != nil:
			// The caller gave up; the probe lease expires on its own.
		case co.shouldRetry(err, 1):
			c.trip(ctx, service, profile, err)
		default:
			// The dependency answered; a client-side rejection still proves it is up.
			c.reset(ctx, service)
		}
		return err
	}

	policy := RetryPolicy{
		MaxAttempts: co.maxAttempts,
		BaseDelay:   profile.BaseDelay,
		MaxDelay:    profile.MaxDelay,
		Multiplier:  profile.Multiplier,
		Jitter:      c.jitter,
		Sleep:       c.sleep,
		ShouldRetry: co.shouldRetry,
	}
	attempts, err := policy.Do(ctx, func(attempt int) error {
		call.Attempt = attempt
		err := c.attempt(ctx, profile, service, op, call)
		if err != nil {
			c.logger.DebugContext(ctx, "outbound attempt failed", "service", service, "attempt", attempt, "error", err)
		}
		return err
	})
	if err == nil {
		c.reset(ctx, service)
		return nil
	}
	if ctx.Err() == nil && attempts >= policy.MaxAttempts && co.shouldRetry(err, attempts) {
		c.trip(ctx, service, profile, err)
	}
	return err
}

// IdempotencyKey synthesizes {service}-{unixMillis}-{entropy}.
func (c *Caller) IdempotencyKey(service string) string {
	return fmt.Sprintf("%s-%d-%s", service, c.now().UnixMilli(), c.entropy())
}

func (c *Caller) attempt(ctx context.Context, profile Profile, service string, op Operation, call Call) error {
	if limiter := c.limiter(service, profile); limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return op(ctx, call)
}

func (c *Caller) limiter(service string, profile Profile) *RateLimiter {
	if profile.RateLimitInterval <= 0 || profile.RateLimitBurst <= 0 {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	limiter, ok := c.limiters[service]
	if !ok {
		limiter = NewRateLimiter(profile.RateLimitInterval, profile.RateLimitBurst)
		c.limiters[service] = limiter
	}
	return limiter
}

func (c *Caller) trip(ctx context.Context, service string, profile Profile, cause error) {
	if err := c.breakers.Trip(ctx, service, profile.Cooldown, profile.HalfOpenWindow); err != nil {
		c.logger.ErrorContext(ctx, "breaker trip failed", "service", service, "error", err)
		return
	}
	c.logger.WarnContext(ctx, "circuit opened", "service", service, "cooldown", profile.Cooldown.String(), "error", cause)
	if c.observer != nil {
		c.observer.BreakerTripped(service)
	}
}

func (c *Caller) reset(ctx context.Context, service string) {
	if err := c.breakers.Reset(ctx, service); err != nil {
		c.logger.WarnContext(ctx, "breaker reset failed", "service", service, "error", err)
	}
}

func (c *Caller) reject(ctx context.Context, service string) {
	c.logger.InfoContext(ctx, "circuit open, failing fast", "service", service)
	if c.observer != nil {
		c.observer.BreakerRejected(service)
	}
}

// Client binds a Caller to one service.
type Client struct {
	caller  *Caller
	service string
}

// For returns a Client for an arbitrary service.
func (c *Caller) For(service string) *Client {
	return &Client{caller: c, service: service}
}

// Payments returns the preconfigured payment provider client.
func (c *Caller) Payments() *Client { return c.For(ServicePayments) }

// Booking returns the preconfigured booking provider client.
func (c *Caller) Booking() *Client { return c.For(ServiceBooking) }

// Orchestrator returns the preconfigured workflow engine client.
func (c *Caller) Orchestrator() *Client { return c.For(ServiceOrchestrator) }

// Service returns the bound service name.
func (c *Client) Service() string { return c.service }

// Call runs op against the bound service.
func (c *Client) Call(ctx context.Context, op Operation, opts ...CallOption) error {
	return c.caller.Call(ctx, c.service, op, opts...)
}

func defaultEntropy() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}
