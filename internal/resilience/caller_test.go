package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"bookflow/internal/logging"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type countingObserver struct {
	tripped  int
	rejected int
}

func (o *countingObserver) BreakerTripped(string)  { o.tripped++ }
func (o *countingObserver) BreakerRejected(string) { o.rejected++ }

func newTestCaller(store BreakerStore, clock *fakeClock, observer Observer) *Caller {
	profiles := map[string]Profile{
		"svc": {
			IdempotencyHeader: "Idempotency-Key",
			MaxAttempts:       3,
			BaseDelay:         10 * time.Millisecond,
			MaxDelay:          40 * time.Millisecond,
			Multiplier:        2,
			Cooldown:          30 * time.Second,
			HalfOpenWindow:    time.Minute,
			ProbeTimeout:      5 * time.Second,
		},
	}
	opts := []CallerOption{
		WithLogger(logging.Nop()),
		WithClock(clock.Now),
		WithEntropy(func() string { return "abc123" }),
		WithSleep(func(context.Context, time.Duration) error { return nil }),
		WithJitter(func(d time.Duration) time.Duration { return d }),
	}
	if observer != nil {
		opts = append(opts, WithObserver(observer))
	}
	return NewCaller(store, profiles, opts...)
}

func TestCaller_SynthesizesIdempotencyKeyAndHeader(t *testing.T) {
	clock := &fakeClock{now: time.UnixMilli(1700000000123)}
	caller := newTestCaller(NewMemoryBreakerStore(clock.Now), clock, nil)

	var got Call
	err := caller.Call(context.Background(), "svc", func(_ context.Context, call Call) error {
		got = call
		return nil
	})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if got.IdempotencyKey != "svc-1700000000123-abc123" {
		t.Fatalf("unexpected key: %s", got.IdempotencyKey)
	}
	if got.Header.Get("Idempotency-Key") != got.IdempotencyKey {
		t.Fatalf("expected key under configured header, got %v", got.Header)
	}
	if got.Attempt != 1 {
		t.Fatalf("expected attempt 1, got %d", got.Attempt)
	}
}

func TestCaller_UsesSuppliedKeyAndServiceHeader(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	caller := NewCaller(NewMemoryBreakerStore(clock.Now), nil, WithLogger(logging.Nop()))

	var got Call
	err := caller.Booking().Call(context.Background(), func(_ context.Context, call Call) error {
		got = call
		return nil
	}, WithIdempotencyKey("K1"))
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if got.Header.Get("X-Idempotency-Key") != "K1" {
		t.Fatalf("expected booking header, got %v", got.Header)
	}
	if got.Service != ServiceBooking {
		t.Fatalf("unexpected service: %s", got.Service)
	}
}

func TestCaller_DoesNotRetryClientErrors(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	store := NewMemoryBreakerStore(clock.Now)
	caller := newTestCaller(store, clock, nil)

	for _, code := range []int{400, 401, 403, 404} {
		calls := 0
		err := caller.Call(context.Background(), "svc", func(context.Context, Call) error {
			calls++
			return statusErr(code)
		})
		if err == nil {
			t.Fatalf("expected error for %d", code)
		}
		if calls != 1 {
			t.Fatalf("status %d retried %d times", code, calls)
		}
	}
	if state, _ := store.State(context.Background(), "svc"); state != BreakerClosed {
		t.Fatalf("client errors must not trip the breaker, got %s", state)
	}
}

func TestCaller_RetriesRetryableUpToMax(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	caller := newTestCaller(NewMemoryBreakerStore(clock.Now), clock, nil)

	for _, code := range []int{408, 429, 500, 503} {
		calls := 0
		_ = caller.Call(context.Background(), "svc", func(context.Context, Call) error {
			calls++
			return statusErr(code)
		})
		if calls != 3 {
			t.Fatalf("status %d: expected 3 attempts, got %d", code, calls)
		}
		// Clear the trip caused by exhaustion before the next status.
		_ = caller.breakers.Reset(context.Background(), "svc")
	}
}

func TestCaller_OpensAfterExhaustionAndFailsFast(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	observer := &countingObserver{}
	caller := newTestCaller(NewMemoryBreakerStore(clock.Now), clock, observer)

	calls := 0
	failing := func(context.Context, Call) error {
		calls++
		return statusErr(503)
	}

	if err := caller.Call(context.Background(), "svc", failing); err == nil {
		t.Fatalf("expected failure")
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if observer.tripped != 1 {
		t.Fatalf("expected breaker trip, got %d", observer.tripped)
	}

	err := caller.Call(context.Background(), "svc", failing)
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected circuit open, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("operation invoked while open: %d calls", calls)
	}
	if observer.rejected != 1 {
		t.Fatalf("expected one rejection, got %d", observer.rejected)
	}
}

func TestCaller_HalfOpenAllowsExactlyOneProbe(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	store := NewMemoryBreakerStore(clock.Now)
	caller := newTestCaller(store, clock, nil)

	if err := store.Trip(context.Background(), "svc", 30*time.Second, time.Minute); err != nil {
		t.Fatalf("trip: %v", err)
	}
	clock.Advance(31 * time.Second)

	release := make(chan struct{})
	started := make(chan struct{})
	probeCalls := 0
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = caller.Call(context.Background(), "svc", func(context.Context, Call) error {
			probeCalls++
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	err := caller.Call(context.Background(), "svc", func(context.Context, Call) error {
		t.Errorf("second caller must not reach the dependency while probing")
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected fail fast during probe, got %v", err)
	}

	close(release)
	wg.Wait()
	if probeCalls != 1 {
		t.Fatalf("expected one probe, got %d", probeCalls)
	}
	if state, _ := store.State(context.Background(), "svc"); state != BreakerClosed {
		t.Fatalf("expected closed after successful probe, got %s", state)
	}
}

func TestCaller_FailedProbeReopens(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	store := NewMemoryBreakerStore(clock.Now)
	caller := newTestCaller(store, clock, nil)

	_ = store.Trip(context.Background(), "svc", 30*time.Second, time.Minute)
	clock.Advance(31 * time.Second)

	calls := 0
	err := caller.Call(context.Background(), "svc", func(context.Context, Call) error {
		calls++
		return statusErr(500)
	})
	if err == nil {
		t.Fatalf("expected probe failure")
	}
	if calls != 1 {
		t.Fatalf("probe must be a single attempt, got %d", calls)
	}
	if state, _ := store.State(context.Background(), "svc"); state != BreakerOpen {
		t.Fatalf("expected reopened breaker, got %s", state)
	}
}

func TestCaller_SuccessClearsState(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	store := NewMemoryBreakerStore(clock.Now)
	caller := newTestCaller(store, clock, nil)

	calls := 0
	err := caller.Call(context.Background(), "svc", func(context.Context, Call) error {
		calls++
		if calls < 3 {
			return statusErr(502)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if state, _ := store.State(context.Background(), "svc"); state != BreakerClosed {
		t.Fatalf("expected closed, got %s", state)
	}
}

type brokenStore struct{ *MemoryBreakerStore }

func (b *brokenStore) State(context.Context, string) (BreakerState, error) {
	return BreakerClosed, errors.New("redis down")
}

func TestCaller_ProceedsWhenBreakerStoreUnavailable(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	store := &brokenStore{MemoryBreakerStore: NewMemoryBreakerStore(clock.Now)}
	caller := newTestCaller(store, clock, nil)

	called := false
	if err := caller.Call(context.Background(), "svc", func(context.Context, Call) error {
		called = true
		return nil
	}); err != nil {
		t.Fatalf("call: %v", err)
	}
	if !called {
		t.Fatalf("expected operation to run")
	}
}

func TestCaller_UnknownServiceUsesDefaultProfile(t *testing.T) {
	caller := NewCaller(nil, nil, WithLogger(logging.Nop()))
	if caller.Profile("inventory").MaxAttempts != DefaultProfile.MaxAttempts {
		t.Fatalf("expected default profile")
	}
	key := caller.IdempotencyKey("inventory")
	if !strings.HasPrefix(key, "inventory-") || len(strings.Split(key, "-")) != 3 {
		t.Fatalf("unexpected synthesized key: %s", key)
	}
}

func TestCaller_RetriesClientTimeoutAndTrips(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(200 * time.Millisecond):
		}
	}))
	t.Cleanup(slow.Close)

	clock := &fakeClock{now: time.Now()}
	observer := &countingObserver{}
	caller := newTestCaller(NewMemoryBreakerStore(clock.Now), clock, observer)
	client := &http.Client{Timeout: 20 * time.Millisecond}

	calls := 0
	err := caller.Call(context.Background(), "svc", func(ctx context.Context, call Call) error {
		calls++
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, slow.URL, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		return fmt.Errorf("unexpected response %d", resp.StatusCode)
	})
	if err == nil || !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected client timeout, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	if observer.tripped != 1 {
		t.Fatalf("expected breaker trip, got %d", observer.tripped)
	}
	if err := caller.Call(context.Background(), "svc", func(context.Context, Call) error { return nil }); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected circuit open after timeouts, got %v", err)
	}
}

func TestCaller_StopsWhenCallerContextExpires(t *testing.T) {
	clock := &fakeClock{now: time.Now()}
	observer := &countingObserver{}
	store := NewMemoryBreakerStore(clock.Now)
	caller := newTestCaller(store, clock, observer)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	calls := 0
	err := caller.Call(ctx, "svc", func(ctx context.Context, call Call) error {
		calls++
		<-ctx.Done()
		return ctx.Err()
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
	if observer.tripped != 0 {
		t.Fatalf("caller deadline must not trip the breaker, got %d trips", observer.tripped)
	}
	state, err := store.State(context.Background(), "svc")
	if err != nil {
		t.Fatalf("state: %v", err)
	}
	if state != BreakerClosed {
		t.Fatalf("expected closed breaker, got %v", state)
	}
}
