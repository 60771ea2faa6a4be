package main

import (
	"context"
	"errors"
	"testing"
	"time"

	"bookflow/internal/logging"
	"bookflow/internal/observability"
	"bookflow/internal/resilience"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

type stubLimiter struct {
	calls int
	err   error
}

func (s *stubLimiter) Wait(ctx context.Context) error {
	s.calls++
	return s.err
}

type stubServerStream struct {
	ctx       context.Context
	recvCalls int
	recvErr   error
}

func (s *stubServerStream) Context() context.Context { return s.ctx }
func (s *stubServerStream) RecvMsg(m any) error {
	s.recvCalls++
	return s.recvErr
}
func (s *stubServerStream) SendMsg(m any) error { return nil }
func (s *stubServerStream) SetHeader(md metadata.MD) error {
	return nil
}
func (s *stubServerStream) SendHeader(md metadata.MD) error {
	return nil
}
func (s *stubServerStream) SetTrailer(md metadata.MD) {}

func TestRateLimitUnaryInterceptor_CallsLimiter(t *testing.T) {
	limiter := &stubLimiter{}
	interceptor := rateLimitUnaryInterceptor(limiter, nil, logging.Nop())

	_, err := interceptor(context.Background(), "req", &grpc.UnaryServerInfo{}, func(ctx context.Context, req any) (any, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if limiter.calls != 1 {
		t.Fatalf("expected limiter to be called once, got %d", limiter.calls)
	}
}

func TestRateLimitUnaryInterceptor_LimiterErrorSkipsHandler(t *testing.T) {
	limiter := &stubLimiter{err: context.Canceled}
	interceptor := rateLimitUnaryInterceptor(limiter, nil, logging.Nop())

	called := false
	_, err := interceptor(context.Background(), "req", &grpc.UnaryServerInfo{FullMethod: "/svc/M"}, func(ctx context.Context, req any) (any, error) {
		called = true
		return nil, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected limiter error, got %v", err)
	}
	if called {
		t.Fatalf("handler should not run when the limiter fails")
	}
}

func TestRateLimitUnaryInterceptor_TracksNonStepMethods(t *testing.T) {
	metrics := observability.NewMetrics()
	interceptor := rateLimitUnaryInterceptor(nil, metrics, logging.Nop())
	ok := func(ctx context.Context, req any) (any, error) { return "ok", nil }

	for _, method := range []string{"/admin.Ops/Drain", "/bookflow.saga.v1.StepService/Invoke", "/grpc.health.v1.Health/Check"} {
		if _, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: method}, ok); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	snap := metrics.Snapshot()
	if len(snap.Steps) != 1 || snap.Steps["/admin.Ops/Drain"].Count != 1 {
		t.Fatalf("expected only the admin method to be tracked, got %+v", snap.Steps)
	}
}

func TestRateLimitedServerStream_RecvMsgCallsLimiter(t *testing.T) {
	limiter := &stubLimiter{}
	stream := &stubServerStream{ctx: context.Background()}
	wrapped := &rateLimitedServerStream{
		ServerStream: stream,
		limiter:      limiter,
	}

	if err := wrapped.RecvMsg(&struct{}{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if limiter.calls != 1 {
		t.Fatalf("expected limiter to be called once, got %d", limiter.calls)
	}
	if stream.recvCalls != 1 {
		t.Fatalf("expected recv to be called once, got %d", stream.recvCalls)
	}
}

func TestRateLimitStreamInterceptor_WrapsStream(t *testing.T) {
	limiter := &stubLimiter{}
	interceptor := rateLimitStreamInterceptor(limiter, logging.Nop())
	stream := &stubServerStream{ctx: context.Background()}

	err := interceptor(nil, stream, &grpc.StreamServerInfo{FullMethod: "/svc/Stream"}, func(srv any, ss grpc.ServerStream) error {
		return ss.RecvMsg(&struct{}{})
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if limiter.calls != 1 || stream.recvCalls != 1 {
		t.Fatalf("expected one limited recv, got limiter=%d recv=%d", limiter.calls, stream.recvCalls)
	}
}

func TestIngressLimiterReportsWaits(t *testing.T) {
	metrics := observability.NewMetrics()
	limiter := resilience.NewRateLimiter(time.Hour, 1).OnWait(metrics.AddRateLimitWait)

	if err := limiter.Wait(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := limiter.Wait(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if snap := metrics.Snapshot(); snap.RateLimitWaits == 0 {
		t.Fatalf("expected the second wait to be recorded")
	}
}
