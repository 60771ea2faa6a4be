package main

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"bookflow/internal/observability"
	"bookflow/internal/saga"

	"google.golang.org/grpc"
)

type rateLimiter interface {
	Wait(ctx context.Context) error
}

type rateLimitedServerStream struct {
	grpc.ServerStream
	limiter rateLimiter
}

func (s *rateLimitedServerStream) RecvMsg(m any) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(s.Context()); err != nil {
			return err
		}
	}
	return s.ServerStream.RecvMsg(m)
}

// rateLimitUnaryInterceptor throttles ingress and logs failed calls. Step
// latency is recorded by the dispatcher, so only non-step methods open a span.
func rateLimitUnaryInterceptor(limiter rateLimiter, metrics *observability.Metrics, logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		span := &observability.Span{}
		start := time.Now()
		if metrics != nil && shouldTrackMethod(info.FullMethod) {
			span = metrics.Start(info.FullMethod)
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				span.End(err)
				return nil, err
			}
		}
		resp, err := handler(ctx, req)
		span.End(err)
		if err != nil && logger != nil && info.FullMethod != "" {
			logger.WarnContext(ctx, "grpc unary call failed",
				"method", info.FullMethod,
				"duration_ms", time.Since(start).Milliseconds(),
				"error_name", saga.ErrorName(err),
				"error", err)
		}
		return resp, err
	}
}

func rateLimitStreamInterceptor(limiter rateLimiter, logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, stream grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		if limiter != nil {
			stream = &rateLimitedServerStream{ServerStream: stream, limiter: limiter}
		}
		err := handler(srv, stream)
		if err != nil && logger != nil && shouldTrackMethod(info.FullMethod) {
			logger.WarnContext(stream.Context(), "grpc stream failed",
				"method", info.FullMethod,
				"duration_ms", time.Since(start).Milliseconds(),
				"error", err)
		}
		return err
	}
}

// shouldTrackMethod excludes reflection, health and the step service, whose
// calls the dispatcher already measures per step.
func shouldTrackMethod(method string) bool {
	return method != "" &&
		!strings.HasPrefix(method, "/grpc.reflection.") &&
		!strings.HasPrefix(method, "/grpc.health.") &&
		!strings.HasPrefix(method, "/bookflow.saga.")
}
