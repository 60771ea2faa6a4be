package grpc

import (
	"context"
	"errors"

	"bookflow/internal/booking"
	"bookflow/internal/saga"

	grpcpkg "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// TrailerErrorName carries the taxonomy name of a failed step.
const TrailerErrorName = "error-name"

// mapStepError maps taxonomy errors to gRPC status codes. The message is
// prefixed with the error name so clients without trailer access can route.
func mapStepError(ctx context.Context, err error) error {
	if errors.Is(err, context.Canceled) {
		return status.Error(codes.Canceled, err.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, err.Error())
	}

	code := codes.Internal
	name := saga.ErrorName(err)
	switch {
	case errors.Is(err, saga.ErrCallbackNotFound):
		code, name = codes.NotFound, "CallbackNotFound"
	case errors.Is(err, booking.ErrUnknownStep):
		code, name = codes.NotFound, "UnknownStep"
	case name == saga.NameValidationError:
		code = codes.InvalidArgument
	case name == saga.NameTransientProviderError:
		code = codes.Unavailable
	case name == saga.NameFatalProviderError:
		code = codes.FailedPrecondition
	}
	if name == "" {
		return status.Error(codes.Internal, "internal error")
	}
	_ = grpcpkg.SetTrailer(ctx, metadata.Pairs(TrailerErrorName, name))
	return status.Error(code, name+": "+err.Error())
}

// ErrorName recovers the taxonomy name from a status returned by Invoke.
func ErrorName(trailer metadata.MD) string {
	if values := trailer.Get(TrailerErrorName); len(values) > 0 {
		return values[0]
	}
	return ""
}
