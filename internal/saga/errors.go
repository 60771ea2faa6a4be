package saga

import (
	"errors"
	"fmt"
)

// Error names the orchestrator routes on. They are part of the step contract
// and must not change.
const (
	NameValidationError        = "ValidationError"
	NameTransientProviderError = "TransientProviderError"
	NameFatalProviderError     = "FatalProviderError"
	NameSagaWriteFailed        = "SagaWriteFailed"
)

var (
	// ErrAttemptNotFound signals no attempt record exists for an idempotency key.
	ErrAttemptNotFound = errors.New("attempt not found")
	// ErrCallbackNotFound signals no pending continuation exists for a correlation id.
	ErrCallbackNotFound = errors.New("no pending callback")
	// ErrIdempotencyConflict signals an idempotency key reused with a different payload.
	ErrIdempotencyConflict = errors.New("idempotency key reused with different payload")
)

// Named is implemented by every taxonomy error.
type Named interface {
	error
	Name() string
}

// ValidationError is a caller fault. It is terminal and never retried.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error { return e.Err }
func (e *ValidationError) Name() string  { return NameValidationError }

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// TransientProviderError is safe to retry because every mutating step is idempotent.
type TransientProviderError struct {
	Code string
	Err  error
}

func (e *TransientProviderError) Error() string { return describe("transient", e.Code, e.Err) }
func (e *TransientProviderError) Unwrap() error { return e.Err }
func (e *TransientProviderError) Name() string  { return NameTransientProviderError }

// Transient wraps err as a retryable dependency failure.
func Transient(code string, err error) error {
	return &TransientProviderError{Code: code, Err: err}
}

// FatalProviderError is a non-retryable dependency rejection; the orchestrator
// compensates or escalates.
type FatalProviderError struct {
	Code string
	Err  error
}

func (e *FatalProviderError) Error() string { return describe("fatal", e.Code, e.Err) }
func (e *FatalProviderError) Unwrap() error { return e.Err }
func (e *FatalProviderError) Name() string  { return NameFatalProviderError }

// Fatal wraps err as a non-retryable dependency rejection.
func Fatal(code string, err error) error {
	return &FatalProviderError{Code: code, Err: err}
}

// SagaWriteFailed marks an audit-trail write hiccup. It is logged and never
// returned from a step.
type SagaWriteFailed struct {
	Step string
	Err  error
}

func (e *SagaWriteFailed) Error() string {
	return fmt.Sprintf("saga write failed for %s: %v", e.Step, e.Err)
}
func (e *SagaWriteFailed) Unwrap() error { return e.Err }
func (e *SagaWriteFailed) Name() string  { return NameSagaWriteFailed }

// ErrorName returns the taxonomy name carried by err, or "" when err is not
// part of the taxonomy.
func ErrorName(err error) string {
	var named Named
	if errors.As(err, &named) {
		return named.Name()
	}
	return ""
}

// ErrorCode returns the provider code carried by a transient or fatal error.
func ErrorCode(err error) string {
	var transient *TransientProviderError
	if errors.As(err, &transient) {
		return transient.Code
	}
	var fatal *FatalProviderError
	if errors.As(err, &fatal) {
		return fatal.Code
	}
	return ""
}

func describe(kind, code string, err error) string {
	switch {
	case code != "" && err != nil:
		return fmt.Sprintf("%s provider error (%s): %v", kind, code, err)
	case err != nil:
		return fmt.Sprintf("%s provider error: %v", kind, err)
	case code != "":
		return fmt.Sprintf("%s provider error (%s)", kind, code)
	default:
		return kind + " provider error"
	}
}
