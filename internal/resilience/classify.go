package resilience

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"syscall"

	"bookflow/internal/saga"
)

// StatusCoder is implemented by errors that carry an HTTP status code.
type StatusCoder interface {
	StatusCode() int
}

// Coder is implemented by errors that carry a transport or provider code.
type Coder interface {
	Code() string
}

var transportCodes = map[string]bool{
	"ECONNRESET":      true,
	"ECONNREFUSED":    true,
	"ECONNABORTED":    true,
	"ETIMEDOUT":       true,
	"ESOCKETTIMEDOUT": true,
	"EPIPE":           true,
	"EAI_AGAIN":       true,
	"EHOSTUNREACH":    true,
	"ENETUNREACH":     true,
}

// Retryable reports whether err is worth another attempt. Unclassified errors
// are retryable since calls are idempotent. Timeouts, including a per-request
// http.Client timeout that wraps context.DeadlineExceeded, are retryable;
// callers stop on their own context separately.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrCircuitOpen) {
		return false
	}

	var validation *saga.ValidationError
	if errors.As(err, &validation) {
		return false
	}
	var fatal *saga.FatalProviderError
	if errors.As(err, &fatal) {
		return false
	}
	var transient *saga.TransientProviderError
	if errors.As(err, &transient) {
		return true
	}

	var status StatusCoder
	if errors.As(err, &status) {
		return RetryableStatus(status.StatusCode())
	}
	var coder Coder
	if errors.As(err, &coder) && IsTransportCode(coder.Code()) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	return true
}

// RetryableStatus classifies an HTTP status: 408, 429 and 5xx are retryable,
// every other 4xx is not.
func RetryableStatus(code int) bool {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return true
	case code >= 500:
		return true
	case code >= 400:
		return false
	default:
		return true
	}
}

// IsTransportCode reports whether code is a known transient transport code.
func IsTransportCode(code string) bool {
	return transportCodes[strings.ToUpper(strings.TrimSpace(code))]
}
