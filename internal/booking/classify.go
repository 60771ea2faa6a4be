package booking

import (
	"context"
	"errors"

	"bookflow/internal/provider"
	"bookflow/internal/resilience"
	"bookflow/internal/saga"
)

// classifyProviderError maps a dependency failure onto the taxonomy. Anything
// unrecognized is transient.
func classifyProviderError(err error) error {
	if err == nil {
		return nil
	}
	if saga.ErrorName(err) != "" {
		return err
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return saga.Transient("circuit_open", err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return saga.Transient("timeout", err)
	}

	if perr, ok := provider.IsError(err); ok {
		code := perr.Code
		if code == "" {
			code = perr.Type
		}
		switch perr.Type {
		case provider.TypeCardError:
			if perr.DeclineCode != "" {
				code = perr.DeclineCode
			}
			return saga.Fatal(code, err)
		case provider.TypeInvalidRequest:
			return saga.Fatal(code, err)
		}
		// rate limits, api, connection and idempotency errors, and unknown types
		return saga.Transient(code, err)
	}

	var coder resilience.Coder
	if errors.As(err, &coder) && resilience.IsTransportCode(coder.Code()) {
		return saga.Transient(coder.Code(), err)
	}
	return saga.Transient("network", err)
}
