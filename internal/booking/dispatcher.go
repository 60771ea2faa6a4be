package booking

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"bookflow/internal/observability"
	"bookflow/internal/saga"
)

// ErrUnknownStep signals a step name the dispatcher does not serve.
var ErrUnknownStep = errors.New("unknown step")

// Handler decodes a step's JSON input and runs it.
type Handler func(ctx context.Context, input json.RawMessage) (any, error)

// Dispatcher routes step invocations by name. Transports share it.
type Dispatcher struct {
	steps    *Steps
	metrics  *observability.Metrics
	handlers map[string]Handler
}

// NewDispatcher registers every step. metrics may be nil.
func NewDispatcher(steps *Steps, metrics *observability.Metrics) *Dispatcher {
	d := &Dispatcher{steps: steps, metrics: metrics}
	d.handlers = map[string]Handler{
		StepValidateInput:    handle(steps.ValidateInput),
		StepProcessBooking:   handle(steps.ProcessBooking),
		StepPayment:          handle(steps.Payment),
		StepRefund:           handle(steps.Refund),
		StepCancel:           handle(steps.Cancel),
		StepCallbackInitiate: handle(steps.CallbackInitiate),
		StepWebhookComplete:  handle(steps.WebhookComplete),
	}
	return d
}

// Steps lists the served step names in order.
func (d *Dispatcher) Steps() []string {
	names := make([]string, 0, len(d.handlers))
	for name := range d.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// StepSet exposes the underlying steps.
func (d *Dispatcher) StepSet() *Steps { return d.steps }

// Invoke runs step with input.
func (d *Dispatcher) Invoke(ctx context.Context, step string, input json.RawMessage) (any, error) {
	handler, ok := d.handlers[step]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownStep, step)
	}
	span := d.metrics.Start(step)
	out, err := handler(ctx, input)
	span.End(err)
	return out, err
}

func handle[In, Out any](fn func(context.Context, In) (Out, error)) Handler {
	return func(ctx context.Context, input json.RawMessage) (any, error) {
		var in In
		if len(bytes.TrimSpace(input)) > 0 {
			if err := json.Unmarshal(input, &in); err != nil {
				return nil, &saga.ValidationError{Field: "input", Message: "malformed JSON", Err: err}
			}
		}
		return fn(ctx, in)
	}
}
