// Package booking implements the saga steps the orchestrator invokes. Every
// step is stateless and safe to redeliver: mutating steps gate on the
// idempotency ledger, and every error is one of the saga taxonomy types.
package booking

import (
	"context"
	"log/slog"

	"bookflow/internal/callback"
	"bookflow/internal/flags"
	"bookflow/internal/ledger"
	"bookflow/internal/provider"
	"bookflow/internal/resilience"
	"bookflow/internal/saga"
)

// Step names as the orchestrator invokes them.
const (
	StepValidateInput    = "validate-input"
	StepProcessBooking   = "process-booking"
	StepPayment          = "payment"
	StepRefund           = "refund"
	StepCancel           = "cancel"
	StepCallbackInitiate = "callback-initiate"
	StepWebhookComplete  = "webhook-complete"
)

// Audit step names written to the ledger.
const (
	AuditInputValidation     = "input_validation"
	AuditProcessBooking      = "process_booking"
	AuditPayment             = "payment"
	AuditRefund              = "refund"
	AuditBookingCancelled    = "booking_cancelled"
	AuditCallbackTokenStored = "callback_token_stored"
	AuditCallbackConfirmed   = "callback_confirmed"
	AuditCallbackRejected    = "callback_rejected"
)

// Deps are the collaborators of Steps. LivePayments may be nil, in which
// case the stub is used even when the live-payments flag is on.
type Deps struct {
	Ledger        *ledger.Ledger
	Caller        *resilience.Caller
	LivePayments  provider.PaymentGateway
	StubPayments  provider.PaymentGateway
	Bookings      provider.BookingGateway
	Flags         flags.Source
	Continuations *callback.Continuations
	Logger        *slog.Logger
}

// Steps holds the step implementations.
type Steps struct {
	ledger        *ledger.Ledger
	caller        *resilience.Caller
	livePayments  provider.PaymentGateway
	stubPayments  provider.PaymentGateway
	bookings      provider.BookingGateway
	flags         flags.Source
	continuations *callback.Continuations
	logger        *slog.Logger
}

// NewSteps wires Steps, filling unset collaborators with in-process defaults.
func NewSteps(d Deps) *Steps {
	s := &Steps{
		ledger:        d.Ledger,
		caller:        d.Caller,
		livePayments:  d.LivePayments,
		stubPayments:  d.StubPayments,
		bookings:      d.Bookings,
		flags:         d.Flags,
		continuations: d.Continuations,
		logger:        d.Logger,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.ledger == nil {
		s.ledger = ledger.NewMemory(ledger.WithLogger(s.logger))
	}
	if s.caller == nil {
		s.caller = resilience.NewCaller(nil, nil, resilience.WithLogger(s.logger))
	}
	if s.stubPayments == nil {
		s.stubPayments = &provider.StubPayments{}
	}
	if s.bookings == nil {
		s.bookings = &provider.StubBooking{}
	}
	if s.flags == nil {
		s.flags = flags.NewStatic(nil)
	}
	if s.continuations == nil {
		s.continuations = callback.NewContinuations(callback.NewMemoryStore(nil), &callback.MemoryResumer{}, 0)
	}
	return s
}

// Ledger exposes the shared ledger.
func (s *Steps) Ledger() *ledger.Ledger { return s.ledger }

// Continuations exposes the pending-callback registry.
func (s *Steps) Continuations() *callback.Continuations { return s.continuations }

// fail logs a step error with its correlation context and returns it.
func (s *Steps) fail(ctx context.Context, step, correlationID string, err error) error {
	attrs := []any{
		"correlation_id", correlationID,
		"step", step,
		"state", string(saga.AuditStateFailed),
		"error_name", saga.ErrorName(err),
		"error", err,
	}
	if code := saga.ErrorCode(err); code != "" {
		attrs = append(attrs, "error_code", code)
	}
	level := slog.LevelError
	if saga.ErrorName(err) == saga.NameValidationError {
		level = slog.LevelWarn
	}
	s.logger.Log(ctx, level, "step failed", attrs...)
	return err
}

func (s *Steps) paymentGateway(ctx context.Context) (provider.PaymentGateway, bool) {
	if !s.flags.Enabled(ctx, flags.LivePayments) {
		return s.stubPayments, false
	}
	if s.livePayments == nil {
		s.logger.WarnContext(ctx, "live payments enabled without a provider, using stub")
		return s.stubPayments, false
	}
	return s.livePayments, true
}
