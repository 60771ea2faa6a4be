package booking

import (
	"context"
	"errors"
	"strings"

	"bookflow/internal/provider"
	"bookflow/internal/resilience"
	"bookflow/internal/saga"
)

// Values accepted by ProcessBookingInput.Simulate.
const (
	SimulateTransient = "transient"
	SimulateFatal     = "fatal"
)

type ProcessBookingInput struct {
	CorrelationID string `json:"correlationId"`
	CustomerID    string `json:"customerId"`
	ResourceID    string `json:"resourceId"`
	StartsAt      string `json:"startsAt,omitempty"`
	EndsAt        string `json:"endsAt,omitempty"`
	PartySize     int    `json:"partySize,omitempty"`
	// Simulate injects a failure so orchestrator retry and compensation
	// paths can be exercised.
	Simulate string `json:"simulate,omitempty"`
}

type ProcessBookingOutput struct {
	BookingID string `json:"bookingId"`
}

// ProcessBooking reserves the resource with the booking provider. The
// provider dedupes on a key derived from the correlation id, so a redelivery
// returns the same booking.
func (s *Steps) ProcessBooking(ctx context.Context, in ProcessBookingInput) (ProcessBookingOutput, error) {
	if err := validateCorrelationID(in.CorrelationID); err != nil {
		return ProcessBookingOutput{}, s.fail(ctx, StepProcessBooking, in.CorrelationID, err)
	}
	if err := requireField("resourceId", in.ResourceID); err != nil {
		return ProcessBookingOutput{}, s.fail(ctx, StepProcessBooking, in.CorrelationID, err)
	}
	start, err := parseOptionalTime("startsAt", in.StartsAt)
	if err != nil {
		return ProcessBookingOutput{}, s.fail(ctx, StepProcessBooking, in.CorrelationID, err)
	}
	end, err := parseOptionalTime("endsAt", in.EndsAt)
	if err != nil {
		return ProcessBookingOutput{}, s.fail(ctx, StepProcessBooking, in.CorrelationID, err)
	}

	s.ledger.RecordAudit(ctx, in.CorrelationID, AuditProcessBooking, saga.AuditStateStarted, "")

	switch strings.ToLower(strings.TrimSpace(in.Simulate)) {
	case "":
	case SimulateTransient:
		return ProcessBookingOutput{}, s.fail(ctx, StepProcessBooking, in.CorrelationID,
			saga.Transient("simulated", errors.New("simulated transient booking failure")))
	case SimulateFatal:
		return ProcessBookingOutput{}, s.fail(ctx, StepProcessBooking, in.CorrelationID,
			saga.Fatal("simulated", errors.New("simulated fatal booking failure")))
	default:
		return ProcessBookingOutput{}, s.fail(ctx, StepProcessBooking, in.CorrelationID,
			saga.NewValidationError("simulate", "must be %q or %q", SimulateTransient, SimulateFatal))
	}

	var reservation provider.Reservation
	err = s.caller.Booking().Call(ctx, func(ctx context.Context, call resilience.Call) error {
		var err error
		reservation, err = s.bookings.Reserve(ctx, provider.ReserveRequest{
			CorrelationID:  in.CorrelationID,
			CustomerID:     in.CustomerID,
			ResourceID:     in.ResourceID,
			StartsAt:       start,
			EndsAt:         end,
			PartySize:      in.PartySize,
			IdempotencyKey: call.IdempotencyKey,
			Header:         call.Header,
		})
		return err
	}, resilience.WithIdempotencyKey("booking_"+in.CorrelationID))
	if err != nil {
		return ProcessBookingOutput{}, s.fail(ctx, StepProcessBooking, in.CorrelationID, classifyProviderError(err))
	}
	if reservation.BookingID == "" {
		return ProcessBookingOutput{}, s.fail(ctx, StepProcessBooking, in.CorrelationID,
			saga.Transient("empty_booking_id", errors.New("booking provider returned no booking id")))
	}

	s.ledger.RecordAudit(ctx, in.CorrelationID, AuditProcessBooking, saga.AuditStateSuccess, reservation.BookingID)
	return ProcessBookingOutput{BookingID: reservation.BookingID}, nil
}
