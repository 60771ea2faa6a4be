package booking

import (
	"context"
	"errors"

	"bookflow/internal/provider"
	"bookflow/internal/resilience"
	"bookflow/internal/saga"
)

type CancelInput struct {
	CorrelationID string `json:"correlationId"`
	BookingID     string `json:"bookingId"`
	Reason        string `json:"reason,omitempty"`
}

type CancelOutput struct {
	OK            bool   `json:"ok"`
	CorrelationID string `json:"correlationId"`
	BookingID     string `json:"bookingId"`
	Status        string `json:"status"`
	Replayed      bool   `json:"replayed,omitempty"`
}

// CancelKey is the attempt key guarding a saga's cancellation.
func CancelKey(correlationID string) string {
	return "cancel_" + correlationID
}

// Cancel releases the reservation exactly once per saga.
func (s *Steps) Cancel(ctx context.Context, in CancelInput) (CancelOutput, error) {
	if err := validateCorrelationID(in.CorrelationID); err != nil {
		return CancelOutput{}, s.fail(ctx, StepCancel, in.CorrelationID, err)
	}
	if err := requireField("bookingId", in.BookingID); err != nil {
		return CancelOutput{}, s.fail(ctx, StepCancel, in.CorrelationID, err)
	}

	key := CancelKey(in.CorrelationID)
	out := CancelOutput{CorrelationID: in.CorrelationID, BookingID: in.BookingID}

	created, err := s.ledger.RecordAttempt(ctx, key, in.CorrelationID, 0)
	if err != nil {
		return CancelOutput{}, s.fail(ctx, StepCancel, in.CorrelationID, err)
	}
	if !created {
		prior, err := s.ledger.Attempt(ctx, key)
		if errors.Is(err, saga.ErrAttemptNotFound) {
			err = saga.Transient("ledger_inconsistent", err)
		}
		if err != nil {
			return CancelOutput{}, s.fail(ctx, StepCancel, in.CorrelationID, err)
		}
		if prior.Status == saga.AttemptStatusCompleted {
			out.OK = true
			out.BookingID = prior.ProviderReferenceID
			out.Status = provider.StatusBookingCancelled
			out.Replayed = true
			return out, nil
		}
	}

	var reservation provider.Reservation
	err = s.caller.Booking().Call(ctx, func(ctx context.Context, call resilience.Call) error {
		var err error
		reservation, err = s.bookings.Cancel(ctx, provider.CancelRequest{
			CorrelationID:  in.CorrelationID,
			BookingID:      in.BookingID,
			Reason:         in.Reason,
			IdempotencyKey: call.IdempotencyKey,
			Header:         call.Header,
		})
		return err
	}, resilience.WithIdempotencyKey(key))
	if err != nil {
		return CancelOutput{}, s.fail(ctx, StepCancel, in.CorrelationID, classifyProviderError(err))
	}

	if err := s.ledger.MarkCompleted(ctx, key, in.BookingID); err != nil {
		return CancelOutput{}, s.fail(ctx, StepCancel, in.CorrelationID, err)
	}
	s.ledger.RecordAuditOnce(ctx, in.CorrelationID, AuditBookingCancelled, saga.AuditStateCompleted, in.Reason)

	out.OK = true
	out.Status = reservation.Status
	if out.Status == "" {
		out.Status = provider.StatusBookingCancelled
	}
	return out, nil
}
