package provider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync/atomic"

	"github.com/google/uuid"
)

// bookingNamespace seeds deterministic booking ids.
var bookingNamespace = uuid.MustParse("6f1c2a8e-4b7d-5e3f-9a10-2c4d6e8f0b12")

// StubPaymentIntentID derives the stub intent id for an idempotency key, so a
// replayed charge yields the same id.
func StubPaymentIntentID(idempotencyKey string) string {
	return "pi_stub_" + digest(idempotencyKey)
}

// StubBookingID derives the stub booking id for a correlation id.
func StubBookingID(correlationID string) string {
	return uuid.NewSHA1(bookingNamespace, []byte(correlationID)).String()
}

func digest(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])[:24]
}

// StubPayments always succeeds deterministically.
type StubPayments struct {
	charges atomic.Int64
	refunds atomic.Int64
}

func (s *StubPayments) CreatePaymentIntent(_ context.Context, req ChargeRequest) (PaymentIntent, error) {
	s.charges.Add(1)
	currency := req.Currency
	if currency == "" {
		currency = "usd"
	}
	return PaymentIntent{
		ID:       StubPaymentIntentID(req.IdempotencyKey),
		Amount:   req.Amount,
		Currency: currency,
		Status:   StatusSucceeded,
	}, nil
}

func (s *StubPayments) CreateRefund(_ context.Context, req RefundRequest) (Refund, error) {
	s.refunds.Add(1)
	return Refund{ID: "re_stub_" + digest(req.IdempotencyKey), Amount: req.Amount, Status: StatusRefundSucceeded}, nil
}

// Charges returns how many charges reached the stub.
func (s *StubPayments) Charges() int64 { return s.charges.Load() }

// Refunds returns how many refunds reached the stub.
func (s *StubPayments) Refunds() int64 { return s.refunds.Load() }

// StubBooking confirms every reservation with a deterministic id.
type StubBooking struct {
	reservations atomic.Int64
	cancels      atomic.Int64
}

func (s *StubBooking) Reserve(_ context.Context, req ReserveRequest) (Reservation, error) {
	s.reservations.Add(1)
	return Reservation{BookingID: StubBookingID(req.CorrelationID), Status: StatusBookingConfirmed}, nil
}

func (s *StubBooking) Cancel(_ context.Context, req CancelRequest) (Reservation, error) {
	s.cancels.Add(1)
	return Reservation{BookingID: req.BookingID, Status: StatusBookingCancelled}, nil
}

// Reservations returns how many reservations reached the stub.
func (s *StubBooking) Reservations() int64 { return s.reservations.Load() }

// Cancels returns how many cancellations reached the stub.
func (s *StubBooking) Cancels() int64 { return s.cancels.Load() }
