// Package provider defines the payment and booking provider contracts, an
// HTTP gateway for live providers, and deterministic stubs.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Provider error types, as reported in the error body's "type" field.
const (
	TypeCardError          = "card_error"
	TypeInvalidRequest     = "invalid_request_error"
	TypeAPIError           = "api_error"
	TypeAPIConnection      = "api_connection_error"
	TypeRateLimit          = "rate_limit_error"
	TypeIdempotency        = "idempotency_error"
	TypeAuthentication     = "authentication_error"
	TypeBookingUnavailable = "unavailable_error"
)

// Payment intent statuses.
const (
	StatusSucceeded        = "succeeded"
	StatusProcessing       = "processing"
	StatusRequiresCapture  = "requires_capture"
	StatusRequiresAction   = "requires_action"
	StatusRequiresPayment  = "requires_payment_method"
	StatusCanceled         = "canceled"
	StatusRefundSucceeded  = "succeeded"
	StatusRefundPending    = "pending"
	StatusBookingConfirmed = "confirmed"
	StatusBookingCancelled = "cancelled"
)

// Error is a provider rejection.
type Error struct {
	Type        string `json:"type"`
	Code        string `json:"code,omitempty"`
	DeclineCode string `json:"decline_code,omitempty"`
	Message     string `json:"message,omitempty"`
	Status      int    `json:"-"`
}

func (e *Error) Error() string {
	code := e.Code
	if e.DeclineCode != "" {
		code = e.DeclineCode
	}
	if code == "" {
		return fmt.Sprintf("%s (status %d): %s", e.Type, e.Status, e.Message)
	}
	return fmt.Sprintf("%s/%s (status %d): %s", e.Type, code, e.Status, e.Message)
}

// StatusCode returns the HTTP status the provider answered with.
func (e *Error) StatusCode() int { return e.Status }

// ChargeRequest creates and confirms a payment intent. IdempotencyKey is
// forwarded to the provider as its own dedupe token.
type ChargeRequest struct {
	CorrelationID  string
	CustomerID     string
	Amount         int64
	Currency       string
	IdempotencyKey string
	Header         http.Header
}

// PaymentIntent is the provider's view of a charge.
type PaymentIntent struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
}

// RefundRequest refunds a payment intent.
type RefundRequest struct {
	CorrelationID   string
	PaymentIntentID string
	Amount          int64
	IdempotencyKey  string
	Header          http.Header
}

// Refund is the provider's view of a refund.
type Refund struct {
	ID     string `json:"id"`
	Amount int64  `json:"amount"`
	Status string `json:"status"`
}

// ReserveRequest reserves a bookable resource.
type ReserveRequest struct {
	CorrelationID  string
	CustomerID     string
	ResourceID     string
	StartsAt       time.Time
	EndsAt         time.Time
	PartySize      int
	IdempotencyKey string
	Header         http.Header
}

// Reservation is the booking provider's view of a booking.
type Reservation struct {
	BookingID string `json:"booking_id"`
	Status    string `json:"status"`
}

// CancelRequest releases a reservation.
type CancelRequest struct {
	CorrelationID  string
	BookingID      string
	Reason         string
	IdempotencyKey string
	Header         http.Header
}

// PaymentGateway charges and refunds.
type PaymentGateway interface {
	CreatePaymentIntent(ctx context.Context, req ChargeRequest) (PaymentIntent, error)
	CreateRefund(ctx context.Context, req RefundRequest) (Refund, error)
}

// BookingGateway reserves and cancels.
type BookingGateway interface {
	Reserve(ctx context.Context, req ReserveRequest) (Reservation, error)
	Cancel(ctx context.Context, req CancelRequest) (Reservation, error)
}
