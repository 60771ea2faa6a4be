package booking

import (
	"context"
	"regexp"
	"strings"
	"time"

	"bookflow/internal/saga"
)

const (
	maxCorrelationIDLength = 128
	maxAmount              = 10_000_000
	maxPartySize           = 50
	defaultCurrency        = "usd"
)

var (
	correlationIDPattern = regexp.MustCompile(`^[A-Za-z0-9._:-]+$`)
	currencyPattern      = regexp.MustCompile(`^[a-z]{3}$`)
)

// BookingRequest is the orchestration's initial input.
type BookingRequest struct {
	CorrelationID string `json:"correlationId"`
	CustomerID    string `json:"customerId"`
	ResourceID    string `json:"resourceId"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency,omitempty"`
	StartsAt      string `json:"startsAt,omitempty"`
	EndsAt        string `json:"endsAt,omitempty"`
	PartySize     int    `json:"partySize,omitempty"`
}

// ValidateBooking checks req and returns it normalized. It performs no I/O.
func ValidateBooking(req BookingRequest) (BookingRequest, error) {
	req.CorrelationID = strings.TrimSpace(req.CorrelationID)
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.ResourceID = strings.TrimSpace(req.ResourceID)
	req.Currency = strings.ToLower(strings.TrimSpace(req.Currency))

	if err := validateCorrelationID(req.CorrelationID); err != nil {
		return BookingRequest{}, err
	}
	if req.CustomerID == "" {
		return BookingRequest{}, saga.NewValidationError("customerId", "is required")
	}
	if req.ResourceID == "" {
		return BookingRequest{}, saga.NewValidationError("resourceId", "is required")
	}
	if err := validateAmount(req.Amount); err != nil {
		return BookingRequest{}, err
	}
	if req.Currency == "" {
		req.Currency = defaultCurrency
	} else if !currencyPattern.MatchString(req.Currency) {
		return BookingRequest{}, saga.NewValidationError("currency", "must be a 3-letter ISO code")
	}
	if req.PartySize < 0 || req.PartySize > maxPartySize {
		return BookingRequest{}, saga.NewValidationError("partySize", "must be between 0 and %d", maxPartySize)
	}

	start, err := parseOptionalTime("startsAt", req.StartsAt)
	if err != nil {
		return BookingRequest{}, err
	}
	end, err := parseOptionalTime("endsAt", req.EndsAt)
	if err != nil {
		return BookingRequest{}, err
	}
	if !start.IsZero() && !end.IsZero() && !end.After(start) {
		return BookingRequest{}, saga.NewValidationError("endsAt", "must be after startsAt")
	}
	return req, nil
}

// ValidateInput validates the booking request and records the outcome in
// the audit trail.
func (s *Steps) ValidateInput(ctx context.Context, req BookingRequest) (BookingRequest, error) {
	validated, err := ValidateBooking(req)
	if err != nil {
		return BookingRequest{}, s.fail(ctx, StepValidateInput, req.CorrelationID, err)
	}
	s.ledger.RecordAudit(ctx, validated.CorrelationID, AuditInputValidation, saga.AuditStateSuccess, "")
	return validated, nil
}

func validateCorrelationID(id string) error {
	switch {
	case id == "":
		return saga.NewValidationError("correlationId", "is required")
	case len(id) > maxCorrelationIDLength:
		return saga.NewValidationError("correlationId", "must be at most %d characters", maxCorrelationIDLength)
	case !correlationIDPattern.MatchString(id):
		return saga.NewValidationError("correlationId", "contains invalid characters")
	}
	return nil
}

func validateAmount(amount int64) error {
	if amount <= 0 {
		return saga.NewValidationError("amount", "must be positive")
	}
	if amount > maxAmount {
		return saga.NewValidationError("amount", "must be at most %d", maxAmount)
	}
	return nil
}

func requireField(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return saga.NewValidationError(field, "is required")
	}
	return nil
}

func parseOptionalTime(field, raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, saga.NewValidationError(field, "must be an RFC3339 timestamp")
	}
	return t, nil
}
