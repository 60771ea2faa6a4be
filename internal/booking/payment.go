package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"bookflow/internal/provider"
	"bookflow/internal/resilience"
	"bookflow/internal/saga"
)

type PaymentInput struct {
	CorrelationID  string `json:"correlationId"`
	IdempotencyKey string `json:"idempotencyKey"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency,omitempty"`
	CustomerID     string `json:"customerId,omitempty"`
}

type PaymentOutput struct {
	OK              bool   `json:"ok"`
	CorrelationID   string `json:"correlationId"`
	IdempotencyKey  string `json:"idempotencyKey"`
	PaymentIntentID string `json:"paymentIntentId,omitempty"`
	Amount          int64  `json:"amount"`
	Currency        string `json:"currency"`
	Status          string `json:"status"`
	Replayed        bool   `json:"replayed,omitempty"`
}

// completable reports whether a payment intent status may complete the attempt.
func completable(status string) bool {
	switch status {
	case provider.StatusSucceeded, provider.StatusProcessing, provider.StatusRequiresCapture:
		return true
	}
	return false
}

// Payment charges the customer exactly once per idempotency key.
func (s *Steps) Payment(ctx context.Context, in PaymentInput) (PaymentOutput, error) {
	currency, err := validatePayment(in)
	if err != nil {
		return PaymentOutput{}, s.fail(ctx, StepPayment, in.CorrelationID, err)
	}
	out := PaymentOutput{
		CorrelationID:  in.CorrelationID,
		IdempotencyKey: in.IdempotencyKey,
		Amount:         in.Amount,
		Currency:       currency,
	}

	created, err := s.ledger.RecordAttempt(ctx, in.IdempotencyKey, in.CorrelationID, in.Amount)
	if err != nil {
		return PaymentOutput{}, s.fail(ctx, StepPayment, in.CorrelationID, err)
	}
	if !created {
		prior, err := s.priorAttempt(ctx, in.IdempotencyKey, in.CorrelationID, in.Amount)
		if err != nil {
			return PaymentOutput{}, s.fail(ctx, StepPayment, in.CorrelationID, err)
		}
		if prior.Status == saga.AttemptStatusCompleted {
			out.OK = true
			out.PaymentIntentID = prior.ProviderReferenceID
			out.Status = provider.StatusSucceeded
			out.Replayed = true
			s.logger.InfoContext(ctx, "payment replayed",
				"correlation_id", in.CorrelationID, "step", StepPayment, "payment_intent_id", prior.ProviderReferenceID)
			return out, nil
		}
	}

	gateway, live := s.paymentGateway(ctx)
	req := provider.ChargeRequest{
		CorrelationID:  in.CorrelationID,
		CustomerID:     in.CustomerID,
		Amount:         in.Amount,
		Currency:       currency,
		IdempotencyKey: in.IdempotencyKey,
	}
	var intent provider.PaymentIntent
	if live {
		err = s.caller.Payments().Call(ctx, func(ctx context.Context, call resilience.Call) error {
			req.Header = call.Header
			var err error
			intent, err = gateway.CreatePaymentIntent(ctx, req)
			return err
		}, resilience.WithIdempotencyKey(in.IdempotencyKey))
	} else {
		intent, err = gateway.CreatePaymentIntent(ctx, req)
	}
	if err != nil {
		return PaymentOutput{}, s.fail(ctx, StepPayment, in.CorrelationID, classifyProviderError(err))
	}

	out.PaymentIntentID = intent.ID
	out.Status = intent.Status
	if !completable(intent.Status) {
		s.logger.WarnContext(ctx, "payment not completed",
			"correlation_id", in.CorrelationID, "step", StepPayment, "status", intent.Status)
		return out, nil
	}
	if err := s.ledger.MarkCompleted(ctx, in.IdempotencyKey, intent.ID); err != nil {
		return PaymentOutput{}, s.fail(ctx, StepPayment, in.CorrelationID, err)
	}
	s.ledger.RecordAudit(ctx, in.CorrelationID, AuditPayment, saga.AuditStateSuccess, intent.ID)
	out.OK = true
	return out, nil
}

// priorAttempt loads the attempt that won the conditional create and checks
// it belongs to the same charge.
func (s *Steps) priorAttempt(ctx context.Context, key, correlationID string, amount int64) (saga.AttemptRecord, error) {
	prior, err := s.ledger.Attempt(ctx, key)
	if errors.Is(err, saga.ErrAttemptNotFound) {
		return saga.AttemptRecord{}, saga.Transient("ledger_inconsistent", err)
	}
	if err != nil {
		return saga.AttemptRecord{}, err
	}
	if prior.CorrelationID != correlationID || prior.Amount != amount {
		return saga.AttemptRecord{}, &saga.ValidationError{
			Field:   "idempotencyKey",
			Message: fmt.Sprintf("key %s already used for a different charge", key),
			Err:     saga.ErrIdempotencyConflict,
		}
	}
	return prior, nil
}

func validatePayment(in PaymentInput) (string, error) {
	if err := validateCorrelationID(in.CorrelationID); err != nil {
		return "", err
	}
	if err := requireField("idempotencyKey", in.IdempotencyKey); err != nil {
		return "", err
	}
	if err := validateAmount(in.Amount); err != nil {
		return "", err
	}
	currency := strings.ToLower(strings.TrimSpace(in.Currency))
	if currency == "" {
		return defaultCurrency, nil
	}
	if !currencyPattern.MatchString(currency) {
		return "", saga.NewValidationError("currency", "must be a 3-letter ISO code")
	}
	return currency, nil
}
