package booking

import (
	"context"
	"errors"

	"bookflow/internal/provider"
	"bookflow/internal/resilience"
	"bookflow/internal/saga"
)

// RefundStatusSkipped is returned when there is no completed charge to refund.
const RefundStatusSkipped = "skipped"

// RefundInput names the charge to refund by its idempotency key. A zero
// Amount refunds the full charge.
type RefundInput struct {
	CorrelationID  string `json:"correlationId"`
	IdempotencyKey string `json:"idempotencyKey"`
	Amount         int64  `json:"amount,omitempty"`
}

type RefundOutput struct {
	OK             bool   `json:"ok"`
	CorrelationID  string `json:"correlationId"`
	IdempotencyKey string `json:"idempotencyKey"`
	RefundID       string `json:"refundId,omitempty"`
	Amount         int64  `json:"amount"`
	Status         string `json:"status"`
	Replayed       bool   `json:"replayed,omitempty"`
}

// RefundKey namespaces a charge's idempotency key for its refund.
func RefundKey(chargeKey string) string {
	return "refund_" + chargeKey
}

// Refund compensates a completed charge exactly once.
func (s *Steps) Refund(ctx context.Context, in RefundInput) (RefundOutput, error) {
	if err := validateCorrelationID(in.CorrelationID); err != nil {
		return RefundOutput{}, s.fail(ctx, StepRefund, in.CorrelationID, err)
	}
	if err := requireField("idempotencyKey", in.IdempotencyKey); err != nil {
		return RefundOutput{}, s.fail(ctx, StepRefund, in.CorrelationID, err)
	}
	if in.Amount < 0 {
		return RefundOutput{}, s.fail(ctx, StepRefund, in.CorrelationID, saga.NewValidationError("amount", "must not be negative"))
	}

	refundKey := RefundKey(in.IdempotencyKey)
	out := RefundOutput{CorrelationID: in.CorrelationID, IdempotencyKey: refundKey, Amount: in.Amount}

	charge, err := s.ledger.Attempt(ctx, in.IdempotencyKey)
	switch {
	case errors.Is(err, saga.ErrAttemptNotFound):
		return s.skipRefund(ctx, in, out, "no charge recorded")
	case err != nil:
		return RefundOutput{}, s.fail(ctx, StepRefund, in.CorrelationID, err)
	case charge.Status != saga.AttemptStatusCompleted:
		return s.skipRefund(ctx, in, out, "charge not completed")
	}
	if charge.CorrelationID != in.CorrelationID {
		return RefundOutput{}, s.fail(ctx, StepRefund, in.CorrelationID, &saga.ValidationError{
			Field: "idempotencyKey", Message: "charge belongs to a different saga", Err: saga.ErrIdempotencyConflict,
		})
	}
	amount := in.Amount
	if amount == 0 {
		amount = charge.Amount
	}
	if amount > charge.Amount {
		return RefundOutput{}, s.fail(ctx, StepRefund, in.CorrelationID,
			saga.NewValidationError("amount", "exceeds charged amount %d", charge.Amount))
	}
	out.Amount = amount

	created, err := s.ledger.RecordAttempt(ctx, refundKey, in.CorrelationID, amount)
	if err != nil {
		return RefundOutput{}, s.fail(ctx, StepRefund, in.CorrelationID, err)
	}
	if !created {
		prior, err := s.priorAttempt(ctx, refundKey, in.CorrelationID, amount)
		if err != nil {
			return RefundOutput{}, s.fail(ctx, StepRefund, in.CorrelationID, err)
		}
		if prior.Status == saga.AttemptStatusCompleted {
			out.OK = true
			out.RefundID = prior.ProviderReferenceID
			out.Status = provider.StatusRefundSucceeded
			out.Replayed = true
			return out, nil
		}
	}

	gateway, live := s.paymentGateway(ctx)
	req := provider.RefundRequest{
		CorrelationID:   in.CorrelationID,
		PaymentIntentID: charge.ProviderReferenceID,
		Amount:          amount,
		IdempotencyKey:  refundKey,
	}
	var refund provider.Refund
	if live {
		err = s.caller.Payments().Call(ctx, func(ctx context.Context, call resilience.Call) error {
			req.Header = call.Header
			var err error
			refund, err = gateway.CreateRefund(ctx, req)
			return err
		}, resilience.WithIdempotencyKey(refundKey))
	} else {
		refund, err = gateway.CreateRefund(ctx, req)
	}
	if err != nil {
		return RefundOutput{}, s.fail(ctx, StepRefund, in.CorrelationID, classifyProviderError(err))
	}

	out.RefundID = refund.ID
	out.Status = refund.Status
	if refund.Status != provider.StatusRefundSucceeded && refund.Status != provider.StatusRefundPending {
		s.logger.WarnContext(ctx, "refund not completed",
			"correlation_id", in.CorrelationID, "step", StepRefund, "status", refund.Status)
		return out, nil
	}
	if err := s.ledger.MarkCompleted(ctx, refundKey, refund.ID); err != nil {
		return RefundOutput{}, s.fail(ctx, StepRefund, in.CorrelationID, err)
	}
	s.ledger.RecordAudit(ctx, in.CorrelationID, AuditRefund, saga.AuditStateSuccess, refund.ID)
	out.OK = true
	return out, nil
}

func (s *Steps) skipRefund(ctx context.Context, in RefundInput, out RefundOutput, reason string) (RefundOutput, error) {
	s.logger.InfoContext(ctx, "refund skipped",
		"correlation_id", in.CorrelationID, "step", StepRefund, "reason", reason)
	out.OK = true
	out.Status = RefundStatusSkipped
	return out, nil
}
