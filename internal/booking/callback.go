package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"bookflow/internal/saga"
)

// Webhook statuses.
const (
	StatusConfirmed = "confirmed"
	StatusRejected  = "rejected"
)

// ErrorBookingRejected is the error name the orchestrator receives when the
// external party rejects the booking.
const ErrorBookingRejected = "BookingRejected"

type CallbackInitiateInput struct {
	CorrelationID     string          `json:"correlationId"`
	ContinuationToken string          `json:"continuationToken"`
	Payload           json.RawMessage `json:"payload,omitempty"`
}

type CallbackInitiateOutput struct {
	OK bool `json:"ok"`
}

// CallbackInitiate stores the orchestrator's continuation token so a later
// webhook can resume the saga. A redelivery replaces the token; the newest
// one is live.
func (s *Steps) CallbackInitiate(ctx context.Context, in CallbackInitiateInput) (CallbackInitiateOutput, error) {
	if err := validateCorrelationID(in.CorrelationID); err != nil {
		return CallbackInitiateOutput{}, s.fail(ctx, StepCallbackInitiate, in.CorrelationID, err)
	}
	if err := requireField("continuationToken", in.ContinuationToken); err != nil {
		return CallbackInitiateOutput{}, s.fail(ctx, StepCallbackInitiate, in.CorrelationID, err)
	}
	if err := s.continuations.Register(ctx, in.CorrelationID, in.ContinuationToken, in.Payload); err != nil {
		return CallbackInitiateOutput{}, s.fail(ctx, StepCallbackInitiate, in.CorrelationID,
			saga.Transient("callback_store_unavailable", fmt.Errorf("store continuation: %w", err)))
	}
	s.ledger.RecordAudit(ctx, in.CorrelationID, AuditCallbackTokenStored, saga.AuditStateCompleted, "")
	return CallbackInitiateOutput{OK: true}, nil
}

type WebhookInput struct {
	CorrelationID string `json:"correlationId"`
	Status        string `json:"status"`
}

type WebhookOutput struct {
	OK            bool   `json:"ok"`
	CorrelationID string `json:"correlationId"`
	Status        string `json:"status"`
}

// ParseWebhookPayload decodes and validates a webhook body.
func ParseWebhookPayload(body []byte) (WebhookInput, error) {
	var in WebhookInput
	if err := json.Unmarshal(body, &in); err != nil {
		return WebhookInput{}, saga.NewValidationError("", "malformed payload")
	}
	return in, validateWebhook(&in)
}

func validateWebhook(in *WebhookInput) error {
	in.Status = strings.ToLower(strings.TrimSpace(in.Status))
	if err := validateCorrelationID(in.CorrelationID); err != nil {
		return err
	}
	if in.Status != StatusConfirmed && in.Status != StatusRejected {
		return saga.NewValidationError("status", "must be %q or %q", StatusConfirmed, StatusRejected)
	}
	return nil
}

// WebhookComplete resolves the pending callback for the saga. Only one
// delivery per correlation id resolves it; later ones get
// saga.ErrCallbackNotFound. Callers authenticate before invoking this.
func (s *Steps) WebhookComplete(ctx context.Context, in WebhookInput) (WebhookOutput, error) {
	if err := validateWebhook(&in); err != nil {
		return WebhookOutput{}, s.fail(ctx, StepWebhookComplete, in.CorrelationID, err)
	}

	confirmed := in.Status == StatusConfirmed
	auditStep := AuditCallbackConfirmed
	if !confirmed {
		auditStep = AuditCallbackRejected
	}
	output, _ := json.Marshal(WebhookOutput{OK: confirmed, CorrelationID: in.CorrelationID, Status: in.Status})
	cause := fmt.Sprintf("booking %s rejected by provider", in.CorrelationID)

	_, err := s.continuations.Resolve(ctx, in.CorrelationID, confirmed, output, ErrorBookingRejected, cause)
	switch {
	case errors.Is(err, saga.ErrCallbackNotFound):
		s.logger.InfoContext(ctx, "no pending callback",
			"correlation_id", in.CorrelationID, "step", StepWebhookComplete, "status", in.Status)
		return WebhookOutput{}, fmt.Errorf("%s: %w", in.CorrelationID, saga.ErrCallbackNotFound)
	case err != nil:
		s.ledger.RecordAudit(ctx, in.CorrelationID, auditStep, saga.AuditStateFailed, err.Error())
		return WebhookOutput{}, s.fail(ctx, StepWebhookComplete, in.CorrelationID,
			saga.Transient("orchestrator_unavailable", err))
	}

	s.ledger.RecordAuditOnce(ctx, in.CorrelationID, auditStep, saga.AuditStateCompleted, "")
	return WebhookOutput{OK: true, CorrelationID: in.CorrelationID, Status: in.Status}, nil
}
