package httpadapter

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"bookflow/internal/booking"
	"bookflow/internal/observability"
	"bookflow/internal/saga"
	"bookflow/internal/secrets"
	"bookflow/internal/webhook"
)

const (
	DefaultMaxBodyBytes  = 128 << 10
	DefaultTimestampSkew = 300 * time.Second
)

// WebhookCompleter resolves a verified webhook delivery.
type WebhookCompleter interface {
	WebhookComplete(ctx context.Context, in booking.WebhookInput) (booking.WebhookOutput, error)
}

// WebhookConfig configures the signed webhook endpoint.
type WebhookConfig struct {
	SecretName   string
	MaxBodyBytes int64
	Skew         time.Duration
}

// WebhookHandler authenticates booking-confirmation deliveries and resumes
// the matching saga. Authentication failures never touch pending callbacks.
type WebhookHandler struct {
	steps   WebhookCompleter
	secrets secrets.Store
	cfg     WebhookConfig
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewWebhookHandler constructs a WebhookHandler.
func NewWebhookHandler(steps WebhookCompleter, store secrets.Store, cfg WebhookConfig, metrics *observability.Metrics, logger *slog.Logger) *WebhookHandler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if cfg.Skew <= 0 {
		cfg.Skew = DefaultTimestampSkew
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{steps: steps, secrets: store, cfg: cfg, metrics: metrics, logger: logger, now: time.Now}
}

func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	status := h.serve(ctx, w, r)
	h.metrics.WebhookOutcome(status)
}

func (h *WebhookHandler) serve(ctx context.Context, w http.ResponseWriter, r *http.Request) int {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		return h.reject(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "method not allowed")
	}
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		return h.reject(w, http.StatusUnsupportedMediaType, "UnsupportedMediaType", "content type must be application/json")
	}
	if r.ContentLength > h.cfg.MaxBodyBytes {
		return h.reject(w, http.StatusRequestEntityTooLarge, "PayloadTooLarge", "payload too large")
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, h.cfg.MaxBodyBytes+1))
	if err != nil {
		return h.reject(w, http.StatusBadRequest, saga.NameValidationError, "unreadable body")
	}
	if int64(len(body)) > h.cfg.MaxBodyBytes {
		return h.reject(w, http.StatusRequestEntityTooLarge, "PayloadTooLarge", "payload too large")
	}

	signature := r.Header.Get(webhook.HeaderSignature)
	timestamp := r.Header.Get(webhook.HeaderTimestamp)
	if err := webhook.CheckHeaders(signature, timestamp, h.now(), h.cfg.Skew); err != nil {
		h.logger.WarnContext(ctx, "webhook rejected", "reason", err.Error())
		return h.reject(w, http.StatusUnauthorized, "Unauthorized", "unauthorized")
	}
	secret, err := h.secrets.Get(ctx, h.cfg.SecretName)
	if err != nil {
		h.logger.ErrorContext(ctx, "webhook secret unavailable", "secret_name", h.cfg.SecretName, "error", err)
		return h.reject(w, http.StatusInternalServerError, "ServerMisconfigured", "server misconfigured")
	}
	if err := webhook.VerifySignature(secret, body, signature, timestamp); err != nil {
		h.logger.WarnContext(ctx, "webhook rejected", "reason", err.Error())
		return h.reject(w, http.StatusUnauthorized, "Unauthorized", "unauthorized")
	}

	in, err := booking.ParseWebhookPayload(body)
	if err != nil {
		return h.reject(w, http.StatusBadRequest, saga.NameValidationError, err.Error())
	}
	out, err := h.steps.WebhookComplete(ctx, in)
	if err != nil {
		status := statusFor(err)
		if errors.Is(err, saga.ErrCallbackNotFound) {
			writeError(w, status, nameFor(err), "no pending callback", "")
			return status
		}
		writeStepError(w, err)
		return status
	}
	writeJSON(w, http.StatusOK, out)
	return http.StatusOK
}

func (h *WebhookHandler) reject(w http.ResponseWriter, status int, name, message string) int {
	writeError(w, status, name, message, "")
	return status
}
