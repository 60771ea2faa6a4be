// Package httpadapter exposes the booking steps, the signed webhook endpoint
// and the operational endpoints over HTTP using chi.
package httpadapter

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"bookflow/internal/booking"
	"bookflow/internal/ledger"
	"bookflow/internal/observability"
	"bookflow/internal/saga"
)

const maxStepBodyBytes = 1 << 20

// webhookOnlySteps are reachable over HTTP only through the signed webhook
// endpoint. gRPC and in-process callers still invoke them directly.
var webhookOnlySteps = map[string]bool{
	booking.StepWebhookComplete: true,
}

// Config wires the router's collaborators. Hub and Ledger are optional.
type Config struct {
	Dispatcher *booking.Dispatcher
	Webhook    *WebhookHandler
	Ledger     *ledger.Ledger
	Metrics    *observability.Metrics
	Hub        http.Handler
	Logger     *slog.Logger
	Ready      func() bool
}

// NewRouter builds the HTTP surface.
func NewRouter(cfg Config) http.Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(cfg.Logger))
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", healthz(cfg.Ready))
	r.Method(http.MethodGet, "/metrics", observability.Handler(cfg.Metrics))

	r.Route("/v1", func(r chi.Router) {
		r.Get("/steps", listSteps(cfg.Dispatcher))
		r.Post("/steps/{step}", invokeStep(cfg.Dispatcher))
		if cfg.Webhook != nil {
			r.Handle("/webhooks/booking-confirmation", cfg.Webhook)
		}
		if cfg.Ledger != nil {
			r.Get("/sagas/{correlationId}/audit", sagaAudit(cfg.Ledger))
		}
		if cfg.Hub != nil {
			r.Handle("/audit/stream", cfg.Hub)
		}
	})
	return r
}

func healthz(ready func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil && !ready() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func listSteps(d *booking.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		steps := make([]string, 0, len(d.Steps()))
		for _, name := range d.Steps() {
			if !webhookOnlySteps[name] {
				steps = append(steps, name)
			}
		}
		writeJSON(w, http.StatusOK, map[string][]string{"steps": steps})
	}
}

func invokeStep(d *booking.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		step := chi.URLParam(r, "step")
		if webhookOnlySteps[step] {
			writeStepError(w, fmt.Errorf("%w: %s", booking.ErrUnknownStep, step))
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, maxStepBodyBytes+1))
		if err != nil {
			writeError(w, http.StatusBadRequest, saga.NameValidationError, "unreadable body", "")
			return
		}
		if len(body) > maxStepBodyBytes {
			writeError(w, http.StatusRequestEntityTooLarge, "PayloadTooLarge", "payload too large", "")
			return
		}
		out, err := d.Invoke(r.Context(), step, json.RawMessage(body))
		if err != nil {
			writeStepError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func sagaAudit(l *ledger.Ledger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		correlationID := chi.URLParam(r, "correlationId")
		records, err := l.Audit(r.Context(), correlationID)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, saga.NameTransientProviderError, "audit trail unavailable", "")
			return
		}
		if records == nil {
			records = []saga.AuditRecord{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"correlationId": correlationID, "records": records})
	}
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.InfoContext(r.Context(), "http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration_ms", time.Since(start).Milliseconds(),
				"request_id", chimiddleware.GetReqID(r.Context()),
			)
		})
	}
}
