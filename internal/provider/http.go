package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"bookflow/internal/secrets"
)

const maxResponseBytes = 1 << 20

// HTTPGateway talks JSON to a live provider. The API key is resolved from
// the secret store on every request.
type HTTPGateway struct {
	baseURL *url.URL
	client  *http.Client
	secrets secrets.Store
	keyName string
}

// NewHTTPGateway constructs a gateway for baseURL. keyName may be empty when
// the provider needs no bearer token.
func NewHTTPGateway(baseURL string, client *http.Client, store secrets.Store, keyName string) (*HTTPGateway, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse provider url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("provider url %q must be absolute", baseURL)
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPGateway{baseURL: u, client: client, secrets: store, keyName: keyName}, nil
}

type paymentIntentBody struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Customer string            `json:"customer,omitempty"`
	Confirm  bool              `json:"confirm"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (g *HTTPGateway) CreatePaymentIntent(ctx context.Context, req ChargeRequest) (PaymentIntent, error) {
	body := paymentIntentBody{
		Amount:   req.Amount,
		Currency: req.Currency,
		Customer: req.CustomerID,
		Confirm:  true,
		Metadata: map[string]string{"correlation_id": req.CorrelationID},
	}
	var out PaymentIntent
	err := g.post(ctx, "/v1/payment_intents", req.IdempotencyKey, req.Header, body, &out)
	return out, err
}

type refundBody struct {
	PaymentIntent string            `json:"payment_intent"`
	Amount        int64             `json:"amount"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func (g *HTTPGateway) CreateRefund(ctx context.Context, req RefundRequest) (Refund, error) {
	body := refundBody{
		PaymentIntent: req.PaymentIntentID,
		Amount:        req.Amount,
		Metadata:      map[string]string{"correlation_id": req.CorrelationID},
	}
	var out Refund
	err := g.post(ctx, "/v1/refunds", req.IdempotencyKey, req.Header, body, &out)
	return out, err
}

type reserveBody struct {
	CorrelationID string     `json:"correlation_id"`
	CustomerID    string     `json:"customer_id"`
	ResourceID    string     `json:"resource_id"`
	StartsAt      *time.Time `json:"starts_at,omitempty"`
	EndsAt        *time.Time `json:"ends_at,omitempty"`
	PartySize     int        `json:"party_size,omitempty"`
}

func (g *HTTPGateway) Reserve(ctx context.Context, req ReserveRequest) (Reservation, error) {
	body := reserveBody{
		CorrelationID: req.CorrelationID,
		CustomerID:    req.CustomerID,
		ResourceID:    req.ResourceID,
		PartySize:     req.PartySize,
	}
	if !req.StartsAt.IsZero() {
		body.StartsAt = &req.StartsAt
	}
	if !req.EndsAt.IsZero() {
		body.EndsAt = &req.EndsAt
	}
	var out Reservation
	err := g.post(ctx, "/v1/reservations", req.IdempotencyKey, req.Header, body, &out)
	return out, err
}

type cancelBody struct {
	CorrelationID string `json:"correlation_id"`
	Reason        string `json:"reason,omitempty"`
}

func (g *HTTPGateway) Cancel(ctx context.Context, req CancelRequest) (Reservation, error) {
	path := "/v1/reservations/" + url.PathEscape(req.BookingID) + "/cancel"
	var out Reservation
	err := g.post(ctx, path, req.IdempotencyKey, req.Header, cancelBody{CorrelationID: req.CorrelationID, Reason: req.Reason}, &out)
	return out, err
}

func (g *HTTPGateway) post(ctx context.Context, path, idempotencyKey string, header http.Header, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL.String()+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	for name, values := range header {
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	if idempotencyKey != "" && len(header) == 0 {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if g.keyName != "" && g.secrets != nil {
		key, err := g.secrets.Get(ctx, g.keyName)
		if err != nil {
			return &Error{Type: TypeAuthentication, Message: "provider credentials unavailable"}
		}
		req.Header.Set("Authorization", "Bearer "+key)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return decodeError(resp.StatusCode, data)
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(status int, data []byte) error {
	var envelope struct {
		Error *Error `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Error != nil && envelope.Error.Type != "" {
		envelope.Error.Status = status
		return envelope.Error
	}
	perr := &Error{Type: TypeAPIError, Status: status, Message: http.StatusText(status)}
	if status < 500 && status != http.StatusTooManyRequests && status != http.StatusRequestTimeout {
		perr.Type = TypeInvalidRequest
	}
	if status == http.StatusTooManyRequests {
		perr.Type = TypeRateLimit
	}
	return perr
}

// IsError reports whether err carries a provider Error and returns it.
func IsError(err error) (*Error, bool) {
	var perr *Error
	if errors.As(err, &perr) {
		return perr, true
	}
	return nil, false
}
