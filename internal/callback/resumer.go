package callback

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"bookflow/internal/resilience"
	"bookflow/internal/saga"
)

// Resumer resolves a suspended orchestration by its continuation token.
type Resumer interface {
	Succeed(ctx context.Context, token string, output json.RawMessage) error
	Fail(ctx context.Context, token, errorName, cause string) error
}

// HTTPResumer posts task outcomes to the orchestrator through the resilient
// call layer.
type HTTPResumer struct {
	baseURL string
	http    *http.Client
	client  *resilience.Client
}

// NewHTTPResumer constructs a resumer for the orchestrator at baseURL.
func NewHTTPResumer(baseURL string, httpClient *http.Client, client *resilience.Client) *HTTPResumer {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPResumer{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient, client: client}
}

type taskSuccess struct {
	TaskToken string          `json:"taskToken"`
	Output    json.RawMessage `json:"output"`
}

type taskFailure struct {
	TaskToken string `json:"taskToken"`
	Error     string `json:"error"`
	Cause     string `json:"cause"`
}

func (r *HTTPResumer) Succeed(ctx context.Context, token string, output json.RawMessage) error {
	if len(output) == 0 {
		output = json.RawMessage("{}")
	}
	return r.send(ctx, "/task-success", token, taskSuccess{TaskToken: token, Output: output})
}

func (r *HTTPResumer) Fail(ctx context.Context, token, errorName, cause string) error {
	return r.send(ctx, "/task-failure", token, taskFailure{TaskToken: token, Error: errorName, Cause: cause})
}

func (r *HTTPResumer) send(ctx context.Context, path, token string, body any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode task outcome: %w", err)
	}
	return r.client.Call(ctx, func(ctx context.Context, call resilience.Call) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return err
		}
		for name, values := range call.Header {
			for _, v := range values {
				req.Header.Add(name, v)
			}
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := r.http.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		if resp.StatusCode >= 400 {
			return &StatusError{Status: resp.StatusCode, Path: path}
		}
		return nil
	}, resilience.WithIdempotencyKey(resumeKey(path, token)))
}

// resumeKey is stable per token and outcome so redelivered resumes collapse.
func resumeKey(path, token string) string {
	sum := sha256.Sum256([]byte(path + "|" + token))
	return "resume-" + hex.EncodeToString(sum[:])[:32]
}

// StatusError is a non-2xx orchestrator answer.
type StatusError struct {
	Status int
	Path   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("orchestrator %s answered %d", e.Path, e.Status)
}

func (e *StatusError) StatusCode() int { return e.Status }

// Resolution is one outcome delivered to a MemoryResumer.
type Resolution struct {
	Token     string
	Succeeded bool
	Output    json.RawMessage
	ErrorName string
	Cause     string
}

// MemoryResumer records outcomes in process.
type MemoryResumer struct {
	mu          sync.Mutex
	resolutions []Resolution
	Err         error
}

func (m *MemoryResumer) Succeed(_ context.Context, token string, output json.RawMessage) error {
	return m.record(Resolution{Token: token, Succeeded: true, Output: output})
}

func (m *MemoryResumer) Fail(_ context.Context, token, errorName, cause string) error {
	return m.record(Resolution{Token: token, ErrorName: errorName, Cause: cause})
}

func (m *MemoryResumer) record(res Resolution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.resolutions = append(m.resolutions, res)
	return nil
}

// Resolutions returns a copy of the recorded outcomes.
func (m *MemoryResumer) Resolutions() []Resolution {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Resolution(nil), m.resolutions...)
}

// Continuations registers and resolves pending callbacks.
type Continuations struct {
	store   Store
	resumer Resumer
	ttl     time.Duration
	now     func() time.Time
}

// NewContinuations constructs Continuations. A zero ttl keeps pending
// callbacks until resolved.
func NewContinuations(store Store, resumer Resumer, ttl time.Duration) *Continuations {
	return &Continuations{store: store, resumer: resumer, ttl: ttl, now: time.Now}
}

// Register stores the continuation token for correlationID, replacing any
// earlier one.
func (c *Continuations) Register(ctx context.Context, correlationID, token string, payload []byte) error {
	return c.store.Put(ctx, saga.PendingCallback{
		CorrelationID:     correlationID,
		ContinuationToken: token,
		Payload:           payload,
		CreatedAt:         c.now().UTC(),
	}, c.ttl)
}

// Pending returns the pending callback without consuming it.
func (c *Continuations) Pending(ctx context.Context, correlationID string) (saga.PendingCallback, error) {
	return c.store.Get(ctx, correlationID)
}

// Resolve consumes the pending callback and resumes the orchestrator. The
// callback is removed even when resuming fails. saga.ErrCallbackNotFound is
// returned when nothing is pending.
func (c *Continuations) Resolve(ctx context.Context, correlationID string, confirmed bool, output json.RawMessage, errorName, cause string) (saga.PendingCallback, error) {
	cb, err := c.store.Take(ctx, correlationID)
	if err != nil {
		return saga.PendingCallback{}, err
	}
	if confirmed {
		err = c.resumer.Succeed(ctx, cb.ContinuationToken, output)
	} else {
		err = c.resumer.Fail(ctx, cb.ContinuationToken, errorName, cause)
	}
	if err != nil {
		return cb, fmt.Errorf("resume %s: %w", correlationID, err)
	}
	return cb, nil
}
