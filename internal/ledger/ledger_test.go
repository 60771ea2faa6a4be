package ledger

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/sync/errgroup"

	"bookflow/internal/logging"
	"bookflow/internal/saga"
)

type failingAttempts struct{ err error }

func (f failingAttempts) Create(context.Context, saga.AttemptRecord) (bool, error) { return false, f.err }
func (f failingAttempts) Get(context.Context, string) (saga.AttemptRecord, error) {
	return saga.AttemptRecord{}, f.err
}
func (f failingAttempts) Complete(context.Context, string, string, time.Time) error { return f.err }

type failingAudits struct{ err error }

func (f failingAudits) Insert(context.Context, saga.AuditRecord) (bool, error) { return false, f.err }
func (f failingAudits) Upsert(context.Context, saga.AuditRecord) error         { return f.err }
func (f failingAudits) List(context.Context, string) ([]saga.AuditRecord, error) {
	return nil, f.err
}

type recordingPublisher struct {
	mu      sync.Mutex
	records []saga.AuditRecord
}

func (p *recordingPublisher) PublishAudit(rec saga.AuditRecord) {
	p.mu.Lock()
	p.records = append(p.records, rec)
	p.mu.Unlock()
}

func TestLedger_RecordAttempt_Duplicate(t *testing.T) {
	l := NewMemory(WithLogger(logging.Nop()))
	ctx := context.Background()

	created, err := l.RecordAttempt(ctx, "pay-1", "corr-1", 1000)
	if err != nil || !created {
		t.Fatalf("expected created, got %v err=%v", created, err)
	}
	created, err = l.RecordAttempt(ctx, "pay-1", "corr-1", 1000)
	if err != nil {
		t.Fatalf("duplicate must not error: %v", err)
	}
	if created {
		t.Fatalf("expected duplicate to report created=false")
	}
}

func TestLedger_RecordAttempt_ConcurrentRace(t *testing.T) {
	l := NewMemory(WithLogger(logging.Nop()))
	var winners atomic.Int32

	var g errgroup.Group
	for i := 0; i < 32; i++ {
		g.Go(func() error {
			created, err := l.RecordAttempt(context.Background(), "race-key", "corr-1", 500)
			if err != nil {
				return err
			}
			if created {
				winners.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("record attempt: %v", err)
	}
	if winners.Load() != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners.Load())
	}
}

func TestLedger_RecordAttempt_StoreFailureIsTransient(t *testing.T) {
	l := New(failingAttempts{err: errors.New("connection refused")}, NewMemoryAuditStore(), WithLogger(logging.Nop()))
	_, err := l.RecordAttempt(context.Background(), "k", "c", 1)
	if saga.ErrorName(err) != saga.NameTransientProviderError {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestLedger_MarkCompleted(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	l := NewMemory(WithLogger(logging.Nop()), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	if _, err := l.RecordAttempt(ctx, "pay-1", "corr-1", 1000); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := l.MarkCompleted(ctx, "pay-1", "pi_123"); err != nil {
		t.Fatalf("mark completed: %v", err)
	}
	rec, err := l.Attempt(ctx, "pay-1")
	if err != nil {
		t.Fatalf("attempt: %v", err)
	}
	if rec.Status != saga.AttemptStatusCompleted || rec.ProviderReferenceID != "pi_123" {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if !rec.CompletedAt.Equal(now) {
		t.Fatalf("unexpected completed at: %v", rec.CompletedAt)
	}
}

func TestLedger_MarkCompleted_FailureIsTransient(t *testing.T) {
	l := New(failingAttempts{err: errors.New("timeout")}, NewMemoryAuditStore(), WithLogger(logging.Nop()))
	err := l.MarkCompleted(context.Background(), "k", "ref")
	if saga.ErrorName(err) != saga.NameTransientProviderError {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestLedger_Attempt_NotFound(t *testing.T) {
	l := NewMemory(WithLogger(logging.Nop()))
	if _, err := l.Attempt(context.Background(), "missing"); !errors.Is(err, saga.ErrAttemptNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestLedger_RecordAuditOnce(t *testing.T) {
	pub := &recordingPublisher{}
	l := NewMemory(WithLogger(logging.Nop()), WithPublisher(pub))
	ctx := context.Background()

	if !l.RecordAuditOnce(ctx, "corr-1", "booking_cancelled", saga.AuditStateCompleted, "") {
		t.Fatalf("expected first write to win")
	}
	if l.RecordAuditOnce(ctx, "corr-1", "booking_cancelled", saga.AuditStateFailed, "") {
		t.Fatalf("expected second write to be ignored")
	}
	trail, _ := l.Audit(ctx, "corr-1")
	if len(trail) != 1 || trail[0].State != saga.AuditStateCompleted {
		t.Fatalf("unexpected trail: %+v", trail)
	}
	if len(pub.records) != 1 {
		t.Fatalf("expected one published record, got %d", len(pub.records))
	}
}

func TestLedger_RecordAudit_UpsertTolerated(t *testing.T) {
	l := NewMemory(WithLogger(logging.Nop()))
	ctx := context.Background()

	l.RecordAudit(ctx, "corr-1", "process_booking", saga.AuditStateStarted, "")
	l.RecordAudit(ctx, "corr-1", "process_booking", saga.AuditStateSuccess, "bk-1")
	l.RecordAudit(ctx, "corr-2", "process_booking", saga.AuditStateStarted, "")

	trail, _ := l.Audit(ctx, "corr-1")
	if len(trail) != 1 || trail[0].State != saga.AuditStateSuccess || trail[0].Detail != "bk-1" {
		t.Fatalf("unexpected trail: %+v", trail)
	}
}

func TestLedger_AuditFailuresAreSwallowedAndLogged(t *testing.T) {
	var buf bytes.Buffer
	l := New(NewMemoryAttemptStore(), failingAudits{err: errors.New("throttled")},
		WithLogger(logging.New(&buf, nil)))
	ctx := context.Background()

	l.RecordAudit(ctx, "corr-1", "payment", saga.AuditStateSuccess, "")
	if l.RecordAuditOnce(ctx, "corr-1", "booking_cancelled", saga.AuditStateCompleted, "") {
		t.Fatalf("failed write must not report created")
	}
	out := buf.String()
	if strings.Count(out, saga.NameSagaWriteFailed) != 2 {
		t.Fatalf("expected two SagaWriteFailed log lines, got %q", out)
	}
	if !strings.Contains(out, `"correlation_id":"corr-1"`) {
		t.Fatalf("expected correlation id in log, got %q", out)
	}
}
