package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"
)

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected exactly one line, got %d: %q", len(lines), buf.String())
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &out); err != nil {
		t.Fatalf("decode line: %v", err)
	}
	return out
}

func TestLog_EmitsSingleJSONLine(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelDebug)

	Log(context.Background(), logger, slog.LevelInfo, "payment completed", map[string]any{
		"correlation_id": "c-1",
		"amount":         5000,
	})

	line := decodeLine(t, &buf)
	if line["level"] != "info" {
		t.Fatalf("unexpected level: %v", line["level"])
	}
	if line["msg"] != "payment completed" {
		t.Fatalf("unexpected msg: %v", line["msg"])
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("expected timestamp key, got %v", line)
	}
	if line["correlation_id"] != "c-1" {
		t.Fatalf("expected context field, got %v", line)
	}
}

func TestLog_RedactsSensitiveKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelInfo)

	Log(context.Background(), logger, slog.LevelInfo, "login", map[string]any{
		"password":       "hunter2",
		"clientSecret":   "s3cr3t",
		"taskToken":      "tok-123",
		"customer_email": "a@b.co",
		"DOB":            "1990-01-01",
	})

	out := buf.String()
	for _, raw := range []string{"hunter2", "s3cr3t", "tok-123", "a@b.co", "1990-01-01"} {
		if strings.Contains(out, raw) {
			t.Fatalf("raw value %q leaked: %s", raw, out)
		}
	}
	line := decodeLine(t, &buf)
	if line["password"] != Redacted {
		t.Fatalf("expected password redacted, got %v", line["password"])
	}
}

func TestLog_RedactsEmailValuesInline(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelInfo)

	Log(context.Background(), logger, slog.LevelInfo, "notify", map[string]any{
		"note": "contact jane.doe@example.com today",
	})

	line := decodeLine(t, &buf)
	if line["note"] != "contact "+RedactedEmail+" today" {
		t.Fatalf("unexpected note: %v", line["note"])
	}
}

func TestLog_RedactsNestedStructures(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelInfo)

	Log(context.Background(), logger, slog.LevelWarn, "nested", map[string]any{
		"customer": map[string]any{
			"name":  "Jane",
			"ssn":   "123-45-6789",
			"notes": []any{"reach me at j@x.io"},
		},
	})

	out := buf.String()
	if strings.Contains(out, "123-45-6789") || strings.Contains(out, "j@x.io") {
		t.Fatalf("nested value leaked: %s", out)
	}
	line := decodeLine(t, &buf)
	customer, ok := line["customer"].(map[string]any)
	if !ok {
		t.Fatalf("expected customer object, got %T", line["customer"])
	}
	if customer["name"] != "Jane" {
		t.Fatalf("expected non-sensitive value kept, got %v", customer["name"])
	}
}

type guest struct {
	Name     string
	Email    string
	Password string
	Nights   int
}

func TestLog_RedactsStructsAndTypedCollections(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelInfo)

	Log(context.Background(), logger, slog.LevelInfo, "typed", map[string]any{
		"guest":    guest{Name: "Jane", Email: "jane@example.com", Password: "hunter2", Nights: 3},
		"attempts": []map[string]any{{"password": "hunter3", "note": "call bob@example.com"}},
		"ids":      map[string]int{"ssn": 123456789, "room": 42},
		"ptr":      &guest{Name: "Sam", Password: "hunter4"},
	})

	out := buf.String()
	for _, leaked := range []string{"jane@example.com", "hunter2", "hunter3", "bob@example.com", "123456789", "hunter4"} {
		if strings.Contains(out, leaked) {
			t.Fatalf("%q leaked: %s", leaked, out)
		}
	}

	line := decodeLine(t, &buf)
	g, ok := line["guest"].(map[string]any)
	if !ok {
		t.Fatalf("expected guest object, got %T", line["guest"])
	}
	if g["Name"] != "Jane" || g["Email"] != Redacted || g["Password"] != Redacted {
		t.Fatalf("unexpected guest %v", g)
	}
	if g["Nights"] != float64(3) {
		t.Fatalf("expected numeric field kept, got %v", g["Nights"])
	}
	attempts, ok := line["attempts"].([]any)
	if !ok || len(attempts) != 1 {
		t.Fatalf("expected one attempt, got %v", line["attempts"])
	}
	first := attempts[0].(map[string]any)
	if first["note"] != "call "+RedactedEmail {
		t.Fatalf("expected inline email masked, got %v", first["note"])
	}
	ids := line["ids"].(map[string]any)
	if ids["ssn"] != Redacted || ids["room"] != float64(42) {
		t.Fatalf("unexpected ids %v", ids)
	}
}

func TestLog_PIIFlagRedactsMessage(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelInfo)

	Log(context.Background(), logger, slog.LevelInfo, "guest Jane Doe checked in", map[string]any{"pii": true})

	line := decodeLine(t, &buf)
	if line["msg"] != Redacted {
		t.Fatalf("expected message redacted, got %v", line["msg"])
	}
}

func TestLogger_PIIFlagViaWithRedactsMessage(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelInfo).With("pii", true).WithGroup("ctx")

	logger.Info("guest Jane Doe checked in", "room", "12")

	line := decodeLine(t, &buf)
	if line["msg"] != Redacted {
		t.Fatalf("expected message redacted, got %v", line["msg"])
	}
}

func TestLogger_RedactsAttrsAndErrors(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelInfo).With("api_token", "abc")

	logger.Error("provider failed", "error", errors.New("bad address x@y.com"), slog.Group("req", slog.String("password", "p")))

	out := buf.String()
	if strings.Contains(out, "abc") || strings.Contains(out, "x@y.com") || strings.Contains(out, `"p"`) {
		t.Fatalf("sensitive value leaked: %s", out)
	}
}

func TestLog_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelWarn)

	Log(context.Background(), logger, slog.LevelInfo, "dropped", nil)
	if buf.Len() != 0 {
		t.Fatalf("expected info to be filtered, got %s", buf.String())
	}
}

func TestLog_AddsTraceContext(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&buf, slog.LevelInfo)

	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	Log(ctx, logger, slog.LevelInfo, "traced", nil)

	line := decodeLine(t, &buf)
	if line["trace_id"] != "0102030405060708090a0b0c0d0e0f10" || line["span_id"] != "0102030405060708" {
		t.Fatalf("expected trace fields, got %v", line)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug": slog.LevelDebug,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
		"info":  slog.LevelInfo,
		"":      slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q)=%v want=%v", in, got, want)
		}
	}
}
