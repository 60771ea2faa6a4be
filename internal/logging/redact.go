package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
)

const (
	// Redacted replaces values stored under sensitive keys and pii messages.
	Redacted = "[REDACTED]"
	// RedactedEmail replaces email-shaped substrings inside string values.
	RedactedEmail = "[REDACTED_EMAIL]"
)

var (
	sensitiveKey = regexp.MustCompile(`(?i)password|secret|token|ssn|dob|email`)
	emailPattern = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
)

type redactHandler struct {
	next slog.Handler
	// pii is set once a logger carries pii=true through With.
	pii bool
}

func (h *redactHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *redactHandler) Handle(ctx context.Context, r slog.Record) error {
	msg := r.Message
	if h.pii {
		msg = Redacted
	}
	attrs := make([]slog.Attr, 0, r.NumAttrs())
	r.Attrs(func(a slog.Attr) bool {
		if isPIIFlag(a) {
			msg = Redacted
		}
		attrs = append(attrs, RedactAttr(a))
		return true
	})
	out := slog.NewRecord(r.Time, r.Level, msg, r.PC)
	out.AddAttrs(attrs...)
	return h.next.Handle(ctx, out)
}

func (h *redactHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	pii := h.pii
	redacted := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		if isPIIFlag(a) {
			pii = true
		}
		redacted[i] = RedactAttr(a)
	}
	return &redactHandler{next: h.next.WithAttrs(redacted), pii: pii}
}

func (h *redactHandler) WithGroup(name string) slog.Handler {
	return &redactHandler{next: h.next.WithGroup(name), pii: h.pii}
}

func isPIIFlag(a slog.Attr) bool {
	v := a.Value.Resolve()
	return a.Key == "pii" && v.Kind() == slog.KindBool && v.Bool()
}

// RedactAttr returns a copy of a with sensitive keys and email-shaped values
// masked, recursing into groups, maps and slices.
func RedactAttr(a slog.Attr) slog.Attr {
	a.Value = a.Value.Resolve()
	if sensitiveKey.MatchString(a.Key) {
		return slog.String(a.Key, Redacted)
	}
	switch a.Value.Kind() {
	case slog.KindString:
		return slog.String(a.Key, RedactString(a.Value.String()))
	case slog.KindGroup:
		group := a.Value.Group()
		out := make([]slog.Attr, len(group))
		for i, g := range group {
			out[i] = RedactAttr(g)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(out...)}
	case slog.KindAny:
		return slog.Any(a.Key, redactAny(a.Value.Any()))
	default:
		return a
	}
}

// RedactString masks every email-shaped substring of s.
func RedactString(s string) string {
	return emailPattern.ReplaceAllString(s, RedactedEmail)
}

func redactAny(v any) any {
	switch t := v.(type) {
	case nil:
		return nil
	case bool, json.Number:
		return t
	case string:
		return RedactString(t)
	case error:
		return RedactString(t.Error())
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if sensitiveKey.MatchString(k) {
				out[k] = Redacted
				continue
			}
			out[k] = redactAny(val)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, val := range t {
			if sensitiveKey.MatchString(k) {
				out[k] = Redacted
				continue
			}
			out[k] = RedactString(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = redactAny(val)
		}
		return out
	case []string:
		out := make([]string, len(t))
		for i, val := range t {
			out[i] = RedactString(val)
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = redactAny(val)
		}
		return out
	default:
		return redactAny(normalize(v))
	}
}

// normalize converts structs, typed maps and slices into the generic JSON
// shapes redactAny walks. Values that cannot be encoded collapse to their
// printed form.
func normalize(v any) any {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return fmt.Sprint(v)
	}
	return out
}
