package webhook

import (
	"errors"
	"strconv"
	"testing"
	"time"
)

const testSecret = "whsec_test"

func TestSignAndVerify(t *testing.T) {
	now := time.Unix(1760000000, 0)
	body := []byte(`{"correlationId":"corr-1","status":"confirmed"}`)
	sig, ts := Headers(testSecret, body, now)

	if err := Verify(testSecret, body, sig, ts, now, 300*time.Second); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := Verify(testSecret, body, "sha256="+sig, ts, now, 300*time.Second); err != nil {
		t.Fatalf("verify with prefix: %v", err)
	}
}

func TestVerify_Rejections(t *testing.T) {
	now := time.Unix(1760000000, 0)
	body := []byte(`{"correlationId":"corr-1","status":"confirmed"}`)
	sig, ts := Headers(testSecret, body, now)
	stale := strconv.FormatInt(now.Add(-301*time.Second).Unix(), 10)
	staleSig := Sign(testSecret, body, stale)

	cases := []struct {
		name      string
		secret    string
		body      []byte
		signature string
		timestamp string
		want      error
	}{
		{"missing signature", testSecret, body, "", ts, ErrMissingHeaders},
		{"missing timestamp", testSecret, body, sig, "", ErrMissingHeaders},
		{"garbage timestamp", testSecret, body, sig, "yesterday", ErrInvalidTimestamp},
		{"stale", testSecret, body, staleSig, stale, ErrStaleTimestamp},
		{"future", testSecret, body, sig, strconv.FormatInt(now.Add(10*time.Minute).Unix(), 10), ErrStaleTimestamp},
		{"wrong secret", "other", body, sig, ts, ErrInvalidSignature},
		{"tampered body", testSecret, []byte(`{"correlationId":"corr-2","status":"confirmed"}`), sig, ts, ErrInvalidSignature},
		{"non-hex", testSecret, body, "zz", ts, ErrInvalidSignature},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Verify(tc.secret, tc.body, tc.signature, tc.timestamp, now, 300*time.Second)
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestCheckHeaders_BoundaryIsInclusive(t *testing.T) {
	now := time.Unix(1760000000, 0)
	ts := strconv.FormatInt(now.Add(-300*time.Second).Unix(), 10)
	if err := CheckHeaders("sig", ts, now, 300*time.Second); err != nil {
		t.Fatalf("exactly skew old must pass, got %v", err)
	}
}

func TestParseTimestamp_Millis(t *testing.T) {
	got, err := ParseTimestamp("1760000000123")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.UnixMilli() != 1760000000123 {
		t.Fatalf("unexpected time %v", got)
	}
}
