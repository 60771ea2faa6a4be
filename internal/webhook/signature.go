// Package webhook signs and verifies inbound webhook deliveries.
//
// A signature is hex(HMAC-SHA256(secret, rawBody + "." + timestamp)) where
// timestamp is the X-Timestamp header value in unix seconds.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"
)

const (
	HeaderSignature = "X-Signature"
	HeaderTimestamp = "X-Timestamp"

	signaturePrefix = "sha256="
)

var (
	ErrMissingHeaders   = errors.New("missing signature headers")
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	ErrStaleTimestamp   = errors.New("timestamp outside allowed skew")
	ErrInvalidSignature = errors.New("invalid signature")
)

// Sign returns the hex signature for body at timestamp.
func Sign(secret string, body []byte, timestamp string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	mac.Write([]byte("."))
	mac.Write([]byte(timestamp))
	return hex.EncodeToString(mac.Sum(nil))
}

// Headers returns the signature and timestamp header values for body at now.
func Headers(secret string, body []byte, now time.Time) (signature, timestamp string) {
	timestamp = strconv.FormatInt(now.Unix(), 10)
	return Sign(secret, body, timestamp), timestamp
}

// CheckHeaders validates presence and freshness, the checks that need no
// secret. A timestamp further than skew from now, in either direction, is
// stale.
func CheckHeaders(signature, timestamp string, now time.Time, skew time.Duration) error {
	if strings.TrimSpace(signature) == "" || strings.TrimSpace(timestamp) == "" {
		return ErrMissingHeaders
	}
	ts, err := ParseTimestamp(timestamp)
	if err != nil {
		return err
	}
	age := now.Sub(ts)
	if age < 0 {
		age = -age
	}
	if age > skew {
		return ErrStaleTimestamp
	}
	return nil
}

// Verify checks headers then compares the signature in constant time. An
// optional "sha256=" prefix on signature is accepted.
func Verify(secret string, body []byte, signature, timestamp string, now time.Time, skew time.Duration) error {
	if err := CheckHeaders(signature, timestamp, now, skew); err != nil {
		return err
	}
	return VerifySignature(secret, body, signature, timestamp)
}

// VerifySignature compares signature against the expected value.
func VerifySignature(secret string, body []byte, signature, timestamp string) error {
	given := strings.TrimPrefix(strings.TrimSpace(signature), signaturePrefix)
	decoded, err := hex.DecodeString(given)
	if err != nil {
		return ErrInvalidSignature
	}
	expected, _ := hex.DecodeString(Sign(secret, body, strings.TrimSpace(timestamp)))
	if !hmac.Equal(decoded, expected) {
		return ErrInvalidSignature
	}
	return nil
}

// ParseTimestamp accepts unix seconds. Millisecond values are tolerated.
func ParseTimestamp(raw string) (time.Time, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || n <= 0 {
		return time.Time{}, ErrInvalidTimestamp
	}
	if n > 1e12 {
		return time.UnixMilli(n), nil
	}
	return time.Unix(n, 0), nil
}
