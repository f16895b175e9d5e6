// Package reqsign signs and verifies outbound request bodies with a shared
// HMAC-SHA256 secret. The signed message is "<unix-seconds>.<body>".
package reqsign

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	SignatureHeader = "X-Signature"
	TimestampHeader = "X-Signature-Timestamp"
	Scheme          = "hmac-sha256/v1"

	DefaultTolerance = 5 * time.Minute
)

type Result struct {
	Valid   bool           `json:"valid"`
	Scheme  string         `json:"scheme"`
	Details map[string]any `json:"details"`
}

// Sign sets the signature headers on h for body.
func Sign(h http.Header, body []byte, secret string, now time.Time) error {
	if strings.TrimSpace(secret) == "" {
		return fmt.Errorf("reqsign: secret is empty")
	}
	ts := strconv.FormatInt(now.Unix(), 10)
	h.Set(TimestampHeader, ts)
	h.Set(SignatureHeader, hex.EncodeToString(mac(secret, ts, body)))
	return nil
}

// Verify checks the signature headers against body. A missing or stale
// signature is reported as Valid=false, not as an error.
func Verify(h http.Header, body []byte, receivedAt time.Time, secret string, tolerance time.Duration) (Result, error) {
	if strings.TrimSpace(secret) == "" {
		return Result{}, fmt.Errorf("reqsign: secret is empty")
	}
	res := Result{
		Scheme: Scheme,
		Details: map[string]any{
			"signature_header_present": false,
			"signature_hex_decodable":  false,
			"timestamp_within_window":  false,
		},
	}

	sigHex := strings.TrimSpace(h.Get(SignatureHeader))
	if sigHex == "" {
		return res, nil
	}
	res.Details["signature_header_present"] = true
	provided, err := hex.DecodeString(sigHex)
	if err != nil {
		return res, nil
	}
	res.Details["signature_hex_decodable"] = true

	ts := strings.TrimSpace(h.Get(TimestampHeader))
	secs, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return res, nil
	}
	skew := receivedAt.Sub(time.Unix(secs, 0))
	if skew < 0 {
		skew = -skew
	}
	if tolerance > 0 && skew > tolerance {
		return res, nil
	}
	res.Details["timestamp_within_window"] = true

	res.Valid = hmac.Equal(mac(secret, ts, body), provided)
	return res, nil
}

func mac(secret, ts string, body []byte) []byte {
	m := hmac.New(sha256.New, []byte(secret))
	_, _ = m.Write([]byte(ts))
	_, _ = m.Write([]byte("."))
	_, _ = m.Write(body)
	return m.Sum(nil)
}
