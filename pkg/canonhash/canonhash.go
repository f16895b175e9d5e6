// Package canonhash produces stable digests of JSON-shaped values.
package canonhash

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

const prefix = "sha256:"

// SumObject hashes the JSON encoding of v. Map keys are emitted in sorted
// order so two maps holding the same entries hash the same.
func SumObject(v any) (string, []byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", nil, err
	}
	return sum(b), b, nil
}

// SumJSON hashes a raw JSON document after normalizing it, so whitespace and
// key order do not change the digest. An empty body hashes as null.
func SumJSON(raw []byte) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		raw = []byte("null")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return "", fmt.Errorf("canonhash: %w", err)
	}
	h, _, err := SumObject(v)
	return h, err
}

func sum(b []byte) string {
	s := sha256.Sum256(b)
	return prefix + hex.EncodeToString(s[:])
}
