package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestPayCommand(t *testing.T) {
	var auth string
	var body map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/escrow/contracts/c1/payments" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("content-type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"payout": map[string]any{"payout_id": "pay_1", "state": "COMMITTED"}})
	}))
	defer srv.Close()

	out, err := runCLI(t, "--url", srv.URL, "--principal", "prn_frontend",
		"contracts", "pay", "c1", "--seller", "prn_seller", "--to", "0x0a00000000000000000000000000000000000000", "--amount", "25")
	if err != nil {
		t.Fatalf("pay: %v", err)
	}
	if auth != "Principal prn_frontend" {
		t.Fatalf("unexpected auth %q", auth)
	}
	if body["seller"] != "prn_seller" || body["amount"] != float64(25) {
		t.Fatalf("unexpected body %v", body)
	}
	if !strings.Contains(out, `"state": "COMMITTED"`) {
		t.Fatalf("unexpected output %s", out)
	}
}

func TestPayRequiresFlags(t *testing.T) {
	if _, err := runCLI(t, "--url", "http://127.0.0.1:0", "contracts", "pay", "c1", "--seller", "s"); err == nil {
		t.Fatalf("expected missing flag error")
	}
}

func TestUsersCreateRejectsUnknownRole(t *testing.T) {
	if _, err := runCLI(t, "--url", "http://127.0.0.1:0", "users", "create", "prn_x", "ROOT"); err == nil {
		t.Fatalf("expected role parse error")
	}
}

func TestServiceErrorSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]any{"code": "PERMISSION_DENIED", "message": "caller not authorized to sign this contract"}})
	}))
	defer srv.Close()

	_, err := runCLI(t, "--url", srv.URL, "--principal", "prn_stranger", "contracts", "sign", "c1")
	if err == nil || !strings.Contains(err.Error(), "PERMISSION_DENIED") {
		t.Fatalf("expected permission error, got %v", err)
	}
}
