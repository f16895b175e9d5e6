package ledger

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseAddress(t *testing.T) {
	const text = "0x1c7d4b196cb0c7b01d743fbc6116a902379c7238"
	a, err := ParseAddress(text)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if a.String() != text {
		t.Fatalf("expected %s, got %s", text, a.String())
	}
	b, err := ParseAddress("1C7D4B196CB0C7B01D743FBC6116A902379C7238")
	if err != nil || b != a {
		t.Fatalf("expected unprefixed upper-case form to parse to same address, err=%v", err)
	}
}

func TestParseAddressRejects(t *testing.T) {
	for _, s := range []string{"", "0x", "0x1234", "0xzz7d4b196cb0c7b01d743fbc6116a902379c7238", "0x1c7d4b196cb0c7b01d743fbc6116a902379c723800"} {
		if _, err := ParseAddress(s); !errors.Is(err, ErrInvalidAddress) {
			t.Fatalf("%q: expected ErrInvalidAddress, got %v", s, err)
		}
	}
}

func TestAddressJSON(t *testing.T) {
	var v struct {
		To Address `json:"to"`
	}
	if err := json.Unmarshal([]byte(`{"to":"0x779877a7b0d9e8603169ddbd7836e478b4624789"}`), &v); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	out, _ := json.Marshal(v)
	if string(out) != `{"to":"0x779877a7b0d9e8603169ddbd7836e478b4624789"}` {
		t.Fatalf("unexpected json %s", out)
	}
	if err := json.Unmarshal([]byte(`{"to":"nope"}`), &v); err == nil {
		t.Fatalf("expected decode error")
	}
}
