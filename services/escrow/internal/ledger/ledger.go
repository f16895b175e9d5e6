// Package ledger describes the external value-transfer rail payouts go
// through. The rail reports success or failure and nothing stronger.
package ledger

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
)

const AddressLength = 20

var ErrInvalidAddress = errors.New("ledger: invalid address")

// Address is a fixed-length account identifier on the rail.
type Address [AddressLength]byte

// ParseAddress accepts 40 hex characters with an optional 0x prefix.
func ParseAddress(s string) (Address, error) {
	var a Address
	h := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(s), "0x"), "0X")
	if len(h) != 2*AddressLength {
		return a, ErrInvalidAddress
	}
	if _, err := hex.Decode(a[:], []byte(h)); err != nil {
		return a, ErrInvalidAddress
	}
	return a, nil
}

func (a Address) String() string { return "0x" + hex.EncodeToString(a[:]) }

func (a Address) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Address) UnmarshalText(b []byte) error {
	v, err := ParseAddress(string(b))
	if err != nil {
		return err
	}
	*a = v
	return nil
}

type TransferRequest struct {
	Amount uint64
	To     Address
	// Reference is forwarded to rails that deduplicate on an idempotency key.
	Reference string
}

type Receipt struct {
	TxID   string `json:"tx_id"`
	Detail string `json:"detail,omitempty"`
}

type Ledger interface {
	Transfer(ctx context.Context, req TransferRequest) (Receipt, error)
	// Balance returns the native balance of addr as a decimal string.
	Balance(ctx context.Context, addr Address) (string, error)
	// TokenBalance returns the payout token balance of addr, or of the
	// service's own account when addr is nil.
	TokenBalance(ctx context.Context, addr *Address) (string, error)
	// Address returns the service's own account on the rail.
	Address(ctx context.Context) (string, error)
}
