// Package memledger is an in-process value-transfer rail for development
// and tests.
package memledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"escrowlane/services/escrow/internal/ledger"

	"github.com/google/uuid"
)

var ErrInsufficientFunds = errors.New("memledger: insufficient funds")

type Transfer struct {
	Amount    uint64
	To        ledger.Address
	Reference string
	TxID      string
}

type Ledger struct {
	mu        sync.Mutex
	account   ledger.Address
	native    map[ledger.Address]uint64
	tokens    map[ledger.Address]uint64
	transfers []Transfer
	byRef     map[string]ledger.Receipt
	failures  []error
	hook      func(ctx context.Context, req ledger.TransferRequest) error
}

var _ ledger.Ledger = (*Ledger)(nil)

// New returns a rail whose own account holds tokenFloat payout tokens.
func New(account ledger.Address, tokenFloat uint64) *Ledger {
	return &Ledger{
		account: account,
		native:  map[ledger.Address]uint64{},
		tokens:  map[ledger.Address]uint64{account: tokenFloat},
		byRef:   map[string]ledger.Receipt{},
	}
}

// FailNext makes the next transfer report err without moving funds.
func (l *Ledger) FailNext(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures = append(l.failures, err)
}

// OnTransfer installs a hook run before each transfer settles, outside the
// rail's lock. A non-nil return fails the transfer.
func (l *Ledger) OnTransfer(fn func(ctx context.Context, req ledger.TransferRequest) error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hook = fn
}

func (l *Ledger) SetNativeBalance(addr ledger.Address, v uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.native[addr] = v
}

func (l *Ledger) Transfers() []Transfer {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Transfer, len(l.transfers))
	copy(out, l.transfers)
	return out
}

func (l *Ledger) Transfer(ctx context.Context, req ledger.TransferRequest) (ledger.Receipt, error) {
	l.mu.Lock()
	hook := l.hook
	l.mu.Unlock()
	if hook != nil {
		if err := hook(ctx, req); err != nil {
			return ledger.Receipt{}, err
		}
	}
	if err := ctx.Err(); err != nil {
		return ledger.Receipt{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.failures) > 0 {
		err := l.failures[0]
		l.failures = l.failures[1:]
		return ledger.Receipt{}, err
	}
	if req.Reference != "" {
		if r, ok := l.byRef[req.Reference]; ok {
			return r, nil
		}
	}
	if l.tokens[l.account] < req.Amount {
		return ledger.Receipt{}, fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, l.tokens[l.account], req.Amount)
	}
	l.tokens[l.account] -= req.Amount
	l.tokens[req.To] += req.Amount

	r := ledger.Receipt{TxID: "tx_" + uuid.NewString(), Detail: fmt.Sprintf("%d to %s", req.Amount, req.To)}
	l.transfers = append(l.transfers, Transfer{Amount: req.Amount, To: req.To, Reference: req.Reference, TxID: r.TxID})
	if req.Reference != "" {
		l.byRef[req.Reference] = r
	}
	return r, nil
}

func (l *Ledger) Balance(ctx context.Context, addr ledger.Address) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return strconv.FormatUint(l.native[addr], 10), nil
}

func (l *Ledger) TokenBalance(ctx context.Context, addr *ledger.Address) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	a := l.account
	if addr != nil {
		a = *addr
	}
	return strconv.FormatUint(l.tokens[a], 10), nil
}

func (l *Ledger) Address(ctx context.Context) (string, error) {
	return l.account.String(), nil
}
