package lifecycle

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"escrowlane/pkg/apierr"
	"escrowlane/pkg/domain"
	"escrowlane/pkg/identity"
	"escrowlane/pkg/kv/memkv"
	"escrowlane/services/escrow/internal/contracts"
	"escrowlane/services/escrow/internal/ledger"
	"escrowlane/services/escrow/internal/ledger/memledger"
	"escrowlane/services/escrow/internal/metrics"
)

const (
	buyer  identity.Identity = "prn_buyer"
	seller identity.Identity = "prn_seller"
)

var (
	treasury = ledger.Address{0xee}
	payee    = ledger.Address{0x0a}
)

type harness struct {
	svc  *Service
	rail *memledger.Ledger
	ctx  context.Context
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	rail := memledger.New(treasury, 1_000_000)
	return &harness{
		svc:  New(contracts.New(memkv.New()), NewJournal(memkv.New()), rail, WithMetrics(metrics.New())),
		rail: rail,
		ctx:  context.Background(),
	}
}

func (h *harness) signedContract(t *testing.T) string {
	t.Helper()
	id, err := h.svc.Create(h.ctx, `{"item":"crate"}`, buyer, seller)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := h.svc.Sign(h.ctx, id.String(), buyer); err != nil {
		t.Fatalf("buyer sign: %v", err)
	}
	if err := h.svc.Sign(h.ctx, id.String(), seller); err != nil {
		t.Fatalf("seller sign: %v", err)
	}
	return id.String()
}

func (h *harness) contract(t *testing.T, id string) domain.Contract {
	t.Helper()
	c, ok, err := h.svc.Get(h.ctx, id)
	if err != nil || !ok {
		t.Fatalf("get %s: ok=%v err=%v", id, ok, err)
	}
	return c
}

func pay(id string, amount uint64) PaymentRequest {
	return PaymentRequest{ContractID: id, Seller: seller, Destination: payee, Amount: amount}
}

func TestSignByStrangerDenied(t *testing.T) {
	h := newHarness(t)
	id, _ := h.svc.Create(h.ctx, "p", buyer, seller)
	err := h.svc.Sign(h.ctx, id.String(), "prn_mallory")
	if apierr.KindOf(err) != apierr.PermissionDenied {
		t.Fatalf("expected PERMISSION_DENIED, got %v", err)
	}
	c := h.contract(t, id.String())
	if c.Signatories.Buyer.Signed || c.Signatories.Seller.Signed {
		t.Fatalf("expected no flag to change, got %+v", c.Signatories)
	}
}

func TestSignErrors(t *testing.T) {
	h := newHarness(t)
	if err := h.svc.Sign(h.ctx, "garbage", buyer); apierr.KindOf(err) != apierr.InvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT, got %v", err)
	}
	missing := domain.NewContractID().String()
	if err := h.svc.Sign(h.ctx, missing, buyer); apierr.KindOf(err) != apierr.NotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestIsSignedRequiresBothParties(t *testing.T) {
	h := newHarness(t)
	id, _ := h.svc.Create(h.ctx, "p", buyer, seller)

	signed, err := h.svc.IsSigned(h.ctx, id.String())
	if err != nil || signed {
		t.Fatalf("expected unsigned, got %v err=%v", signed, err)
	}
	_ = h.svc.Sign(h.ctx, id.String(), seller)
	if signed, _ := h.svc.IsSigned(h.ctx, id.String()); signed {
		t.Fatalf("expected seller alone not to be enough")
	}
	_ = h.svc.Sign(h.ctx, id.String(), buyer)
	if signed, _ := h.svc.IsSigned(h.ctx, id.String()); !signed {
		t.Fatalf("expected signed after both parties")
	}
	for i := 0; i < 3; i++ {
		if err := h.svc.Sign(h.ctx, id.String(), buyer); err != nil {
			t.Fatalf("re-sign should be idempotent: %v", err)
		}
	}
	if signed, _ := h.svc.IsSigned(h.ctx, id.String()); !signed {
		t.Fatalf("expected signed to survive repeated signing")
	}
}

func TestIsSignedErrors(t *testing.T) {
	h := newHarness(t)
	if _, err := h.svc.IsSigned(h.ctx, "nope"); apierr.KindOf(err) != apierr.InvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT, got %v", err)
	}
	if _, err := h.svc.IsSigned(h.ctx, domain.NewContractID().String()); apierr.KindOf(err) != apierr.NotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestGet(t *testing.T) {
	h := newHarness(t)
	if _, _, err := h.svc.Get(h.ctx, "nope"); apierr.KindOf(err) != apierr.InvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT for malformed id, got %v", err)
	}
	if _, ok, err := h.svc.Get(h.ctx, domain.NewContractID().String()); err != nil || ok {
		t.Fatalf("expected plain miss for unknown id, ok=%v err=%v", ok, err)
	}
}

func TestIssuePaymentPreconditions(t *testing.T) {
	h := newHarness(t)
	unsigned, _ := h.svc.Create(h.ctx, "p", buyer, seller)
	signed := h.signedContract(t)

	cases := []struct {
		name string
		req  PaymentRequest
		want apierr.Kind
	}{
		{"malformed id", pay("zzz", 100), apierr.InvalidArgument},
		{"unknown contract", pay(domain.NewContractID().String(), 100), apierr.NotFound},
		{"zero amount", pay(signed, 0), apierr.InvalidArgument},
		{"not the seller", PaymentRequest{ContractID: signed, Seller: buyer, Destination: payee, Amount: 100}, apierr.PermissionDenied},
		{"not signed", pay(unsigned.String(), 100), apierr.FailedPrecondition},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.IssuePayment(h.ctx, tc.req)
			if apierr.KindOf(err) != tc.want {
				t.Fatalf("expected %s, got %v", tc.want, err)
			}
		})
	}
	if n := len(h.rail.Transfers()); n != 0 {
		t.Fatalf("expected no transfer dispatched, got %d", n)
	}
}

func TestIssuePaymentAtMostOnce(t *testing.T) {
	h := newHarness(t)
	id := h.signedContract(t)

	p, err := h.svc.IssuePayment(h.ctx, pay(id, 100))
	if err != nil {
		t.Fatalf("issue payment: %v", err)
	}
	if p.State != PayoutCommitted || p.TxID == "" {
		t.Fatalf("expected committed payout with tx id, got %+v", p)
	}
	_, err = h.svc.IssuePayment(h.ctx, pay(id, 100))
	if apierr.KindOf(err) != apierr.FailedPrecondition || !strings.Contains(err.Error(), "already issued") {
		t.Fatalf("expected FAILED_PRECONDITION already issued, got %v", err)
	}
	if n := len(h.rail.Transfers()); n != 1 {
		t.Fatalf("expected exactly one transfer, got %d", n)
	}
	if !h.contract(t, id).PaymentIssued {
		t.Fatalf("expected payment flag to stay set")
	}
}

func TestIssuePaymentEndToEnd(t *testing.T) {
	h := newHarness(t)
	cid, err := h.svc.Create(h.ctx, `{"terms":"net30"}`, buyer, seller)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	id := cid.String()

	if _, err := h.svc.IssuePayment(h.ctx, pay(id, 100)); apierr.KindOf(err) != apierr.FailedPrecondition {
		t.Fatalf("expected FAILED_PRECONDITION before signing, got %v", err)
	}
	_ = h.svc.Sign(h.ctx, id, buyer)
	_ = h.svc.Sign(h.ctx, id, seller)
	if ok, _ := h.svc.IsSigned(h.ctx, id); !ok {
		t.Fatalf("expected signed")
	}

	h.rail.FailNext(errors.New("network"))
	failed, err := h.svc.IssuePayment(h.ctx, pay(id, 100))
	if apierr.KindOf(err) != apierr.Internal || !strings.Contains(err.Error(), "network") {
		t.Fatalf("expected INTERNAL carrying transfer detail, got %v", err)
	}
	if failed.State != PayoutRolledBack || failed.Failure != "network" {
		t.Fatalf("expected rolled back payout, got %+v", failed)
	}
	if h.contract(t, id).PaymentIssued {
		t.Fatalf("expected payment flag reset after failed transfer")
	}

	ok, err := h.svc.IssuePayment(h.ctx, pay(id, 100))
	if err != nil {
		t.Fatalf("expected retry to succeed: %v", err)
	}
	if ok.State != PayoutCommitted {
		t.Fatalf("expected committed payout, got %+v", ok)
	}
	if !h.contract(t, id).PaymentIssued {
		t.Fatalf("expected payment flag set after success")
	}

	if _, err := h.svc.IssuePayment(h.ctx, pay(id, 100)); apierr.KindOf(err) != apierr.FailedPrecondition {
		t.Fatalf("expected FAILED_PRECONDITION on third call, got %v", err)
	}

	history, err := h.svc.Payouts(h.ctx, id)
	if err != nil {
		t.Fatalf("payouts: %v", err)
	}
	if len(history) != 2 || history[0].State != PayoutRolledBack || history[1].State != PayoutCommitted {
		t.Fatalf("unexpected payout history %+v", history)
	}
	if history[0].PayoutID == history[1].PayoutID {
		t.Fatalf("expected each attempt to get its own saga")
	}
	if n := len(h.rail.Transfers()); n != 1 {
		t.Fatalf("expected one settled transfer, got %d", n)
	}
}

func TestConcurrentPayoutRejectedWhileTransferOutstanding(t *testing.T) {
	h := newHarness(t)
	id := h.signedContract(t)

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	h.rail.OnTransfer(func(ctx context.Context, req ledger.TransferRequest) error {
		once.Do(func() { close(entered) })
		<-release
		return nil
	})

	done := make(chan error, 1)
	go func() {
		_, err := h.svc.IssuePayment(h.ctx, pay(id, 100))
		done <- err
	}()
	<-entered

	// The first call is suspended inside the ledger; state reads and the
	// payout journal show the eager lock.
	if !h.contract(t, id).PaymentIssued {
		t.Fatalf("expected payment flag set while transfer outstanding")
	}
	history, _ := h.svc.Payouts(h.ctx, id)
	if len(history) != 1 || history[0].State != PayoutPending {
		t.Fatalf("expected one pending payout, got %+v", history)
	}
	if err := h.svc.Sign(h.ctx, id, buyer); err != nil {
		t.Fatalf("sign during suspension: %v", err)
	}
	_, err := h.svc.IssuePayment(h.ctx, pay(id, 100))
	if apierr.KindOf(err) != apierr.FailedPrecondition {
		t.Fatalf("expected competing payout to fail fast, got %v", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first payout: %v", err)
	}
	if n := len(h.rail.Transfers()); n != 1 {
		t.Fatalf("expected one transfer, got %d", n)
	}
}

func TestCancelledCallerStillRollsBack(t *testing.T) {
	h := newHarness(t)
	id := h.signedContract(t)

	ctx, cancel := context.WithCancel(h.ctx)
	h.rail.OnTransfer(func(ctx context.Context, req ledger.TransferRequest) error {
		cancel()
		return nil
	})
	_, err := h.svc.IssuePayment(ctx, pay(id, 100))
	if apierr.KindOf(err) != apierr.Internal || !errors.Is(err, context.Canceled) {
		t.Fatalf("expected INTERNAL wrapping context.Canceled, got %v", err)
	}
	if h.contract(t, id).PaymentIssued {
		t.Fatalf("expected rollback despite cancelled caller")
	}
}

type failingReset struct {
	ContractStore
}

func (f failingReset) UpdatePaymentStatus(ctx context.Context, id domain.ContractID, issued bool) error {
	if !issued {
		return apierr.Wrap(apierr.Internal, "store contract", errors.New("disk full"))
	}
	return f.ContractStore.UpdatePaymentStatus(ctx, id, issued)
}

func TestFailedRollbackLeavesSagaPending(t *testing.T) {
	repo := contracts.New(memkv.New())
	rail := memledger.New(treasury, 1000)
	svc := New(failingReset{repo}, NewJournal(memkv.New()), rail)
	ctx := context.Background()

	cid, _ := svc.Create(ctx, "p", buyer, seller)
	id := cid.String()
	_ = svc.Sign(ctx, id, buyer)
	_ = svc.Sign(ctx, id, seller)

	rail.FailNext(errors.New("network"))
	p, err := svc.IssuePayment(ctx, pay(id, 10))
	if apierr.KindOf(err) != apierr.Internal {
		t.Fatalf("expected INTERNAL, got %v", err)
	}
	if p.State != PayoutPending {
		t.Fatalf("expected payout left pending, got %s", p.State)
	}
	history, _ := svc.Payouts(ctx, id)
	if len(history) != 1 || history[0].State != PayoutPending {
		t.Fatalf("expected stuck saga to be visible, got %+v", history)
	}
	c, _, _ := svc.Get(ctx, id)
	if !c.PaymentIssued {
		t.Fatalf("expected contract to stay locked")
	}
}

type failingLock struct {
	ContractStore
}

func (f failingLock) UpdatePaymentStatus(ctx context.Context, id domain.ContractID, issued bool) error {
	return apierr.Wrap(apierr.Internal, "store contract", errors.New("disk full"))
}

func TestFailedLockDispatchesNothing(t *testing.T) {
	repo := contracts.New(memkv.New())
	rail := memledger.New(treasury, 1000)
	svc := New(failingLock{repo}, NewJournal(memkv.New()), rail)
	ctx := context.Background()

	cid, _ := svc.Create(ctx, "p", buyer, seller)
	id := cid.String()
	_ = svc.Sign(ctx, id, buyer)
	_ = svc.Sign(ctx, id, seller)

	if _, err := svc.IssuePayment(ctx, pay(id, 10)); apierr.KindOf(err) != apierr.Internal {
		t.Fatalf("expected INTERNAL, got %v", err)
	}
	if len(rail.Transfers()) != 0 {
		t.Fatalf("expected no transfer when the lock could not be taken")
	}
	history, _ := svc.Payouts(ctx, id)
	if len(history) != 1 || history[0].State != PayoutRolledBack {
		t.Fatalf("expected saga rolled back, got %+v", history)
	}
}
