// Package lifecycle runs the contract state machine: creation, signing and
// the single payout release.
package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"escrowlane/pkg/apierr"
	"escrowlane/pkg/domain"
	"escrowlane/pkg/identity"
	"escrowlane/pkg/logger"
	"escrowlane/services/escrow/internal/ledger"
	"escrowlane/services/escrow/internal/metrics"
)

type ContractStore interface {
	Create(ctx context.Context, payload string, buyer, seller identity.Identity) (domain.ContractID, error)
	Get(ctx context.Context, id domain.ContractID) (domain.Contract, bool, error)
	UpdateSignature(ctx context.Context, id domain.ContractID, signer domain.Signer) error
	UpdatePaymentStatus(ctx context.Context, id domain.ContractID, issued bool) error
}

type Service struct {
	contracts ContractStore
	payouts   *Journal
	ledger    ledger.Ledger
	metrics   *metrics.Metrics
	log       *logger.Logger

	// mu serializes the non-suspending segments of every operation. Only the
	// ledger call inside IssuePayment runs without it.
	mu sync.Mutex
}

type Option func(*Service)

func WithLogger(l *logger.Logger) Option { return func(s *Service) { s.log = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(s *Service) { s.metrics = m } }

func New(contracts ContractStore, payouts *Journal, l ledger.Ledger, opts ...Option) *Service {
	s := &Service{contracts: contracts, payouts: payouts, ledger: l, log: logger.Nop()}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("component", "lifecycle")
	return s
}

// Create registers a contract between buyer and seller. It performs no role
// check.
func (s *Service) Create(ctx context.Context, payload string, buyer, seller identity.Identity) (domain.ContractID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, err := s.contracts.Create(ctx, payload, buyer, seller)
	if err != nil {
		return domain.ContractID{}, err
	}
	s.metrics.ContractCreated()
	s.log.Info("contract created", "contract_id", id.String(), "buyer", buyer.String(), "seller", seller.String())
	return id, nil
}

// Sign records caller's consent. Signing twice is a no-op.
func (s *Service) Sign(ctx context.Context, contractID string, caller identity.Identity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.load(ctx, contractID)
	if err != nil {
		return err
	}
	signer, ok := c.SignerFor(caller)
	if !ok {
		return apierr.PermissionDeniedf("caller not authorized to sign this contract")
	}
	if c.HasSigned(signer) {
		return nil
	}
	if err := s.contracts.UpdateSignature(ctx, c.ContractID, signer); err != nil {
		return err
	}
	s.metrics.Signed(string(signer))
	s.log.Info("contract signed", "contract_id", c.ContractID.String(), "party", string(signer))
	return nil
}

// Get looks a contract up. Malformed ids fail with InvalidArgument.
func (s *Service) Get(ctx context.Context, contractID string) (domain.Contract, bool, error) {
	id, err := domain.ParseContractID(contractID)
	if err != nil {
		return domain.Contract{}, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.contracts.Get(ctx, id)
}

func (s *Service) IsSigned(ctx context.Context, contractID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.load(ctx, contractID)
	if err != nil {
		return false, err
	}
	return c.IsSigned(), nil
}

type PaymentRequest struct {
	ContractID  string
	Seller      identity.Identity
	Destination ledger.Address
	Amount      uint64
}

// IssuePayment releases the escrowed payout to req.Destination.
//
// The contract's payment flag is set before the ledger is called so that any
// attempt starting while the transfer is outstanding is rejected. If the
// ledger reports failure the flag is cleared again and the contract may be
// retried. A failure report is trusted to mean nothing moved; a rail that
// commits but fails to confirm can therefore be paid twice on retry.
func (s *Service) IssuePayment(ctx context.Context, req PaymentRequest) (Payout, error) {
	p, err := s.lockPayment(ctx, req)
	if err != nil {
		s.metrics.Payout(metrics.OutcomeRejected)
		return Payout{}, err
	}

	s.metrics.TransferStarted()
	started := time.Now()
	receipt, transferErr := s.ledger.Transfer(ctx, ledger.TransferRequest{
		Amount:    req.Amount,
		To:        req.Destination,
		Reference: p.PayoutID,
	})
	s.metrics.TransferFinished(time.Since(started).Seconds())

	// The caller may have gone away; settling the saga must still happen.
	ctx = context.WithoutCancel(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if transferErr != nil {
		return s.compensate(ctx, p, transferErr)
	}

	committed, err := s.payouts.Commit(ctx, p, receipt)
	if err != nil {
		s.log.Error("payout committed on ledger but journal update failed",
			"contract_id", p.ContractID.String(), "payout_id", p.PayoutID, "tx_id", receipt.TxID, "error", err)
		committed = p
		committed.TxID = receipt.TxID
	}
	s.metrics.Payout(metrics.OutcomeCommitted)
	s.log.Info("payout committed", "contract_id", p.ContractID.String(), "payout_id", p.PayoutID,
		"tx_id", receipt.TxID, "amount", req.Amount, "destination", req.Destination.String())
	return committed, nil
}

// lockPayment checks every precondition and takes the eager lock in one
// serialized segment.
func (s *Service) lockPayment(ctx context.Context, req PaymentRequest) (Payout, error) {
	if req.Amount == 0 {
		return Payout{}, apierr.InvalidArgumentf("amount must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.load(ctx, req.ContractID)
	if err != nil {
		return Payout{}, err
	}
	if req.Seller != c.Signatories.Seller.Principal {
		return Payout{}, apierr.PermissionDeniedf("caller not authorized")
	}
	if !c.IsSigned() {
		return Payout{}, apierr.FailedPreconditionf("contract not signed")
	}
	if c.PaymentIssued {
		return Payout{}, apierr.FailedPreconditionf("payment already issued")
	}

	p, err := s.payouts.Begin(ctx, c.ContractID, req.Seller, req.Destination, req.Amount)
	if err != nil {
		return Payout{}, err
	}
	if err := s.contracts.UpdatePaymentStatus(ctx, c.ContractID, true); err != nil {
		if _, rbErr := s.payouts.RollBack(ctx, p, err); rbErr != nil {
			s.log.Error("payout journal rollback failed", "payout_id", p.PayoutID, "error", rbErr)
		}
		return Payout{}, err
	}
	s.log.Info("payout pending", "contract_id", c.ContractID.String(), "payout_id", p.PayoutID, "amount", req.Amount)
	return p, nil
}

// compensate undoes the eager lock after a failed transfer. Callers hold mu.
func (s *Service) compensate(ctx context.Context, p Payout, transferErr error) (Payout, error) {
	failure := apierr.Wrap(apierr.Internal, "transfer failed", transferErr)

	if err := s.contracts.UpdatePaymentStatus(ctx, p.ContractID, false); err != nil {
		// The flag is still set; leave the saga PENDING so the stuck contract
		// stays visible.
		s.log.Error("payout rollback failed, contract left locked",
			"contract_id", p.ContractID.String(), "payout_id", p.PayoutID, "transfer_error", transferErr, "error", err)
		return p, apierr.Wrap(apierr.Internal, "transfer failed and rollback failed", errors.Join(transferErr, err))
	}

	rolled, err := s.payouts.RollBack(ctx, p, transferErr)
	if err != nil {
		s.log.Error("payout journal rollback failed", "payout_id", p.PayoutID, "error", err)
		rolled = p
	}
	s.metrics.Payout(metrics.OutcomeRolledBack)
	s.log.Warn("payout rolled back", "contract_id", p.ContractID.String(), "payout_id", p.PayoutID, "error", transferErr)
	return rolled, failure
}

// Payouts lists the payout attempts recorded for a contract, oldest first.
func (s *Service) Payouts(ctx context.Context, contractID string) ([]Payout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, err := s.load(ctx, contractID)
	if err != nil {
		return nil, err
	}
	return s.payouts.ForContract(ctx, c.ContractID)
}

func (s *Service) load(ctx context.Context, contractID string) (domain.Contract, error) {
	id, err := domain.ParseContractID(contractID)
	if err != nil {
		return domain.Contract{}, err
	}
	c, ok, err := s.contracts.Get(ctx, id)
	if err != nil {
		return domain.Contract{}, err
	}
	if !ok {
		return domain.Contract{}, apierr.NotFoundf("contract not found")
	}
	return c, nil
}
