package lifecycle

import (
	"context"
	"fmt"
	"time"

	"escrowlane/pkg/apierr"
	"escrowlane/pkg/domain"
	"escrowlane/pkg/identity"
	"escrowlane/pkg/kv"
	"escrowlane/services/escrow/internal/ledger"

	"github.com/google/uuid"
)

const PayoutsNamespace = "payouts"

// PayoutState is the saga state of one payout attempt. PENDING covers the
// window in which the contract's payment flag is set but the rail has not
// answered.
type PayoutState string

const (
	PayoutPending    PayoutState = "PENDING"
	PayoutCommitted  PayoutState = "COMMITTED"
	PayoutRolledBack PayoutState = "ROLLED_BACK"
)

type Payout struct {
	PayoutID    string            `json:"payout_id"`
	ContractID  domain.ContractID `json:"contract_id"`
	Seller      identity.Identity `json:"seller"`
	Destination ledger.Address    `json:"destination"`
	Amount      uint64            `json:"amount"`
	State       PayoutState       `json:"state"`
	TxID        string            `json:"tx_id,omitempty"`
	Failure     string            `json:"failure,omitempty"`
	StartedAt   time.Time         `json:"started_at"`
	SettledAt   *time.Time        `json:"settled_at,omitempty"`
}

// key orders a contract's payouts by start time.
func (p Payout) key() string {
	return fmt.Sprintf("%s/%020d/%s", p.ContractID, p.StartedAt.UnixNano(), p.PayoutID)
}

// Journal records payout sagas so the eager-lock window is observable after
// the fact, including attempts a crash left PENDING.
type Journal struct {
	payouts *kv.Map[Payout]
	now     func() time.Time
}

func NewJournal(s kv.Store) *Journal {
	return &Journal{payouts: kv.NewMap[Payout](s), now: time.Now}
}

func (j *Journal) Begin(ctx context.Context, contractID domain.ContractID, seller identity.Identity, to ledger.Address, amount uint64) (Payout, error) {
	p := Payout{
		PayoutID:    "pay_" + uuid.NewString(),
		ContractID:  contractID,
		Seller:      seller,
		Destination: to,
		Amount:      amount,
		State:       PayoutPending,
		StartedAt:   j.now().UTC(),
	}
	if err := j.payouts.Put(ctx, p.key(), p); err != nil {
		return Payout{}, apierr.Wrap(apierr.Internal, "record payout", err)
	}
	return p, nil
}

func (j *Journal) Commit(ctx context.Context, p Payout, r ledger.Receipt) (Payout, error) {
	p.TxID = r.TxID
	return j.settle(ctx, p, PayoutCommitted)
}

func (j *Journal) RollBack(ctx context.Context, p Payout, cause error) (Payout, error) {
	if cause != nil {
		p.Failure = cause.Error()
	}
	return j.settle(ctx, p, PayoutRolledBack)
}

func (j *Journal) settle(ctx context.Context, p Payout, to PayoutState) (Payout, error) {
	if p.State != PayoutPending {
		return p, apierr.FailedPreconditionf("payout %s already %s", p.PayoutID, p.State)
	}
	at := j.now().UTC()
	p.State = to
	p.SettledAt = &at
	if err := j.payouts.Put(ctx, p.key(), p); err != nil {
		return p, apierr.Wrap(apierr.Internal, "record payout", err)
	}
	return p, nil
}

// ForContract lists the payout attempts of one contract, oldest first.
func (j *Journal) ForContract(ctx context.Context, id domain.ContractID) ([]Payout, error) {
	found, err := j.payouts.Prefix(ctx, id.String()+"/")
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "list payouts", err)
	}
	out := make([]Payout, 0, len(found))
	for _, p := range found {
		out = append(out, p.Value)
	}
	return out, nil
}
