// Package contracts persists contract records. It enforces no business
// rules; callers validate identities and lifecycle preconditions.
package contracts

import (
	"context"
	"sync"
	"time"

	"escrowlane/pkg/apierr"
	"escrowlane/pkg/domain"
	"escrowlane/pkg/identity"
	"escrowlane/pkg/kv"
)

const Namespace = "contracts"

type Repository struct {
	contracts *kv.Map[domain.Contract]
	newID     func() domain.ContractID
	now       func() time.Time

	// mu makes every mutation a single read-modify-write of the record.
	mu   sync.Mutex
	last time.Time
}

type Option func(*Repository)

func WithClock(now func() time.Time) Option {
	return func(r *Repository) { r.now = now }
}

func WithIDGenerator(gen func() domain.ContractID) Option {
	return func(r *Repository) { r.newID = gen }
}

func New(s kv.Store, opts ...Option) *Repository {
	r := &Repository{
		contracts: kv.NewMap[domain.Contract](s),
		newID:     domain.NewContractID,
		now:       time.Now,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Create stores a new unsigned contract and returns its id. Identical payloads
// produce independent records.
func (r *Repository) Create(ctx context.Context, payload string, buyer, seller identity.Identity) (domain.ContractID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, err := r.freshID(ctx)
	if err != nil {
		return domain.ContractID{}, err
	}
	c := domain.NewContract(id, payload, buyer, seller, r.tick())
	if err := r.contracts.Put(ctx, id.String(), c); err != nil {
		return domain.ContractID{}, apierr.Wrap(apierr.Internal, "store contract", err)
	}
	return id, nil
}

func (r *Repository) Get(ctx context.Context, id domain.ContractID) (domain.Contract, bool, error) {
	c, ok, err := r.contracts.Get(ctx, id.String())
	if err != nil {
		return domain.Contract{}, false, apierr.Wrap(apierr.Internal, "load contract", err)
	}
	return c, ok, nil
}

// UpdateSignature marks signer as signed. Missing contracts are ignored.
func (r *Repository) UpdateSignature(ctx context.Context, id domain.ContractID, signer domain.Signer) error {
	return r.mutate(ctx, id, func(c *domain.Contract) { c.MarkSigned(signer) })
}

// UpdatePaymentStatus overwrites the payment flag. Missing contracts are ignored.
func (r *Repository) UpdatePaymentStatus(ctx context.Context, id domain.ContractID, issued bool) error {
	return r.mutate(ctx, id, func(c *domain.Contract) { c.PaymentIssued = issued })
}

func (r *Repository) mutate(ctx context.Context, id domain.ContractID, fn func(*domain.Contract)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok, err := r.Get(ctx, id)
	if err != nil || !ok {
		return err
	}
	fn(&c)
	if err := r.contracts.Put(ctx, id.String(), c); err != nil {
		return apierr.Wrap(apierr.Internal, "store contract", err)
	}
	return nil
}

func (r *Repository) freshID(ctx context.Context) (domain.ContractID, error) {
	for {
		id := r.newID()
		_, taken, err := r.Get(ctx, id)
		if err != nil {
			return domain.ContractID{}, err
		}
		if !taken && !id.IsZero() {
			return id, nil
		}
	}
}

// tick returns a timestamp strictly after every one handed out before.
func (r *Repository) tick() time.Time {
	t := r.now().UTC()
	if !t.After(r.last) {
		t = r.last.Add(time.Nanosecond)
	}
	r.last = t
	return t
}
