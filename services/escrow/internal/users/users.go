// Package users is the role directory: which identities hold which role.
package users

import (
	"context"
	"fmt"
	"sync"

	"escrowlane/pkg/apierr"
	"escrowlane/pkg/domain"
	"escrowlane/pkg/identity"
	"escrowlane/pkg/kv"
	"escrowlane/pkg/logger"
)

const Namespace = "users"

type Entry struct {
	Principal identity.Identity `json:"principal"`
	Role      domain.Role       `json:"role"`
}

type Directory struct {
	users *kv.Map[domain.User]
	log   *logger.Logger

	// mu makes each existence check and the write that depends on it one
	// step.
	mu sync.Mutex
}

func New(s kv.Store, log *logger.Logger) *Directory {
	if log == nil {
		log = logger.Nop()
	}
	return &Directory{users: kv.NewMap[domain.User](s), log: log.With("component", "users")}
}

func (d *Directory) Lookup(ctx context.Context, id identity.Identity) (domain.User, bool, error) {
	u, ok, err := d.users.Get(ctx, id.String())
	if err != nil {
		return domain.User{}, false, apierr.Wrap(apierr.Internal, "load user", err)
	}
	return u, ok, nil
}

// Create fails with Conflict when id already holds a role.
func (d *Directory) Create(ctx context.Context, id identity.Identity, role domain.Role) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok, err := d.Lookup(ctx, id)
	if err != nil {
		return err
	}
	if ok {
		return apierr.Conflictf("user %s already exists", id)
	}
	if err := d.put(ctx, id, role); err != nil {
		return err
	}
	d.log.Info("user created", "principal", id.String(), "role", string(role))
	return nil
}

// Remove fails with NotFound when id holds no role.
func (d *Directory) Remove(ctx context.Context, id identity.Identity) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok, err := d.Lookup(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return apierr.NotFoundf("user %s not found", id)
	}
	if err := d.users.Delete(ctx, id.String()); err != nil {
		return apierr.Wrap(apierr.Internal, "delete user", err)
	}
	d.log.Info("user removed", "principal", id.String())
	return nil
}

// Update assigns role to id whether or not it already exists. Unlike Create
// and Remove it performs no existence check.
func (d *Directory) Update(ctx context.Context, id identity.Identity, role domain.Role) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.put(ctx, id, role); err != nil {
		return err
	}
	d.log.Info("user updated", "principal", id.String(), "role", string(role))
	return nil
}

func (d *Directory) List(ctx context.Context) ([]Entry, error) {
	all, err := d.users.All(ctx)
	if err != nil {
		return nil, apierr.Wrap(apierr.Internal, "list users", err)
	}
	out := make([]Entry, 0, len(all))
	for _, p := range all {
		out = append(out, Entry{Principal: identity.Identity(p.Key), Role: p.Value.Role})
	}
	return out, nil
}

// Bootstrap registers the process owner as Admin. It is the root of the
// authorization chain; an existing record for the owner is left untouched so
// restarts against a durable store do not fail or reassign roles.
func (d *Directory) Bootstrap(ctx context.Context, owner identity.Identity) error {
	if owner.IsAnonymous() {
		return fmt.Errorf("bootstrap principal must not be anonymous")
	}
	err := d.Create(ctx, owner, domain.RoleAdmin)
	if apierr.Is(err, apierr.Conflict) {
		u, _, lookupErr := d.Lookup(ctx, owner)
		if lookupErr != nil {
			return lookupErr
		}
		d.log.Warn("bootstrap principal already registered", "principal", owner.String(), "role", string(u.Role))
		return nil
	}
	return err
}

func (d *Directory) put(ctx context.Context, id identity.Identity, role domain.Role) error {
	if _, err := domain.ParseRole(string(role)); err != nil {
		return apierr.Wrap(apierr.InvalidArgument, "invalid role", err)
	}
	if err := d.users.Put(ctx, id.String(), domain.User{Role: role}); err != nil {
		return apierr.Wrap(apierr.Internal, "store user", err)
	}
	return nil
}
