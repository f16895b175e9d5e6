// Package access holds the authorization predicates applied to callers.
// Every check is read-only.
package access

import (
	"context"

	"escrowlane/pkg/apierr"
	"escrowlane/pkg/domain"
	"escrowlane/pkg/identity"
)

type UserLookup interface {
	Lookup(ctx context.Context, id identity.Identity) (domain.User, bool, error)
}

type Gate struct {
	users UserLookup
}

func NewGate(users UserLookup) *Gate { return &Gate{users: users} }

func (g *Gate) AssertNotAnonymous(id identity.Identity) error {
	if id.IsAnonymous() {
		return apierr.Unauthenticatedf("anonymous caller")
	}
	return nil
}

func (g *Gate) AssertIsAdmin(ctx context.Context, id identity.Identity) error {
	return g.assertRole(ctx, id, domain.RoleAdmin,
		"principal %s must be an admin to call this endpoint")
}

func (g *Gate) AssertIsFrontendService(ctx context.Context, id identity.Identity) error {
	return g.assertRole(ctx, id, domain.RoleFrontendService,
		"%s not authorized, only frontend service principals can call this endpoint")
}

func (g *Gate) assertRole(ctx context.Context, id identity.Identity, want domain.Role, msg string) error {
	u, ok, err := g.users.Lookup(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return apierr.NotFoundf(msg, id)
	}
	allowed := domain.SwitchRole(want,
		func() bool { return u.IsAdmin() },
		func() bool { return u.IsFrontendService() },
	)
	if !allowed {
		return apierr.PermissionDeniedf(msg, id)
	}
	return nil
}
