package users

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"escrowlane/pkg/apierr"
	"escrowlane/pkg/domain"
	"escrowlane/pkg/identity"
	"escrowlane/pkg/kv/memkv"
)

func newDirectory() *Directory { return New(memkv.New(), nil) }

func TestCreateIsNotIdempotent(t *testing.T) {
	ctx := context.Background()
	d := newDirectory()
	if err := d.Create(ctx, "prn_fe", domain.RoleFrontendService); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := d.Create(ctx, "prn_fe", domain.RoleFrontendService)
	if apierr.KindOf(err) != apierr.Conflict {
		t.Fatalf("expected CONFLICT, got %v", err)
	}
}

func TestRemove(t *testing.T) {
	ctx := context.Background()
	d := newDirectory()
	if err := d.Remove(ctx, "prn_unknown"); apierr.KindOf(err) != apierr.NotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
	_ = d.Create(ctx, "prn_a", domain.RoleAdmin)
	if err := d.Remove(ctx, "prn_a"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok, err := d.Lookup(ctx, "prn_a"); err != nil || ok {
		t.Fatalf("expected lookup miss after remove, ok=%v err=%v", ok, err)
	}
}

func TestUpdateUpserts(t *testing.T) {
	ctx := context.Background()
	d := newDirectory()
	if err := d.Update(ctx, "prn_new", domain.RoleFrontendService); err != nil {
		t.Fatalf("update of missing user should insert: %v", err)
	}
	if err := d.Update(ctx, "prn_new", domain.RoleAdmin); err != nil {
		t.Fatalf("update: %v", err)
	}
	u, ok, _ := d.Lookup(ctx, "prn_new")
	if !ok || u.Role != domain.RoleAdmin {
		t.Fatalf("expected ADMIN after overwrite, got %+v ok=%v", u, ok)
	}
	if err := d.Update(ctx, "prn_new", domain.Role("ROOT")); apierr.KindOf(err) != apierr.InvalidArgument {
		t.Fatalf("expected INVALID_ARGUMENT for unknown role, got %v", err)
	}
}

func TestList(t *testing.T) {
	ctx := context.Background()
	d := newDirectory()
	_ = d.Create(ctx, "prn_b", domain.RoleFrontendService)
	_ = d.Create(ctx, "prn_a", domain.RoleAdmin)
	got, err := d.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 users, got %d", len(got))
	}
	seen := map[identity.Identity]domain.Role{}
	for _, e := range got {
		seen[e.Principal] = e.Role
	}
	if seen["prn_a"] != domain.RoleAdmin || seen["prn_b"] != domain.RoleFrontendService {
		t.Fatalf("unexpected listing %+v", got)
	}
}

func TestBootstrap(t *testing.T) {
	ctx := context.Background()
	d := newDirectory()
	if err := d.Bootstrap(ctx, identity.Anonymous); err == nil {
		t.Fatalf("expected anonymous bootstrap to fail")
	}
	if err := d.Bootstrap(ctx, "prn_owner"); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	u, ok, _ := d.Lookup(ctx, "prn_owner")
	if !ok || u.Role != domain.RoleAdmin {
		t.Fatalf("expected owner registered as admin")
	}
	_ = d.Update(ctx, "prn_owner", domain.RoleFrontendService)
	if err := d.Bootstrap(ctx, "prn_owner"); err != nil {
		t.Fatalf("second bootstrap should be a no-op: %v", err)
	}
	u, _, _ = d.Lookup(ctx, "prn_owner")
	if u.Role != domain.RoleFrontendService {
		t.Fatalf("expected second bootstrap not to reassign role")
	}
}

// slowStore widens the window between a lookup and the write that follows
// it, and can start failing reads after a number of successful ones.
type slowStore struct {
	*memkv.Store
	delay     time.Duration
	failAfter int32
	gets      atomic.Int32
}

func (s *slowStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	n := s.gets.Add(1)
	if s.failAfter > 0 && n > s.failAfter {
		return nil, false, errors.New("store unavailable")
	}
	time.Sleep(s.delay)
	return s.Store.Get(ctx, key)
}

func TestConcurrentCreateConflicts(t *testing.T) {
	ctx := context.Background()
	d := New(&slowStore{Store: memkv.New(), delay: 20 * time.Millisecond}, nil)

	roles := []domain.Role{domain.RoleAdmin, domain.RoleFrontendService}
	errs := make([]error, len(roles))
	var wg sync.WaitGroup
	for i, role := range roles {
		wg.Add(1)
		go func(i int, role domain.Role) {
			defer wg.Done()
			errs[i] = d.Create(ctx, "alice", role)
		}(i, role)
	}
	wg.Wait()

	var created, conflicts int
	winner := -1
	for i, err := range errs {
		switch {
		case err == nil:
			created++
			winner = i
		case apierr.Is(err, apierr.Conflict):
			conflicts++
		default:
			t.Fatalf("unexpected err: %v", err)
		}
	}
	if created != 1 || conflicts != 1 {
		t.Fatalf("expected one create and one conflict, got errs=%v", errs)
	}
	u, _, _ := d.Lookup(ctx, "alice")
	if u.Role != roles[winner] {
		t.Fatalf("expected the successful create's role %s, got %s", roles[winner], u.Role)
	}
}

func TestConcurrentRemoveSucceedsOnce(t *testing.T) {
	ctx := context.Background()
	st := &slowStore{Store: memkv.New()}
	d := New(st, nil)
	if err := d.Create(ctx, "alice", domain.RoleAdmin); err != nil {
		t.Fatalf("create: %v", err)
	}
	st.delay = 20 * time.Millisecond

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = d.Remove(ctx, "alice")
		}(i)
	}
	wg.Wait()

	if (errs[0] == nil) == (errs[1] == nil) {
		t.Fatalf("expected exactly one remove to succeed, got %v", errs)
	}
	for _, err := range errs {
		if err != nil && !apierr.Is(err, apierr.NotFound) {
			t.Fatalf("expected NOT_FOUND for the loser, got %v", err)
		}
	}
}

func TestBootstrapReportsLookupFailure(t *testing.T) {
	ctx := context.Background()
	st := &slowStore{Store: memkv.New()}
	d := New(st, nil)
	if err := d.Create(ctx, "prn_owner", domain.RoleAdmin); err != nil {
		t.Fatalf("create: %v", err)
	}
	// The existence check inside Bootstrap succeeds, the follow-up read fails.
	st.failAfter = st.gets.Load() + 1

	if err := d.Bootstrap(ctx, "prn_owner"); err == nil {
		t.Fatalf("expected lookup failure to surface")
	}
}
