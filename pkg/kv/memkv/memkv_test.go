package memkv

import (
	"context"
	"testing"

	"escrowlane/pkg/kv"
)

func TestStoreCRUD(t *testing.T) {
	ctx := context.Background()
	s := New()
	if _, ok, err := s.Get(ctx, "a"); err != nil || ok {
		t.Fatalf("expected miss, ok=%v err=%v", ok, err)
	}
	if err := s.Put(ctx, "a", []byte("1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	v, ok, err := s.Get(ctx, "a")
	if err != nil || !ok || string(v) != "1" {
		t.Fatalf("unexpected get result %q ok=%v err=%v", v, ok, err)
	}
	v[0] = 'x'
	again, _, _ := s.Get(ctx, "a")
	if string(again) != "1" {
		t.Fatalf("expected stored value to be isolated from callers")
	}
	if err := s.Delete(ctx, "a"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	entries, err := s.Iterate(ctx)
	if err != nil || len(entries) != 0 {
		t.Fatalf("expected empty namespace, got %d err=%v", len(entries), err)
	}
}

func TestOpenerNamespacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	o := NewOpener()
	users := o.Namespace("users")
	contracts := o.Namespace("contracts")
	_ = users.Put(ctx, "k", []byte(`1`))
	if _, ok, _ := contracts.Get(ctx, "k"); ok {
		t.Fatalf("expected namespaces to be isolated")
	}
	if o.Namespace("users") != users {
		t.Fatalf("expected same store for the same namespace")
	}
}

func TestMapAllSorted(t *testing.T) {
	ctx := context.Background()
	m := kv.NewMap[int](New())
	for _, k := range []string{"c", "a", "b"} {
		if err := m.Put(ctx, k, len(k)); err != nil {
			t.Fatalf("put: %v", err)
		}
	}
	all, err := m.All(ctx)
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(all) != 3 || all[0].Key != "a" || all[2].Key != "c" {
		t.Fatalf("unexpected order %+v", all)
	}
}

func TestMapDecodeError(t *testing.T) {
	ctx := context.Background()
	s := New()
	_ = s.Put(ctx, "bad", []byte("{"))
	m := kv.NewMap[map[string]int](s)
	if _, _, err := m.Get(ctx, "bad"); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestMapPrefixOnlyReturnsMatchingKeys(t *testing.T) {
	ctx := context.Background()
	m := kv.NewMap[int](New())
	_ = m.Put(ctx, "c1/002", 2)
	_ = m.Put(ctx, "c1/001", 1)
	_ = m.Put(ctx, "c10/001", 10)
	_ = m.Put(ctx, "c2/001", 20)

	got, err := m.Prefix(ctx, "c1/")
	if err != nil {
		t.Fatalf("prefix: %v", err)
	}
	if len(got) != 2 || got[0].Value != 1 || got[1].Value != 2 {
		t.Fatalf("expected c1 entries in key order, got %+v", got)
	}
	if all, _ := m.Prefix(ctx, ""); len(all) != 4 {
		t.Fatalf("empty prefix should match everything, got %d", len(all))
	}
}
