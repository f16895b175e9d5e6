// Package memkv is an in-memory kv backend for tests and ephemeral runs.
package memkv

import (
	"context"
	"strings"
	"sync"

	"escrowlane/pkg/kv"
)

var _ kv.Store = (*Store)(nil)

type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func New() *Store { return &Store{data: map[string][]byte{}} }

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	return clone(v), true, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = clone(value)
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *Store) Iterate(ctx context.Context) ([]kv.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]kv.Entry, 0, len(s.data))
	for k, v := range s.data {
		out = append(out, kv.Entry{Key: k, Value: clone(v)})
	}
	return out, nil
}

func (s *Store) Scan(ctx context.Context, prefix string) ([]kv.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []kv.Entry
	for k, v := range s.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, kv.Entry{Key: k, Value: clone(v)})
		}
	}
	return out, nil
}

// Opener hands out one Store per namespace name.
type Opener struct {
	mu     sync.Mutex
	stores map[string]*Store
}

func NewOpener() *Opener { return &Opener{stores: map[string]*Store{}} }

func (o *Opener) Namespace(name string) kv.Store {
	o.mu.Lock()
	defer o.mu.Unlock()
	s, ok := o.stores[name]
	if !ok {
		s = New()
		o.stores[name] = s
	}
	return s
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
