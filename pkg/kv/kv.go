// Package kv defines the durable key-value namespaces the escrow service
// persists into. Each entity type gets its own namespace; keys are unique
// within a namespace.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

var ErrClosed = errors.New("kv: store closed")

type Entry struct {
	Key   string
	Value []byte
}

type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Iterate returns a point-in-time snapshot of the namespace.
	Iterate(ctx context.Context) ([]Entry, error)
	// Scan is Iterate restricted to keys starting with prefix.
	Scan(ctx context.Context, prefix string) ([]Entry, error)
}

// Opener returns the store backing one namespace.
type Opener interface {
	Namespace(name string) Store
}

// Map is a typed view over a Store. Values are JSON encoded.
type Map[V any] struct {
	s Store
}

func NewMap[V any](s Store) *Map[V] { return &Map[V]{s: s} }

func (m *Map[V]) Get(ctx context.Context, key string) (V, bool, error) {
	var zero V
	b, ok, err := m.s.Get(ctx, key)
	if err != nil || !ok {
		return zero, ok, err
	}
	var v V
	if err := json.Unmarshal(b, &v); err != nil {
		return zero, false, fmt.Errorf("kv: decode %q: %w", key, err)
	}
	return v, true, nil
}

func (m *Map[V]) Put(ctx context.Context, key string, v V) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kv: encode %q: %w", key, err)
	}
	return m.s.Put(ctx, key, b)
}

func (m *Map[V]) Delete(ctx context.Context, key string) error {
	return m.s.Delete(ctx, key)
}

type Pair[V any] struct {
	Key   string
	Value V
}

// All decodes the whole namespace, sorted by key.
func (m *Map[V]) All(ctx context.Context) ([]Pair[V], error) {
	entries, err := m.s.Iterate(ctx)
	if err != nil {
		return nil, err
	}
	return decodeAll[V](entries)
}

// Prefix decodes the entries whose key starts with prefix, sorted by key.
func (m *Map[V]) Prefix(ctx context.Context, prefix string) ([]Pair[V], error) {
	entries, err := m.s.Scan(ctx, prefix)
	if err != nil {
		return nil, err
	}
	return decodeAll[V](entries)
}

func decodeAll[V any](entries []Entry) ([]Pair[V], error) {
	out := make([]Pair[V], 0, len(entries))
	for _, e := range entries {
		var v V
		if err := json.Unmarshal(e.Value, &v); err != nil {
			return nil, fmt.Errorf("kv: decode %q: %w", e.Key, err)
		}
		out = append(out, Pair[V]{Key: e.Key, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
