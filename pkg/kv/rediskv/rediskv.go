// Package rediskv stores each kv namespace as one Redis hash.
package rediskv

import (
	"context"
	"errors"
	"strings"

	"escrowlane/pkg/kv"

	goredis "github.com/redis/go-redis/v9"
)

const keyPrefix = "escrow:kv:"

type DB struct {
	rdb *goredis.Client
}

func New(rdb *goredis.Client) *DB { return &DB{rdb: rdb} }

func Dial(ctx context.Context, addr string) (*DB, error) {
	rdb := goredis.NewClient(&goredis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, err
	}
	return New(rdb), nil
}

func (d *DB) Close() error { return d.rdb.Close() }

func (d *DB) Namespace(name string) kv.Store {
	return &Store{rdb: d.rdb, hash: keyPrefix + name}
}

var _ kv.Opener = (*DB)(nil)

type Store struct {
	rdb  *goredis.Client
	hash string
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	v, err := s.rdb.HGet(ctx, s.hash, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, mapErr(err)
	}
	return v, true, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	return mapErr(s.rdb.HSet(ctx, s.hash, key, value).Err())
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return mapErr(s.rdb.HDel(ctx, s.hash, key).Err())
}

func (s *Store) Iterate(ctx context.Context) ([]kv.Entry, error) {
	m, err := s.rdb.HGetAll(ctx, s.hash).Result()
	if err != nil {
		return nil, mapErr(err)
	}
	out := make([]kv.Entry, 0, len(m))
	for k, v := range m {
		out = append(out, kv.Entry{Key: k, Value: []byte(v)})
	}
	return out, nil
}

// Scan walks the hash with HSCAN so only matching fields cross the wire.
func (s *Store) Scan(ctx context.Context, prefix string) ([]kv.Entry, error) {
	if prefix == "" {
		return s.Iterate(ctx)
	}
	match := globEscaper.Replace(prefix) + "*"
	seen := map[string]struct{}{}
	var out []kv.Entry
	var cursor uint64
	for {
		kvs, next, err := s.rdb.HScan(ctx, s.hash, cursor, match, 256).Result()
		if err != nil {
			return nil, mapErr(err)
		}
		for i := 0; i+1 < len(kvs); i += 2 {
			// HSCAN may return a field more than once.
			if _, dup := seen[kvs[i]]; dup {
				continue
			}
			seen[kvs[i]] = struct{}{}
			out = append(out, kv.Entry{Key: kvs[i], Value: []byte(kvs[i+1])})
		}
		if next == 0 {
			return out, nil
		}
		cursor = next
	}
}

var globEscaper = strings.NewReplacer(`\`, `\\`, `*`, `\*`, `?`, `\?`, `[`, `\[`, `]`, `\]`)

func mapErr(err error) error {
	if errors.Is(err, goredis.ErrClosed) {
		return kv.ErrClosed
	}
	return err
}
