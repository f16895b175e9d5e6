// Package pgkv stores kv namespaces in a single PostgreSQL table.
package pgkv

import (
	"context"
	"errors"

	"escrowlane/pkg/kv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS escrow_kv (
  namespace  TEXT        NOT NULL,
  key        TEXT        NOT NULL,
  value      JSONB       NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (namespace, key)
)`

type DB struct{ Pool *pgxpool.Pool }

func New(pool *pgxpool.Pool) *DB { return &DB{Pool: pool} }

func (d *DB) Migrate(ctx context.Context) error {
	_, err := d.Pool.Exec(ctx, schema)
	return err
}

func (d *DB) Namespace(name string) kv.Store {
	return &Store{DB: d.Pool, namespace: name}
}

var _ kv.Opener = (*DB)(nil)

type Store struct {
	DB        *pgxpool.Pool
	namespace string
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var v []byte
	err := s.DB.QueryRow(ctx, `
SELECT value FROM escrow_kv WHERE namespace=$1 AND key=$2
`, s.namespace, key).Scan(&v)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return v, true, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.DB.Exec(ctx, `
INSERT INTO escrow_kv(namespace,key,value)
VALUES($1,$2,$3::jsonb)
ON CONFLICT (namespace,key) DO UPDATE SET value=EXCLUDED.value, updated_at=now()
`, s.namespace, key, string(value))
	return err
}

func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.DB.Exec(ctx, `DELETE FROM escrow_kv WHERE namespace=$1 AND key=$2`, s.namespace, key)
	return err
}

func (s *Store) Iterate(ctx context.Context) ([]kv.Entry, error) {
	rows, err := s.DB.Query(ctx, `SELECT key,value FROM escrow_kv WHERE namespace=$1 ORDER BY key`, s.namespace)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (s *Store) Scan(ctx context.Context, prefix string) ([]kv.Entry, error) {
	rows, err := s.DB.Query(ctx, `
SELECT key,value FROM escrow_kv
WHERE namespace=$1 AND starts_with(key,$2)
ORDER BY key
`, s.namespace, prefix)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func collect(rows pgx.Rows) ([]kv.Entry, error) {
	defer rows.Close()
	var out []kv.Entry
	for rows.Next() {
		var e kv.Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
