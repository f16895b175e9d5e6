// Package sqlitekv stores kv namespaces in a SQLite file.
package sqlitekv

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	"escrowlane/pkg/kv"

	_ "github.com/mattn/go-sqlite3"
)

type DB struct {
	db     *sql.DB
	closed atomic.Bool
}

func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	d := &DB{db: db}
	if err := d.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return d, nil
}

func (d *DB) Close() error {
	d.closed.Store(true)
	return d.db.Close()
}

func (d *DB) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS escrow_kv (
			namespace TEXT NOT NULL,
			key TEXT NOT NULL,
			value BLOB NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (namespace, key)
		)`,
	}
	for _, m := range migrations {
		if _, err := d.db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

func (d *DB) Namespace(name string) kv.Store {
	return &Store{d: d, namespace: name}
}

var _ kv.Opener = (*DB)(nil)

type Store struct {
	d         *DB
	namespace string
}

func (s *Store) check() error {
	if s.d.closed.Load() {
		return kv.ErrClosed
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := s.check(); err != nil {
		return nil, false, err
	}
	var v []byte
	err := s.d.db.QueryRowContext(ctx,
		`SELECT value FROM escrow_kv WHERE namespace = ? AND key = ?`, s.namespace, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return v, true, nil
}

func (s *Store) Put(ctx context.Context, key string, value []byte) error {
	if err := s.check(); err != nil {
		return err
	}
	_, err := s.d.db.ExecContext(ctx, `
		INSERT INTO escrow_kv (namespace, key, value) VALUES (?, ?, ?)
		ON CONFLICT(namespace, key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, s.namespace, key, value)
	return err
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := s.check(); err != nil {
		return err
	}
	_, err := s.d.db.ExecContext(ctx, `DELETE FROM escrow_kv WHERE namespace = ? AND key = ?`, s.namespace, key)
	return err
}

func (s *Store) Iterate(ctx context.Context) ([]kv.Entry, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	rows, err := s.d.db.QueryContext(ctx,
		`SELECT key, value FROM escrow_kv WHERE namespace = ? ORDER BY key`, s.namespace)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func (s *Store) Scan(ctx context.Context, prefix string) ([]kv.Entry, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	rows, err := s.d.db.QueryContext(ctx, `
		SELECT key, value FROM escrow_kv
		WHERE namespace = ? AND substr(key, 1, length(?)) = ?
		ORDER BY key
	`, s.namespace, prefix, prefix)
	if err != nil {
		return nil, err
	}
	return collect(rows)
}

func collect(rows *sql.Rows) ([]kv.Entry, error) {
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
