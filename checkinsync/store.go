// Copyright 2026 Joinmeister
// SPDX-License-Identifier: Apache-2.0

package checkinsync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// DurableStore is the persisted key/value substrate shared by the action
// queue and the cache store. Values survive process restart; each write is
// atomic with respect to crashes (no partial value is ever observable).
type DurableStore interface {
	// GetList returns the stored bytes for key, with found=false when absent.
	GetList(ctx context.Context, key string) (value []byte, found bool, err error)
	// SetList overwrites the stored bytes for key.
	SetList(ctx context.Context, key string, value []byte) error
	// DeleteList removes key; no-op when absent.
	DeleteList(ctx context.Context, key string) error
}

// SQLiteStore is the SQLite-backed DurableStore. A single-row upsert per
// write keeps each SetList atomic under WAL journaling.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore initializes the backing table and returns the store.
func NewSQLiteStore(db *sql.DB) (*SQLiteStore, error) {
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000`); err != nil {
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	_, err := db.Exec(`CREATE TABLE IF NOT EXISTS _checkin_kv (
		key        TEXT PRIMARY KEY,
		value      BLOB NOT NULL,
		updated_at TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ','now'))
	)`)
	if err != nil {
		return nil, fmt.Errorf("failed to create kv table: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) GetList(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, `SELECT value FROM _checkin_kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read key %q: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteStore) SetList(ctx context.Context, key string, value []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO _checkin_kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = strftime('%Y-%m-%dT%H:%M:%fZ','now')
	`, key, value)
	if err != nil {
		return fmt.Errorf("failed to write key %q: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) DeleteList(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM _checkin_kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("failed to delete key %q: %w", key, err)
	}
	return nil
}
