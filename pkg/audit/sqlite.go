// Copyright 2026 Jeremy Hahn
// SPDX-License-Identifier: MIT

package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS decisions (
  id         TEXT PRIMARY KEY,
  decided_at INTEGER NOT NULL,
  host       TEXT NOT NULL,
  accepted   INTEGER NOT NULL,
  reason     TEXT NOT NULL,
  pattern    TEXT,
  pin        TEXT,
  version    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_decisions_time ON decisions(decided_at);
CREATE INDEX IF NOT EXISTS idx_decisions_host ON decisions(host, decided_at);`

// SQLiteStore keeps records in a SQLite database in WAL mode.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens or creates the database at path and initialises the schema.
// Use ":memory:" for a private in-memory database.
func Open(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	// A single connection keeps ":memory:" databases shared and serialises writers.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: init schema: %w", ErrStorage, err)
	}
	return &SQLiteStore{db: db}, nil
}

// Insert implements Store.
func (s *SQLiteStore) Insert(ctx context.Context, rec Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO decisions(id, decided_at, host, accepted, reason, pattern, pin, version) VALUES(?,?,?,?,?,?,?,?)`,
		rec.ID.String(), rec.Time.UnixNano(), rec.Host, rec.Accepted, rec.Reason, rec.Pattern, rec.Pin, int64(rec.Version))
	if err != nil {
		return fmt.Errorf("%w: insert: %w", ErrStorage, err)
	}
	return nil
}

// Recent implements Store.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, decided_at, host, accepted, reason, pattern, pin, version
		 FROM decisions ORDER BY decided_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: query: %w", ErrStorage, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var (
			id, host, reason string
			pattern, pin     sql.NullString
			decidedAt        int64
			version          int64
			rec              Record
		)
		if err := rows.Scan(&id, &decidedAt, &host, &rec.Accepted, &reason, &pattern, &pin, &version); err != nil {
			return nil, fmt.Errorf("%w: scan: %w", ErrStorage, err)
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("%w: record id %q: %w", ErrStorage, id, err)
		}
		rec.ID = parsed
		rec.Time = time.Unix(0, decidedAt)
		rec.Host = host
		rec.Reason = reason
		rec.Pattern = pattern.String
		rec.Pin = pin.String
		rec.Version = uint64(version)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return out, nil
}

// Count returns the number of stored records.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM decisions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStorage, err)
	}
	return n, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
