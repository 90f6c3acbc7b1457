package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS diag_kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at TEXT NOT NULL DEFAULT (datetime('now'))
);
`

// SQLiteKV implements KV on an SQLite database. It is suitable for a single
// process; writes are serialized through a single connection.
type SQLiteKV struct {
	db *sql.DB
}

// NewSQLiteKV opens (or creates) the store at dsn. Use ":memory:" for an
// in-memory database in tests.
func NewSQLiteKV(dsn string) (*SQLiteKV, error) {
	// Append pragmas to the DSN so they apply to every connection in the pool.
	if dsn != ":memory:" {
		sep := "?"
		if strings.Contains(dsn, "?") {
			sep = "&"
		}
		dsn += sep + "_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// One connection serializes writes and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &SQLiteKV{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteKV) Close() error {
	return s.db.Close()
}

func (s *SQLiteKV) GetString(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM diag_kv WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get %q: %w", key, err)
	}
	return value, true, nil
}

func (s *SQLiteKV) SetString(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO diag_kv (key, value, updated_at) VALUES (?, ?, datetime('now'))
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = datetime('now')
	`, key, value)
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

func (s *SQLiteKV) GetInt(ctx context.Context, key string) (int, bool, error) {
	v, ok, err := s.GetString(ctx, key)
	if !ok || err != nil {
		return 0, ok, err
	}
	return intFromString(v), true, nil
}

func (s *SQLiteKV) SetInt(ctx context.Context, key string, value int) error {
	return s.SetString(ctx, key, strconv.Itoa(value))
}

func (s *SQLiteKV) GetBool(ctx context.Context, key string) (bool, bool, error) {
	v, ok, err := s.GetString(ctx, key)
	if !ok || err != nil {
		return false, ok, err
	}
	return boolFromString(v), true, nil
}

func (s *SQLiteKV) SetBool(ctx context.Context, key string, value bool) error {
	return s.SetString(ctx, key, strconv.FormatBool(value))
}

func (s *SQLiteKV) Delete(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM diag_kv WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}
