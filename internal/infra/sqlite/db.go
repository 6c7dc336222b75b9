// Package sqlite persists reservations, bank transactions, coupon wallets
// and the coupon ledger in an embedded database. It is the single writer
// for all four tables; composite operations that must be atomic (confirm,
// cancel, debit, refund) are expressed here as one transaction each.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the sqlite handle.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies migrations.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	handle, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// Single-writer engine; WAL keeps the admin API's reads cheap.
	for _, pragma := range []string{
		`PRAGMA journal_mode = WAL`,
		`PRAGMA foreign_keys = ON`,
		`PRAGMA busy_timeout = 5000`,
	} {
		if _, err := handle.Exec(pragma); err != nil {
			handle.Close()
			return nil, fmt.Errorf("apply %s: %w", pragma, err)
		}
	}
	db := &DB{db: handle}
	if err := db.migrate(); err != nil {
		handle.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the underlying handle.
func (db *DB) Close() error { return db.db.Close() }

// Migrations returns the schema statements, one SQL statement per string
// (SQLite executes one at a time).
func Migrations() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS reservations (
			id                 INTEGER PRIMARY KEY AUTOINCREMENT,
			ref                TEXT NOT NULL UNIQUE,
			customer_name      TEXT NOT NULL DEFAULT '',
			phone              TEXT NOT NULL DEFAULT '',
			room               TEXT NOT NULL DEFAULT '',
			starts_at          TEXT NOT NULL,
			ends_at            TEXT NOT NULL,
			price              INTEGER NOT NULL DEFAULT 0,
			is_coupon          INTEGER NOT NULL DEFAULT 0,
			extra_people       INTEGER NOT NULL DEFAULT 0,
			is_proxy           INTEGER NOT NULL DEFAULT 0,
			status             TEXT NOT NULL DEFAULT 'APPLIED',
			account_guide_sent INTEGER NOT NULL DEFAULT 0,
			confirmation_sent  INTEGER NOT NULL DEFAULT 0,
			created_at         TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at         TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_res_status ON reservations(status)`,
		`CREATE INDEX IF NOT EXISTS idx_res_room_day ON reservations(room, starts_at)`,
		`CREATE INDEX IF NOT EXISTS idx_res_phone ON reservations(phone)`,

		`CREATE TABLE IF NOT EXISTS bank_transactions (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			ref          TEXT NOT NULL UNIQUE,
			booked_at    TEXT NOT NULL,
			type         TEXT NOT NULL,
			amount       INTEGER NOT NULL,
			balance      INTEGER NOT NULL DEFAULT 0,
			depositor    TEXT NOT NULL DEFAULT '',
			memo         TEXT NOT NULL DEFAULT '',
			match_status TEXT NOT NULL DEFAULT 'UNMATCHED',
			matched_refs TEXT NOT NULL DEFAULT '[]',
			created_at   TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tx_match ON bank_transactions(match_status)`,
		`CREATE INDEX IF NOT EXISTS idx_tx_booked ON bank_transactions(booked_at)`,
		`CREATE INDEX IF NOT EXISTS idx_tx_depositor ON bank_transactions(depositor)`,

		`CREATE TABLE IF NOT EXISTS coupon_wallets (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			customer_name     TEXT NOT NULL DEFAULT '',
			phone             TEXT NOT NULL,
			category          TEXT NOT NULL,
			tier_hours        INTEGER NOT NULL DEFAULT 0,
			remaining_minutes INTEGER NOT NULL DEFAULT 0,
			registered_at     TEXT,
			expires_at        TEXT,
			status            TEXT NOT NULL DEFAULT 'ACTIVE',
			created_at        TEXT NOT NULL DEFAULT (datetime('now')),
			updated_at        TEXT NOT NULL DEFAULT (datetime('now')),
			UNIQUE(phone, category)
		)`,

		`CREATE TABLE IF NOT EXISTS coupon_ledger (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			wallet_id       INTEGER NOT NULL REFERENCES coupon_wallets(id),
			reservation_ref TEXT NOT NULL DEFAULT '',
			type            TEXT NOT NULL,
			delta_minutes   INTEGER NOT NULL,
			balance_after   INTEGER NOT NULL,
			reason          TEXT NOT NULL DEFAULT '',
			created_at      TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_wallet ON coupon_ledger(wallet_id)`,
		`CREATE INDEX IF NOT EXISTS idx_ledger_res ON coupon_ledger(reservation_ref)`,
	}
}

func (db *DB) migrate() error {
	for _, stmt := range Migrations() {
		if _, err := db.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

// withTx runs fn inside a transaction, rolling back on error.
func (db *DB) withTx(fn func(tx *sql.Tx) error) error {
	tx, err := db.db.Begin()
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ─── Time Encoding ──────────────────────────────────────────────────────────
// Timestamps are stored as RFC 3339 strings in UTC.

func encodeTime(t time.Time) string { return t.UTC().Format(time.RFC3339) }

func decodeTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		// Rows written by sqlite's datetime('now') default.
		t, _ = time.Parse("2006-01-02 15:04:05", s)
	}
	return t
}

func encodeNullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return encodeTime(t)
}

func decodeNullableTime(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	return decodeTime(s.String)
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
