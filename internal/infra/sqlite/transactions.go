package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/studiomate/studiod/internal/domain"
)

// ─── Bank Transaction Operations ────────────────────────────────────────────

const transactionCols = `id, ref, booked_at, type, amount, balance, depositor,
	memo, match_status, matched_refs, created_at`

// InsertBankRecord persists one statement row. Re-ingesting a known ref is
// a silent no-op; created reports whether the row was new.
func (db *DB) InsertBankRecord(rec domain.BankRecord) (created bool, err error) {
	res, err := db.db.Exec(`
		INSERT OR IGNORE INTO bank_transactions
			(ref, booked_at, type, amount, balance, depositor, memo)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, rec.Ref, encodeTime(rec.BookedAt), string(rec.Type), rec.Amount,
		rec.Balance, rec.Depositor, rec.Memo)
	if err != nil {
		return false, fmt.Errorf("insert transaction %s: %w", rec.Ref, err)
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetTransaction fetches one transaction by its external ref.
func (db *DB) GetTransaction(ref string) (*domain.Transaction, error) {
	row := db.db.QueryRow(`SELECT `+transactionCols+` FROM bank_transactions WHERE ref = ?`, ref)
	t, err := scanTransaction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListUnmatchedDeposits returns UNMATCHED deposit rows ordered by statement
// time. These are the only transactions the matcher may consume.
func (db *DB) ListUnmatchedDeposits() ([]domain.Transaction, error) {
	return db.listTransactions(`
		SELECT `+transactionCols+` FROM bank_transactions
		WHERE type = 'DEPOSIT' AND match_status = 'UNMATCHED'
		ORDER BY booked_at, id
	`)
}

// ListRecentTransactions returns the newest statement rows for the admin API.
func (db *DB) ListRecentTransactions(limit int) ([]domain.Transaction, error) {
	return db.listTransactions(`
		SELECT `+transactionCols+` FROM bank_transactions
		ORDER BY booked_at DESC, id DESC LIMIT ?
	`, limit)
}

func (db *DB) listTransactions(query string, args ...any) ([]domain.Transaction, error) {
	rows, err := db.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

// ─── Composite Atomic Units ─────────────────────────────────────────────────
// One arbitration or matching outcome is one sqlite transaction. The
// actuator call happens before these; if it failed, nothing here runs.

// ConfirmMatch commits a payment match: every reservation moves to
// CONFIRMED with its confirmation flagged, and every deposit moves
// UNMATCHED → MATCHED carrying the reservation refs it settled.
// A deposit that is no longer UNMATCHED aborts the whole unit with
// domain.ErrTransactionConsumed.
func (db *DB) ConfirmMatch(resRefs, txRefs []string) error {
	matched, err := json.Marshal(resRefs)
	if err != nil {
		return err
	}
	return db.withTx(func(tx *sql.Tx) error {
		for _, ref := range resRefs {
			if err := transitionLocked(tx, ref, domain.StatusConfirmed); err != nil {
				return err
			}
			if _, err := tx.Exec(`
				UPDATE reservations SET confirmation_sent = 1, updated_at = datetime('now')
				WHERE ref = ?
			`, ref); err != nil {
				return err
			}
		}
		for _, ref := range txRefs {
			res, err := tx.Exec(`
				UPDATE bank_transactions SET match_status = 'MATCHED', matched_refs = ?
				WHERE ref = ? AND match_status = 'UNMATCHED'
			`, string(matched), ref)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			if n == 0 {
				return fmt.Errorf("deposit %s: %w", ref, domain.ErrTransactionConsumed)
			}
		}
		return nil
	})
}

// CancelWithDeposit cancels a losing reservation and parks its deposit as
// CANCELED so it cannot be claimed for anything else without an explicit
// refund. txRef may be empty for losers who never paid.
func (db *DB) CancelWithDeposit(resRef, txRef string) error {
	return db.withTx(func(tx *sql.Tx) error {
		if err := transitionLocked(tx, resRef, domain.StatusCanceled); err != nil {
			return err
		}
		if txRef == "" {
			return nil
		}
		res, err := tx.Exec(`
			UPDATE bank_transactions SET match_status = 'CANCELED'
			WHERE ref = ? AND match_status != 'CANCELED'
		`, txRef)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("deposit %s: %w", txRef, domain.ErrTransactionConsumed)
		}
		return nil
	})
}

func scanTransaction(row rowScanner) (domain.Transaction, error) {
	var (
		t                         domain.Transaction
		bookedAt, created         string
		txType, matchStatus, refs string
	)
	err := row.Scan(&t.ID, &t.Ref, &bookedAt, &txType, &t.Amount, &t.Balance,
		&t.Depositor, &t.Memo, &matchStatus, &refs, &created)
	if err != nil {
		return domain.Transaction{}, err
	}
	t.BookedAt = decodeTime(bookedAt)
	t.Type = domain.TransactionType(txType)
	t.MatchStatus = domain.MatchStatus(matchStatus)
	t.CreatedAt = decodeTime(created)
	if refs != "" && refs != "[]" {
		if err := json.Unmarshal([]byte(refs), &t.MatchedRefs); err != nil {
			return domain.Transaction{}, fmt.Errorf("transaction %s: bad matched_refs: %w", t.Ref, err)
		}
	}
	return t, nil
}
