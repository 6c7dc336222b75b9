package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/studiomate/studiod/internal/domain"
)

// ─── Coupon Wallet Operations ───────────────────────────────────────────────

const walletCols = `id, customer_name, phone, category, tier_hours,
	remaining_minutes, registered_at, expires_at, status, created_at, updated_at`

// GetWallet fetches the wallet keyed by (phone, category).
// Returns domain.ErrWalletNotFound if the customer has no wallet there.
func (db *DB) GetWallet(phone string, category domain.RoomCategory) (*domain.CouponWallet, error) {
	row := db.db.QueryRow(`
		SELECT `+walletCols+` FROM coupon_wallets WHERE phone = ? AND category = ?
	`, phone, string(category))
	w, err := scanWallet(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("wallet %s/%s: %w", phone, category, domain.ErrWalletNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// GetWalletAny returns the customer's wallet in any category, preferring
// IMPORTED. Used to detect category mismatches: the customer has a wallet,
// just not for this room's category.
func (db *DB) GetWalletAny(phone string) (*domain.CouponWallet, error) {
	row := db.db.QueryRow(`
		SELECT `+walletCols+` FROM coupon_wallets WHERE phone = ?
		ORDER BY category = 'IMPORTED' DESC LIMIT 1
	`, phone)
	w, err := scanWallet(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("wallet %s: %w", phone, domain.ErrWalletNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// ListWallets returns wallets for a phone number (admin API).
func (db *DB) ListWallets(phone string) ([]domain.CouponWallet, error) {
	rows, err := db.db.Query(`
		SELECT `+walletCols+` FROM coupon_wallets WHERE phone = ? ORDER BY category
	`, phone)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.CouponWallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, w)
	}
	return result, rows.Err()
}

// MarkWalletExpired persists a lazily detected expiry flip.
func (db *DB) MarkWalletExpired(walletID int64) error {
	_, err := db.db.Exec(`
		UPDATE coupon_wallets SET status = 'EXPIRED', updated_at = datetime('now')
		WHERE id = ?
	`, walletID)
	return err
}

// RegisterOrCharge creates the (phone, category) wallet if needed and tops
// it up, appending a CHARGE ledger entry. One call, one atomic unit.
func (db *DB) RegisterOrCharge(name, phone string, category domain.RoomCategory,
	tierHours, minutes int, registeredAt, expiresAt time.Time) (*domain.CouponWallet, error) {

	err := db.withTx(func(tx *sql.Tx) error {
		_, err := tx.Exec(`
			INSERT INTO coupon_wallets
				(customer_name, phone, category, tier_hours, remaining_minutes,
				 registered_at, expires_at, status)
			VALUES (?, ?, ?, ?, ?, ?, ?, 'ACTIVE')
			ON CONFLICT(phone, category) DO UPDATE SET
				customer_name     = excluded.customer_name,
				tier_hours        = excluded.tier_hours,
				remaining_minutes = remaining_minutes + excluded.remaining_minutes,
				registered_at     = excluded.registered_at,
				expires_at        = excluded.expires_at,
				status            = 'ACTIVE',
				updated_at        = datetime('now')
		`, name, phone, string(category), tierHours, minutes,
			encodeNullableTime(registeredAt), encodeNullableTime(expiresAt))
		if err != nil {
			return err
		}

		var id int64
		var balance int
		if err := tx.QueryRow(`
			SELECT id, remaining_minutes FROM coupon_wallets WHERE phone = ? AND category = ?
		`, phone, string(category)).Scan(&id, &balance); err != nil {
			return err
		}
		_, err = tx.Exec(`
			INSERT INTO coupon_ledger (wallet_id, type, delta_minutes, balance_after, reason)
			VALUES (?, ?, ?, ?, ?)
		`, id, string(domain.EntryCharge), minutes, balance, fmt.Sprintf("%dh tier charge", tierHours))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("register or charge %s/%s: %w", phone, category, err)
	}
	return db.GetWallet(phone, category)
}

// ─── Coupon Ledger Operations ───────────────────────────────────────────────

// DebitForReservation atomically subtracts the reservation's duration from
// the wallet, appends a USE entry, and confirms the reservation. The
// balance guard re-checks inside the transaction; a shortfall aborts with
// domain.ErrInsufficientBalance and nothing is written.
func (db *DB) DebitForReservation(walletID int64, r domain.Reservation) error {
	duration := r.DurationMinutes()
	return db.withTx(func(tx *sql.Tx) error {
		res, err := tx.Exec(`
			UPDATE coupon_wallets
			SET remaining_minutes = remaining_minutes - ?, updated_at = datetime('now')
			WHERE id = ? AND remaining_minutes >= ?
		`, duration, walletID, duration)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("wallet %d debit %dm: %w", walletID, duration, domain.ErrInsufficientBalance)
		}

		var balance int
		if err := tx.QueryRow(`SELECT remaining_minutes FROM coupon_wallets WHERE id = ?`, walletID).Scan(&balance); err != nil {
			return err
		}
		if _, err := tx.Exec(`
			INSERT INTO coupon_ledger (wallet_id, reservation_ref, type, delta_minutes, balance_after)
			VALUES (?, ?, ?, ?, ?)
		`, walletID, r.Ref, string(domain.EntryUse), -duration, balance); err != nil {
			return err
		}

		if err := transitionLocked(tx, r.Ref, domain.StatusConfirmed); err != nil {
			return err
		}
		_, err = tx.Exec(`
			UPDATE reservations SET confirmation_sent = 1, updated_at = datetime('now') WHERE ref = ?
		`, r.Ref)
		return err
	})
}

// RefundForReservation is the idempotent compensating transaction for a
// confirmed coupon booking that was canceled externally. It applies only
// when a USE entry exists for the reservation and no REFUND of the same
// magnitude does. Returns whether a refund was written.
func (db *DB) RefundForReservation(r domain.Reservation) (refunded bool, err error) {
	duration := r.DurationMinutes()
	err = db.withTx(func(tx *sql.Tx) error {
		var walletID int64
		err := tx.QueryRow(`
			SELECT wallet_id FROM coupon_ledger
			WHERE reservation_ref = ? AND type = 'USE' AND delta_minutes = ?
			LIMIT 1
		`, r.Ref, -duration).Scan(&walletID)
		if err == sql.ErrNoRows {
			return nil // never debited, nothing to compensate
		}
		if err != nil {
			return err
		}

		var dup int
		if err := tx.QueryRow(`
			SELECT COUNT(*) FROM coupon_ledger
			WHERE reservation_ref = ? AND type = 'REFUND' AND delta_minutes = ?
		`, r.Ref, duration).Scan(&dup); err != nil {
			return err
		}
		if dup > 0 {
			return nil // already refunded
		}

		if _, err := tx.Exec(`
			UPDATE coupon_wallets
			SET remaining_minutes = remaining_minutes + ?, updated_at = datetime('now')
			WHERE id = ?
		`, duration, walletID); err != nil {
			return err
		}
		var balance int
		if err := tx.QueryRow(`SELECT remaining_minutes FROM coupon_wallets WHERE id = ?`, walletID).Scan(&balance); err != nil {
			return err
		}
		if _, err := tx.Exec(`
			INSERT INTO coupon_ledger (wallet_id, reservation_ref, type, delta_minutes, balance_after, reason)
			VALUES (?, ?, ?, ?, ?, 'external cancellation')
		`, walletID, r.Ref, string(domain.EntryRefund), duration, balance); err != nil {
			return err
		}
		refunded = true
		return nil
	})
	return refunded, err
}

// LedgerEntries returns a wallet's full history, oldest first.
func (db *DB) LedgerEntries(walletID int64) ([]domain.LedgerEntry, error) {
	rows, err := db.db.Query(`
		SELECT id, wallet_id, reservation_ref, type, delta_minutes, balance_after, reason, created_at
		FROM coupon_ledger WHERE wallet_id = ? ORDER BY id
	`, walletID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.LedgerEntry
	for rows.Next() {
		var e domain.LedgerEntry
		var entryType, created string
		if err := rows.Scan(&e.ID, &e.WalletID, &e.ReservationRef, &entryType,
			&e.DeltaMinutes, &e.BalanceAfter, &e.Reason, &created); err != nil {
			return nil, err
		}
		e.Type = domain.EntryType(entryType)
		e.CreatedAt = decodeTime(created)
		result = append(result, e)
	}
	return result, rows.Err()
}

func scanWallet(row rowScanner) (domain.CouponWallet, error) {
	var (
		w                   domain.CouponWallet
		category, status    string
		registered, expires sql.NullString
		created, updated    string
	)
	err := row.Scan(&w.ID, &w.CustomerName, &w.Phone, &category, &w.TierHours,
		&w.Remaining, &registered, &expires, &status, &created, &updated)
	if err != nil {
		return domain.CouponWallet{}, err
	}
	w.Category = domain.RoomCategory(category)
	w.Status = domain.WalletStatus(status)
	w.RegisteredAt = decodeNullableTime(registered)
	w.ExpiresAt = decodeNullableTime(expires)
	w.CreatedAt = decodeTime(created)
	w.UpdatedAt = decodeTime(updated)
	return w, nil
}
