package sqlite

import (
	"database/sql"
	"fmt"

	"github.com/studiomate/studiod/internal/domain"
)

// ─── Reservation Operations ─────────────────────────────────────────────────

const reservationCols = `id, ref, customer_name, phone, room, starts_at, ends_at,
	price, is_coupon, extra_people, is_proxy, status,
	account_guide_sent, confirmation_sent, created_at, updated_at`

// InsertReservation persists a newly observed booking as APPLIED.
// Returns domain.ErrDuplicate if the booking ref was already ingested.
func (db *DB) InsertReservation(r domain.Reservation) (int64, error) {
	res, err := db.db.Exec(`
		INSERT OR IGNORE INTO reservations
			(ref, customer_name, phone, room, starts_at, ends_at, price,
			 is_coupon, extra_people, is_proxy, status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, r.Ref, r.CustomerName, r.Phone, r.Room,
		encodeTime(r.StartsAt), encodeTime(r.EndsAt), r.Price,
		boolToInt(r.IsCoupon), r.ExtraPeople, boolToInt(r.IsProxy),
		string(domain.StatusApplied))
	if err != nil {
		return 0, fmt.Errorf("insert reservation %s: %w", r.Ref, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, fmt.Errorf("reservation %s: %w", r.Ref, domain.ErrDuplicate)
	}
	return res.LastInsertId()
}

// GetReservation fetches one reservation by booking ref.
func (db *DB) GetReservation(ref string) (*domain.Reservation, error) {
	row := db.db.QueryRow(`SELECT `+reservationCols+` FROM reservations WHERE ref = ?`, ref)
	r, err := scanReservation(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// ListByStatus returns reservations in the given status, oldest first.
func (db *DB) ListByStatus(status domain.ReservationStatus) ([]domain.Reservation, error) {
	return db.listReservations(`
		SELECT `+reservationCols+` FROM reservations
		WHERE status = ? ORDER BY created_at, id
	`, string(status))
}

// ListRecentReservations returns the newest reservations for the admin API.
func (db *DB) ListRecentReservations(limit int) ([]domain.Reservation, error) {
	return db.listReservations(`
		SELECT `+reservationCols+` FROM reservations
		ORDER BY created_at DESC, id DESC LIMIT ?
	`, limit)
}

// ListActiveInRoomDay returns APPLIED and CONFIRMED reservations sharing a
// room and service day, sorted by start time. Used for the ingestion-time
// conflict check.
func (db *DB) ListActiveInRoomDay(room, day string) ([]domain.Reservation, error) {
	return db.listReservations(`
		SELECT `+reservationCols+` FROM reservations
		WHERE room = ? AND date(starts_at) = ? AND status IN ('APPLIED', 'CONFIRMED')
		ORDER BY starts_at, id
	`, room, day)
}

func (db *DB) listReservations(query string, args ...any) ([]domain.Reservation, error) {
	rows, err := db.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Reservation
	for rows.Next() {
		r, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

// TransitionReservation moves a reservation through the state machine,
// rejecting regressions with domain.ErrStaleTransition. Same-status calls
// are no-ops so re-running an unchanged cycle writes nothing.
func (db *DB) TransitionReservation(ref string, to domain.ReservationStatus) error {
	return db.withTx(func(tx *sql.Tx) error {
		return transitionLocked(tx, ref, to)
	})
}

func transitionLocked(tx *sql.Tx, ref string, to domain.ReservationStatus) error {
	var from string
	if err := tx.QueryRow(`SELECT status FROM reservations WHERE ref = ?`, ref).Scan(&from); err != nil {
		return fmt.Errorf("transition %s: %w", ref, err)
	}
	if from == string(to) {
		return nil
	}
	if !domain.CanTransition(domain.ReservationStatus(from), to) {
		return fmt.Errorf("reservation %s: %s → %s: %w", ref, from, to, domain.ErrStaleTransition)
	}
	_, err := tx.Exec(`
		UPDATE reservations SET status = ?, updated_at = datetime('now') WHERE ref = ?
	`, string(to), ref)
	return err
}

// MarkAccountGuideSent records that the payment-guide message went out.
func (db *DB) MarkAccountGuideSent(ref string) error {
	_, err := db.db.Exec(`
		UPDATE reservations SET account_guide_sent = 1, updated_at = datetime('now') WHERE ref = ?
	`, ref)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReservation(row rowScanner) (domain.Reservation, error) {
	var (
		r                                  domain.Reservation
		startsAt, endsAt, created, updated string
		isCoupon, isProxy, guide, confirm  int
		status                             string
	)
	err := row.Scan(&r.ID, &r.Ref, &r.CustomerName, &r.Phone, &r.Room,
		&startsAt, &endsAt, &r.Price, &isCoupon, &r.ExtraPeople, &isProxy,
		&status, &guide, &confirm, &created, &updated)
	if err != nil {
		return domain.Reservation{}, err
	}
	r.StartsAt = decodeTime(startsAt)
	r.EndsAt = decodeTime(endsAt)
	r.IsCoupon = isCoupon == 1
	r.IsProxy = isProxy == 1
	r.Status = domain.ReservationStatus(status)
	r.AccountGuideSent = guide == 1
	r.ConfirmationSent = confirm == 1
	r.CreatedAt = decodeTime(created)
	r.UpdatedAt = decodeTime(updated)
	return r, nil
}
