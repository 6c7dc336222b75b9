// Package domain contains the pure business types of the reconciliation
// engine. It is the innermost ring: no infrastructure imports, ever.
package domain

import (
	"fmt"
	"strings"
	"time"
)

// ─── Reservation ────────────────────────────────────────────────────────────

// ReservationStatus is the lifecycle state of a booking.
type ReservationStatus string

const (
	StatusApplied   ReservationStatus = "APPLIED"
	StatusConfirmed ReservationStatus = "CONFIRMED"
	StatusCanceled  ReservationStatus = "CANCELED"
)

// Reservation is a time-slot booking observed from the external booking
// source. Ref is the source's booking id and the idempotent ingestion key.
type Reservation struct {
	ID               int64             `json:"id"`
	Ref              string            `json:"ref"`
	CustomerName     string            `json:"customer_name"`
	Phone            string            `json:"phone"`
	Room             string            `json:"room"`
	StartsAt         time.Time         `json:"starts_at"`
	EndsAt           time.Time         `json:"ends_at"`
	Price            int64             `json:"price"`
	IsCoupon         bool              `json:"is_coupon"`
	ExtraPeople      int               `json:"extra_people"`
	IsProxy          bool              `json:"is_proxy"`
	Status           ReservationStatus `json:"status"`
	AccountGuideSent bool              `json:"account_guide_sent"`
	ConfirmationSent bool              `json:"confirmation_sent"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// Day returns the service day of the slot in YYYY-MM-DD form.
func (r Reservation) Day() string { return r.StartsAt.Format(time.DateOnly) }

// DurationMinutes returns the minutes to charge for the slot.
// Coupon bookings with extra people pay a surcharge: each extra person
// adds half the base duration (integer division, no rounding up).
func (r Reservation) DurationMinutes() int {
	base := int(r.EndsAt.Sub(r.StartsAt) / time.Minute)
	if base < 0 {
		return 0
	}
	if r.IsCoupon && r.ExtraPeople > 0 {
		return base + base*r.ExtraPeople/2
	}
	return base
}

// Overlaps reports whether two slots in the same room strictly overlap.
// Back-to-back slots (one ends exactly when the other starts) do not.
func (r Reservation) Overlaps(other Reservation) bool {
	return r.Room == other.Room &&
		r.StartsAt.Before(other.EndsAt) && other.StartsAt.Before(r.EndsAt)
}

// Validate checks the invariants enforced at the ingestion boundary.
func (r Reservation) Validate() error {
	switch {
	case r.Ref == "":
		return fmt.Errorf("%w: empty booking ref", ErrInvalidBooking)
	case r.Phone == "":
		return fmt.Errorf("%w: booking %s has no phone number", ErrInvalidBooking, r.Ref)
	case r.Room == "":
		return fmt.Errorf("%w: booking %s has no room", ErrInvalidBooking, r.Ref)
	case !r.EndsAt.After(r.StartsAt):
		return fmt.Errorf("%w: booking %s ends at or before its start", ErrInvalidBooking, r.Ref)
	case r.StartsAt.Format(time.DateOnly) != r.EndsAt.Format(time.DateOnly):
		return fmt.Errorf("%w: booking %s crosses midnight", ErrInvalidBooking, r.Ref)
	case r.Price < 0:
		return fmt.Errorf("%w: booking %s has negative price", ErrInvalidBooking, r.Ref)
	}
	return nil
}

// ─── Bank Transactions ──────────────────────────────────────────────────────

// TransactionType distinguishes deposits from withdrawals.
type TransactionType string

const (
	TxDeposit    TransactionType = "DEPOSIT"
	TxWithdrawal TransactionType = "WITHDRAWAL"
)

// MatchStatus tracks how a deposit relates to reservations.
// It only ever advances: UNMATCHED → MATCHED, or {UNMATCHED,MATCHED} → CANCELED.
type MatchStatus string

const (
	MatchUnmatched MatchStatus = "UNMATCHED"
	MatchMatched   MatchStatus = "MATCHED"
	MatchCanceled  MatchStatus = "CANCELED" // refund-eligible, never reusable
)

// Transaction is one row of the bank statement, already deduplicated by Ref.
type Transaction struct {
	ID          int64           `json:"id"`
	Ref         string          `json:"ref"`
	BookedAt    time.Time       `json:"booked_at"`
	Type        TransactionType `json:"type"`
	Amount      int64           `json:"amount"`
	Balance     int64           `json:"balance"`
	Depositor   string          `json:"depositor"`
	Memo        string          `json:"memo,omitempty"`
	MatchStatus MatchStatus     `json:"match_status"`
	MatchedRefs []string        `json:"matched_refs,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// DepositorContains reports whether the free-text depositor field contains
// the customer name, case-insensitively. Bank statements truncate and
// decorate names, so substring is the strongest test available.
func (t Transaction) DepositorContains(name string) bool {
	if name == "" {
		return false
	}
	return strings.Contains(strings.ToLower(t.Depositor), strings.ToLower(name))
}

// ─── Coupon Wallets ─────────────────────────────────────────────────────────

// RoomCategory partitions rooms into wallet scopes.
type RoomCategory string

const (
	CategoryImported RoomCategory = "IMPORTED"
	CategoryDomestic RoomCategory = "DOMESTIC"
)

// RoomCategories maps room names to their category. Rooms not listed
// default to DOMESTIC.
type RoomCategories map[string]RoomCategory

// Of resolves the category for a room name.
func (m RoomCategories) Of(room string) RoomCategory {
	if c, ok := m[room]; ok {
		return c
	}
	return CategoryDomestic
}

// WalletStatus is derived from the expiry date and refreshed lazily on read.
type WalletStatus string

const (
	WalletActive  WalletStatus = "ACTIVE"
	WalletExpired WalletStatus = "EXPIRED"
)

// CouponWallet is a customer's prepaid time balance, scoped to a room
// category. Keyed by (phone, category).
type CouponWallet struct {
	ID           int64        `json:"id"`
	CustomerName string       `json:"customer_name"`
	Phone        string       `json:"phone"`
	Category     RoomCategory `json:"category"`
	TierHours    int          `json:"tier_hours"`
	Remaining    int          `json:"remaining_minutes"`
	RegisteredAt time.Time    `json:"registered_at"`
	ExpiresAt    time.Time    `json:"expires_at"`
	Status       WalletStatus `json:"status"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// MetaComplete reports whether tier, category and expiry are all set.
// Wallets migrated from the old spreadsheet may lack them.
func (w CouponWallet) MetaComplete() bool {
	return w.TierHours > 0 && w.Category != "" && !w.ExpiresAt.IsZero()
}

// RefreshExpiry recomputes the derived status for the given day and
// returns it. The caller persists the flip if the status changed.
func (w *CouponWallet) RefreshExpiry(today time.Time) WalletStatus {
	if !w.ExpiresAt.IsZero() && today.After(w.ExpiresAt) &&
		today.Format(time.DateOnly) != w.ExpiresAt.Format(time.DateOnly) {
		w.Status = WalletExpired
	}
	return w.Status
}

// ─── Coupon Ledger ──────────────────────────────────────────────────────────

// EntryType is the business reason for a ledger entry.
type EntryType string

const (
	EntryCharge EntryType = "CHARGE"
	EntryUse    EntryType = "USE"
	EntryRefund EntryType = "REFUND"
	EntryManual EntryType = "MANUAL"
)

// LedgerEntry is one append-only row of a wallet's history. The sum of
// DeltaMinutes over a wallet replays to its current remaining balance.
type LedgerEntry struct {
	ID             int64     `json:"id"`
	WalletID       int64     `json:"wallet_id"`
	ReservationRef string    `json:"reservation_ref,omitempty"`
	Type           EntryType `json:"type"`
	DeltaMinutes   int       `json:"delta_minutes"`
	BalanceAfter   int       `json:"balance_after"`
	Reason         string    `json:"reason,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ─── Feed Inputs ────────────────────────────────────────────────────────────

// BookingSnapshot is one row of the booking source's current list view.
// Times are the source's display strings; parsing happens at ingestion.
type BookingSnapshot struct {
	Ref          string `json:"ref"`
	CustomerName string `json:"customer_name"`
	Phone        string `json:"phone"`
	Room         string `json:"room"`
	Date         string `json:"date"`       // 2006-01-02
	StartTime    string `json:"start_time"` // 15:04
	EndTime      string `json:"end_time"`   // 15:04
	Price        int64  `json:"price"`
	IsCoupon     bool   `json:"is_coupon"`
	ExtraPeople  int    `json:"extra_people"`
	IsProxy      bool   `json:"is_proxy"`
	Status       string `json:"status"` // applied | confirmed | canceled
}

// Reservation converts the snapshot into a validated Reservation value.
func (s BookingSnapshot) Reservation() (Reservation, error) {
	day, err := time.Parse(time.DateOnly, s.Date)
	if err != nil {
		return Reservation{}, fmt.Errorf("%w: booking %s: bad date %q", ErrInvalidBooking, s.Ref, s.Date)
	}
	start, err := atTime(day, s.StartTime)
	if err != nil {
		return Reservation{}, fmt.Errorf("%w: booking %s: bad start time %q", ErrInvalidBooking, s.Ref, s.StartTime)
	}
	end, err := atTime(day, s.EndTime)
	if err != nil {
		return Reservation{}, fmt.Errorf("%w: booking %s: bad end time %q", ErrInvalidBooking, s.Ref, s.EndTime)
	}
	r := Reservation{
		Ref:          s.Ref,
		CustomerName: s.CustomerName,
		Phone:        s.Phone,
		Room:         s.Room,
		StartsAt:     start,
		EndsAt:       end,
		Price:        s.Price,
		IsCoupon:     s.IsCoupon,
		ExtraPeople:  s.ExtraPeople,
		IsProxy:      s.IsProxy,
		Status:       s.ExternalStatus(),
	}
	if err := r.Validate(); err != nil {
		return Reservation{}, err
	}
	return r, nil
}

// ExternalStatus maps the source's display status onto ours. Unknown
// strings are treated as APPLIED; the state machine guards against any
// regression this could otherwise cause.
func (s BookingSnapshot) ExternalStatus() ReservationStatus {
	switch strings.ToUpper(strings.TrimSpace(s.Status)) {
	case "CONFIRMED":
		return StatusConfirmed
	case "CANCELED", "CANCELLED":
		return StatusCanceled
	default:
		return StatusApplied
	}
}

func atTime(day time.Time, hhmm string) (time.Time, error) {
	t, err := time.Parse("15:04", hhmm)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), t.Hour(), t.Minute(), 0, 0, day.Location()), nil
}

// BankRecord is one raw statement row from the bank feed, pre-persistence.
type BankRecord struct {
	Ref       string          `json:"ref"`
	BookedAt  time.Time       `json:"booked_at"`
	Type      TransactionType `json:"type"`
	Amount    int64           `json:"amount"`
	Balance   int64           `json:"balance"`
	Depositor string          `json:"depositor"`
	Memo      string          `json:"memo,omitempty"`
}

// ─── Cancellation Reasons ───────────────────────────────────────────────────

// ReasonCode identifies why a reservation was canceled. Every cancellation
// carries one; the notifier maps it to a customer-readable message.
type ReasonCode string

const (
	ReasonSlotTaken           ReasonCode = "SLOT_TAKEN"
	ReasonLostToEarlierPayer  ReasonCode = "LOST_TO_EARLIER_PAYER"
	ReasonNoWallet            ReasonCode = "NO_COUPON_WALLET"
	ReasonCouponMetaMissing   ReasonCode = "COUPON_META_MISSING"
	ReasonCouponExpired       ReasonCode = "COUPON_EXPIRED"
	ReasonCategoryMismatch    ReasonCode = "COUPON_CATEGORY_MISMATCH"
	ReasonInsufficientBalance ReasonCode = "INSUFFICIENT_BALANCE"
	ReasonExternal            ReasonCode = "EXTERNAL"
)
