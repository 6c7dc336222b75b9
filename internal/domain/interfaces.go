package domain

import (
	"context"
	"time"
)

// ─── Collaborator Interfaces ────────────────────────────────────────────────
// The engine never talks to a browser, a bank API or an SMS gateway.
// These interfaces are the seams; infrastructure implements them and the
// daemon wires them in at construction time.

// BookingSource yields the current list of bookings as scraped from the
// external reservation UI. A snapshot is a full read, not a delta.
type BookingSource interface {
	Snapshot(ctx context.Context) ([]BookingSnapshot, error)
}

// BankFeed yields statement rows booked on or after since. Rows may
// repeat across calls; ingestion deduplicates on Ref.
type BankFeed interface {
	Fetch(ctx context.Context, since time.Time) ([]BankRecord, error)
}

// Actuator performs the real-world confirm/cancel on the booking source.
type Actuator interface {
	Confirm(ctx context.Context, bookingRef string) error
	Cancel(ctx context.Context, bookingRef string, reason ReasonCode) error
}

// Notifier sends templated customer messages. Failures are logged by the
// caller and never abort a reconciliation unit.
type Notifier interface {
	SendAccountGuide(ctx context.Context, r Reservation) error
	SendConfirmation(ctx context.Context, r Reservation) error
	SendCancellation(ctx context.Context, r Reservation, reason ReasonCode) error
	SendInsufficientBalance(ctx context.Context, r Reservation, w *CouponWallet) error
}
