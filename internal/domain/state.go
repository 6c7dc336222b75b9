package domain

import "fmt"

// ─── Reservation State Machine ──────────────────────────────────────────────
//
// APPLIED ──→ CONFIRMED ──→ CANCELED
//    └────────────────────────┘
//
// CONFIRMED may still move to CANCELED (operator canceled on the booking
// source). Nothing ever moves back to APPLIED: a stale re-scrape must not
// un-confirm a booking.

// CanTransition reports whether a status change is legal. Same-to-same is
// allowed as a no-op so idempotent re-application is cheap to express.
func CanTransition(from, to ReservationStatus) bool {
	if from == to {
		return true
	}
	switch from {
	case StatusApplied:
		return to == StatusConfirmed || to == StatusCanceled
	case StatusConfirmed:
		return to == StatusCanceled
	case StatusCanceled:
		return false
	}
	return false
}

// Transition applies a status change in place, rejecting regressions.
func (r *Reservation) Transition(to ReservationStatus) error {
	if !CanTransition(r.Status, to) {
		return fmt.Errorf("%w: %s cannot go from %s to %s", ErrStaleTransition, r.Ref, r.Status, to)
	}
	r.Status = to
	return nil
}
