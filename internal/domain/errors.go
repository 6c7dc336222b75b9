package domain

import "errors"

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure — no infrastructure dependency. Callers branch
// with errors.Is.

var (
	// Ingestion errors
	ErrInvalidBooking = errors.New("invalid booking snapshot")
	ErrDuplicate      = errors.New("record already ingested")

	// Feed errors — a failed fetch aborts the whole cycle
	ErrFeedUnavailable = errors.New("external feed unavailable")

	// Coupon errors — each maps to a deterministic cancellation reason
	ErrWalletNotFound      = errors.New("no coupon wallet for customer")
	ErrCouponMetaMissing   = errors.New("coupon wallet metadata incomplete")
	ErrCouponExpired       = errors.New("coupon wallet expired")
	ErrCategoryMismatch    = errors.New("room category does not match wallet")
	ErrInsufficientBalance = errors.New("coupon balance below required duration")

	// State machine errors
	ErrStaleTransition = errors.New("status transition rejected")

	// Transaction ledger errors
	ErrTransactionConsumed = errors.New("transaction already matched or canceled")

	// Actuation errors — abort the atomic unit for one reservation only
	ErrActuationFailed = errors.New("booking source actuation failed")
)

// CancellationReason maps a coupon failure to its reason code so the
// orchestrator can cancel with a specific, human-readable cause.
func CancellationReason(err error) (ReasonCode, bool) {
	switch {
	case errors.Is(err, ErrWalletNotFound):
		return ReasonNoWallet, true
	case errors.Is(err, ErrCouponMetaMissing):
		return ReasonCouponMetaMissing, true
	case errors.Is(err, ErrCouponExpired):
		return ReasonCouponExpired, true
	case errors.Is(err, ErrCategoryMismatch):
		return ReasonCategoryMismatch, true
	case errors.Is(err, ErrInsufficientBalance):
		return ReasonInsufficientBalance, true
	}
	return "", false
}
