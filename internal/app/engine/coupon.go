package engine

import (
	"context"
	"fmt"
	"log"

	"github.com/studiomate/studiod/internal/domain"
)

// ─── Coupon Handling ────────────────────────────────────────────────────────

// checkCouponBalance resolves and vets the wallet backing a coupon
// reservation. The returned wallet is non-nil whenever one was found,
// even on failure, so the notifier can include the balance in the
// insufficiency message.
func (e *Engine) checkCouponBalance(r domain.Reservation) (*domain.CouponWallet, error) {
	wallets, err := e.db.ListWallets(r.Phone)
	if err != nil {
		return nil, err
	}
	if len(wallets) == 0 {
		return nil, fmt.Errorf("reservation %s: %w", r.Ref, domain.ErrWalletNotFound)
	}

	category := e.cfg.Categories.Of(r.Room)
	var wallet *domain.CouponWallet
	for i := range wallets {
		if wallets[i].Category == category {
			wallet = &wallets[i]
			break
		}
	}
	if wallet == nil {
		// The customer holds coupons, just not for this room's category.
		return &wallets[0], fmt.Errorf("reservation %s: room is %s: %w", r.Ref, category, domain.ErrCategoryMismatch)
	}
	if !wallet.MetaComplete() {
		return wallet, fmt.Errorf("reservation %s: %w", r.Ref, domain.ErrCouponMetaMissing)
	}

	if wallet.Status == domain.WalletActive {
		if wallet.RefreshExpiry(e.now()) == domain.WalletExpired {
			if err := e.db.MarkWalletExpired(wallet.ID); err != nil {
				return wallet, err
			}
		}
	}
	if wallet.Status == domain.WalletExpired {
		return wallet, fmt.Errorf("reservation %s: %w", r.Ref, domain.ErrCouponExpired)
	}

	if required := r.DurationMinutes(); wallet.Remaining < required {
		return wallet, fmt.Errorf("reservation %s: need %dm, have %dm: %w",
			r.Ref, required, wallet.Remaining, domain.ErrInsufficientBalance)
	}
	return wallet, nil
}

// confirmCouponReservation is one atomic unit: confirm on the booking
// source, then debit the wallet, append the USE entry and mark the
// reservation CONFIRMED in a single store transaction. If actuation
// fails, nothing is written and the reservation retries next cycle.
func (e *Engine) confirmCouponReservation(ctx context.Context, r domain.Reservation, w *domain.CouponWallet) error {
	if err := e.actuator.Confirm(ctx, r.Ref); err != nil {
		return fmt.Errorf("%w: confirm %s: %v", domain.ErrActuationFailed, r.Ref, err)
	}
	if err := e.db.DebitForReservation(w.ID, r); err != nil {
		return err
	}
	couponDebits.Inc()
	if err := e.notifier.SendConfirmation(ctx, r); err != nil {
		log.Printf("[engine] confirmation message for %s failed: %v", r.Ref, err)
	}
	return nil
}

// refundCanceledCoupon compensates a confirmed coupon booking that was
// canceled externally. Safe to call on every echo: the ledger guard makes
// a second refund a no-op.
func (e *Engine) refundCanceledCoupon(r domain.Reservation) bool {
	refunded, err := e.db.RefundForReservation(r)
	if err != nil {
		log.Printf("[engine] refund for %s failed: %v", r.Ref, err)
		return false
	}
	if refunded {
		couponRefunds.Inc()
		log.Printf("[engine] refunded %dm to wallet for canceled coupon booking %s", r.DurationMinutes(), r.Ref)
	}
	return refunded
}
