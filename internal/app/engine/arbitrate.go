package engine

import (
	"sort"
	"time"

	"github.com/studiomate/studiod/internal/domain"
)

// ─── First-Payment-Wins Arbitration ─────────────────────────────────────────

// Verdict is the decided outcome for one conflict cluster: the claimant
// with the earliest valid deposit wins the slot, everyone else loses it.
type Verdict struct {
	Winner        domain.Reservation
	WinnerDeposit domain.Transaction
	Losers        []Loser
}

// Loser is a canceled cluster member. Deposit is non-nil when the loser
// also paid; that deposit is parked as CANCELED (refund-eligible) so it
// cannot be silently claimed for something else.
type Loser struct {
	Reservation domain.Reservation
	Deposit     *domain.Transaction
}

// ResolveCluster arbitrates one cluster against the unmatched deposit
// pool. Only APPLIED cash reservations compete. Each claimant's earliest
// deposit matching their exact price (name substring, booked on or after
// the reservation's creation day) counts as their payment.
//
// If nobody paid yet, the verdict is nil and the cluster waits for the
// next cycle. Ties on payment time break by reservation creation time and
// then booking ref, so re-running an unchanged cycle is deterministic.
func ResolveCluster(c Cluster, deposits []domain.Transaction) *Verdict {
	type bid struct {
		res domain.Reservation
		tx  *domain.Transaction
	}
	var bids []bid
	taken := make(map[string]bool) // deposit ref → already assigned to a claimant
	for _, r := range c.Members {
		if r.Status != domain.StatusApplied || r.IsCoupon {
			continue
		}
		bids = append(bids, bid{res: r, tx: earliestExactDeposit(r, deposits, taken)})
	}
	if len(bids) < 2 {
		return nil
	}

	paid := false
	for _, b := range bids {
		if b.tx != nil {
			paid = true
			break
		}
	}
	if !paid {
		return nil
	}

	sort.SliceStable(bids, func(i, j int) bool {
		bi, bj := bids[i], bids[j]
		switch {
		case bi.tx == nil:
			return false
		case bj.tx == nil:
			return true
		case !bi.tx.BookedAt.Equal(bj.tx.BookedAt):
			return bi.tx.BookedAt.Before(bj.tx.BookedAt)
		case !bi.res.CreatedAt.Equal(bj.res.CreatedAt):
			return bi.res.CreatedAt.Before(bj.res.CreatedAt)
		default:
			return bi.res.Ref < bj.res.Ref
		}
	})

	v := &Verdict{Winner: bids[0].res, WinnerDeposit: *bids[0].tx}
	for _, b := range bids[1:] {
		v.Losers = append(v.Losers, Loser{Reservation: b.res, Deposit: b.tx})
	}
	return v
}

// earliestExactDeposit finds the claimant's earliest unmatched deposit
// whose amount equals the reservation price. Deposits already bid by
// another claimant in the same cluster are skipped so one transfer never
// backs two claims.
func earliestExactDeposit(r domain.Reservation, deposits []domain.Transaction, taken map[string]bool) *domain.Transaction {
	floor := r.CreatedAt.Format(time.DateOnly)
	var best *domain.Transaction
	for i := range deposits {
		tx := &deposits[i]
		if tx.Type != domain.TxDeposit || tx.MatchStatus != domain.MatchUnmatched || taken[tx.Ref] {
			continue
		}
		if tx.Amount != r.Price || !tx.DepositorContains(r.CustomerName) {
			continue
		}
		if tx.BookedAt.Format(time.DateOnly) < floor {
			continue
		}
		if best == nil || tx.BookedAt.Before(best.BookedAt) {
			best = tx
		}
	}
	if best != nil {
		taken[best.Ref] = true
	}
	return best
}
