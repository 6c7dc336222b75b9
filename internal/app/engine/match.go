package engine

import (
	"sort"
	"time"

	"github.com/studiomate/studiod/internal/domain"
)

// ─── Payment Matching ───────────────────────────────────────────────────────

// Claim aggregates one customer's unpaid cash reservations. The customer
// is expected to transfer the combined total in one or more deposits.
type Claim struct {
	CustomerName    string
	Phone           string
	Total           int64
	EarliestCreated time.Time
	Reservations    []domain.Reservation
}

// BuildClaims groups APPLIED, non-coupon reservations whose payment guide
// already went out by customer phone number. Reservations listed in skip
// (conflict cluster members, owned by arbitration) are left out.
// Claims come back ordered by earliest reservation creation for stable
// cycle-to-cycle processing.
func BuildClaims(reservations []domain.Reservation, skip map[string]bool) []Claim {
	byPhone := make(map[string]*Claim)
	var order []string
	for _, r := range reservations {
		if r.Status != domain.StatusApplied || r.IsCoupon || !r.AccountGuideSent || skip[r.Ref] {
			continue
		}
		c, ok := byPhone[r.Phone]
		if !ok {
			c = &Claim{CustomerName: r.CustomerName, Phone: r.Phone, EarliestCreated: r.CreatedAt}
			byPhone[r.Phone] = c
			order = append(order, r.Phone)
		}
		c.Total += r.Price
		if r.CreatedAt.Before(c.EarliestCreated) {
			c.EarliestCreated = r.CreatedAt
		}
		c.Reservations = append(c.Reservations, r)
	}

	claims := make([]Claim, 0, len(byPhone))
	for _, phone := range order {
		claims = append(claims, *byPhone[phone])
	}
	sort.SliceStable(claims, func(i, j int) bool {
		return claims[i].EarliestCreated.Before(claims[j].EarliestCreated)
	})
	return claims
}

// MatchKind records how a claim was settled.
type MatchKind string

const (
	MatchExact MatchKind = "exact"
	MatchSplit MatchKind = "split"
)

// Match is the outcome of settling one claim against the deposit pool.
type Match struct {
	Kind     MatchKind
	Deposits []domain.Transaction
}

// MatchDeposits finds unmatched deposits that settle the claim's total.
//
// An exact single-deposit match wins first: the earliest candidate whose
// amount equals the total. Failing that, combinations of up to maxCombo
// candidates are searched for a subset summing exactly to the total; the
// first subset in enumeration order is taken, which is not guaranteed to
// be the earliest-dated or smallest one. That quirk is deliberate and
// known to the operators. The candidate pool is capped at maxCandidates
// to bound the combinatorial search.
//
// No match is not an error: the claim just waits for the next cycle.
func MatchDeposits(c Claim, deposits []domain.Transaction, maxCombo, maxCandidates int) *Match {
	candidates := candidateDeposits(c, deposits)
	if len(candidates) == 0 {
		return nil
	}

	for _, tx := range candidates {
		if tx.Amount == c.Total {
			return &Match{Kind: MatchExact, Deposits: []domain.Transaction{tx}}
		}
	}

	if len(candidates) > maxCandidates {
		candidates = candidates[:maxCandidates]
	}
	if combo := findSplit(candidates, c.Total, maxCombo); combo != nil {
		return &Match{Kind: MatchSplit, Deposits: combo}
	}
	return nil
}

// candidateDeposits filters the pool down to deposits this claimant could
// have sent: unmatched, depositor name containing the customer name, and
// booked on or after the day the earliest reservation was created.
func candidateDeposits(c Claim, deposits []domain.Transaction) []domain.Transaction {
	floor := c.EarliestCreated.Format(time.DateOnly)
	var out []domain.Transaction
	for _, tx := range deposits {
		if tx.Type != domain.TxDeposit || tx.MatchStatus != domain.MatchUnmatched {
			continue
		}
		if !tx.DepositorContains(c.CustomerName) {
			continue
		}
		if tx.BookedAt.Format(time.DateOnly) < floor {
			continue
		}
		out = append(out, tx)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].BookedAt.Before(out[j].BookedAt)
	})
	return out
}

// findSplit enumerates index combinations of size 1..maxCombo over the
// candidates (which are ordered by statement time) and returns the first
// subset whose amounts sum to total.
func findSplit(candidates []domain.Transaction, total int64, maxCombo int) []domain.Transaction {
	n := len(candidates)
	if maxCombo > n {
		maxCombo = n
	}
	for size := 1; size <= maxCombo; size++ {
		idx := make([]int, size)
		for i := range idx {
			idx[i] = i
		}
		for {
			var sum int64
			for _, i := range idx {
				sum += candidates[i].Amount
			}
			if sum == total {
				combo := make([]domain.Transaction, size)
				for i, j := range idx {
					combo[i] = candidates[j]
				}
				return combo
			}
			if !nextCombination(idx, n) {
				break
			}
		}
	}
	return nil
}

// nextCombination advances idx to the next k-combination of [0, n) in
// lexicographic order, returning false when exhausted.
func nextCombination(idx []int, n int) bool {
	k := len(idx)
	for i := k - 1; i >= 0; i-- {
		if idx[i] < n-k+i {
			idx[i]++
			for j := i + 1; j < k; j++ {
				idx[j] = idx[j-1] + 1
			}
			return true
		}
	}
	return false
}
