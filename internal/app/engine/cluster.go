// Package engine implements the reservation–payment reconciliation core:
// conflict clustering, deposit matching, first-payment-wins arbitration,
// coupon debit/refund, and the per-tick cycle that drives them.
//
// Decision logic is pure — functions over reservations and transactions
// that return outcome values. Effects (actuator, notifier, store writes)
// are applied by the cycle afterwards, so every decision is testable
// without a browser, a bank, or an SMS gateway.
package engine

import (
	"sort"

	"github.com/studiomate/studiod/internal/domain"
)

// ─── Conflict Clustering ────────────────────────────────────────────────────

// Cluster is a maximal set of pending reservations in one room and service
// day whose time windows chain together. Overlap is transitive: A(0–60),
// B(30–90), C(80–100) form one cluster even though A and C never touch.
type Cluster struct {
	Room    string
	Day     string
	Members []domain.Reservation
}

// Refs returns the booking refs of all members.
func (c Cluster) Refs() []string {
	refs := make([]string, len(c.Members))
	for i, m := range c.Members {
		refs[i] = m.Ref
	}
	return refs
}

// ClusterConflicts sweeps the pending reservations per room and day and
// emits every group of two or more with chained overlapping windows.
// Back-to-back slots never cluster: the overlap test is strictly
// start < clusterEnd.
func ClusterConflicts(pending []domain.Reservation) []Cluster {
	type key struct{ room, day string }
	byRoomDay := make(map[key][]domain.Reservation)
	for _, r := range pending {
		k := key{r.Room, r.Day()}
		byRoomDay[k] = append(byRoomDay[k], r)
	}

	keys := make([]key, 0, len(byRoomDay))
	for k := range byRoomDay {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].room != keys[j].room {
			return keys[i].room < keys[j].room
		}
		return keys[i].day < keys[j].day
	})

	var clusters []Cluster
	for _, k := range keys {
		members := byRoomDay[k]
		sort.Slice(members, func(i, j int) bool {
			if !members[i].StartsAt.Equal(members[j].StartsAt) {
				return members[i].StartsAt.Before(members[j].StartsAt)
			}
			return members[i].Ref < members[j].Ref
		})

		var current []domain.Reservation
		clusterEnd := members[0].EndsAt
		flush := func() {
			if len(current) >= 2 {
				clusters = append(clusters, Cluster{Room: k.room, Day: k.day, Members: current})
			}
		}
		for _, r := range members {
			if len(current) > 0 && r.StartsAt.Before(clusterEnd) {
				current = append(current, r)
				if r.EndsAt.After(clusterEnd) {
					clusterEnd = r.EndsAt
				}
				continue
			}
			flush()
			current = []domain.Reservation{r}
			clusterEnd = r.EndsAt
		}
		flush()
	}
	return clusters
}
