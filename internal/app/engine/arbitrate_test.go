package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiomate/studiod/internal/domain"
)

func claimant(ref, name, phone string, startMin, endMin int) domain.Reservation {
	r := slot(ref, "Grand 1", startMin, endMin)
	r.CustomerName = name
	r.Phone = phone
	r.CreatedAt = time.Date(2025, 3, 9, 9, 0, 0, 0, time.UTC)
	return r
}

func TestResolveClusterFirstPayerWins(t *testing.T) {
	a := claimant("A", "Kim Minji", "010-1111-2222", 0, 60)
	b := claimant("B", "Lee Jiwoo", "010-3333-4444", 30, 90)
	c := claimant("C", "Park Seojun", "010-5555-6666", 80, 100)
	cluster := Cluster{Room: "Grand 1", Day: a.Day(), Members: []domain.Reservation{a, b, c}}

	paid := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	deposits := []domain.Transaction{
		deposit("TX-A", 20000, "Kim Minji", paid.Add(time.Hour)), // A paid, but later
		deposit("TX-B", 20000, "Lee Jiwoo", paid),
	}

	v := ResolveCluster(cluster, deposits)
	require.NotNil(t, v)
	assert.Equal(t, "B", v.Winner.Ref)
	assert.Equal(t, "TX-B", v.WinnerDeposit.Ref)

	require.Len(t, v.Losers, 2)
	assert.Equal(t, "A", v.Losers[0].Reservation.Ref)
	require.NotNil(t, v.Losers[0].Deposit, "paid loser keeps its deposit for refund parking")
	assert.Equal(t, "TX-A", v.Losers[0].Deposit.Ref)
	assert.Equal(t, "C", v.Losers[1].Reservation.Ref)
	assert.Nil(t, v.Losers[1].Deposit)
}

func TestResolveClusterNobodyPaid(t *testing.T) {
	a := claimant("A", "Kim Minji", "010-1111-2222", 0, 60)
	b := claimant("B", "Lee Jiwoo", "010-3333-4444", 30, 90)
	cluster := Cluster{Room: "Grand 1", Day: a.Day(), Members: []domain.Reservation{a, b}}

	assert.Nil(t, ResolveCluster(cluster, nil),
		"an unpaid cluster waits untouched for the next cycle")
}

func TestResolveClusterIgnoresNonBidders(t *testing.T) {
	a := claimant("A", "Kim Minji", "010-1111-2222", 0, 60)
	b := claimant("B", "Lee Jiwoo", "010-3333-4444", 30, 90)
	b.IsCoupon = true
	confirmed := claimant("C", "Park Seojun", "010-5555-6666", 40, 80)
	confirmed.Status = domain.StatusConfirmed
	cluster := Cluster{Room: "Grand 1", Day: a.Day(), Members: []domain.Reservation{a, b, confirmed}}

	paid := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	deposits := []domain.Transaction{deposit("TX-A", 20000, "Kim Minji", paid)}

	// Only A is an eligible bidder, so there is no contest to arbitrate.
	assert.Nil(t, ResolveCluster(cluster, deposits))
}

func TestResolveClusterPaymentTimeTie(t *testing.T) {
	a := claimant("A", "Kim Minji", "010-1111-2222", 0, 60)
	b := claimant("B", "Lee Jiwoo", "010-3333-4444", 30, 90)
	b.CreatedAt = a.CreatedAt.Add(-time.Hour) // B booked first
	cluster := Cluster{Room: "Grand 1", Day: a.Day(), Members: []domain.Reservation{a, b}}

	paid := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	deposits := []domain.Transaction{
		deposit("TX-A", 20000, "Kim Minji", paid),
		deposit("TX-B", 20000, "Lee Jiwoo", paid),
	}

	v := ResolveCluster(cluster, deposits)
	require.NotNil(t, v)
	assert.Equal(t, "B", v.Winner.Ref, "payment ties break by reservation creation time")
}

func TestResolveClusterOneDepositBacksOneClaim(t *testing.T) {
	// Two claimants with the same name and price; a single transfer must
	// not count as payment for both.
	a := claimant("A", "Kim Minji", "010-1111-2222", 0, 60)
	b := claimant("B", "Kim Minji", "010-7777-8888", 30, 90)
	cluster := Cluster{Room: "Grand 1", Day: a.Day(), Members: []domain.Reservation{a, b}}

	paid := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	deposits := []domain.Transaction{deposit("TX-1", 20000, "Kim Minji", paid)}

	v := ResolveCluster(cluster, deposits)
	require.NotNil(t, v)
	assert.Equal(t, "A", v.Winner.Ref)
	require.Len(t, v.Losers, 1)
	assert.Nil(t, v.Losers[0].Deposit, "the deposit already backs the winner's claim")
}
