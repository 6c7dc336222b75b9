package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiomate/studiod/internal/domain"
	"github.com/studiomate/studiod/internal/infra/sqlite"
)

// ─── Fakes ──────────────────────────────────────────────────────────────────

type fakeSource struct {
	snaps []domain.BookingSnapshot
	err   error
}

func (f *fakeSource) Snapshot(_ context.Context) ([]domain.BookingSnapshot, error) {
	return f.snaps, f.err
}

type fakeFeed struct {
	records []domain.BankRecord
	err     error
}

func (f *fakeFeed) Fetch(_ context.Context, _ time.Time) ([]domain.BankRecord, error) {
	return f.records, f.err
}

type fakeActuator struct {
	confirmed   []string
	canceled    map[string]domain.ReasonCode
	failConfirm bool
}

func (f *fakeActuator) Confirm(_ context.Context, ref string) error {
	if f.failConfirm {
		return errors.New("booking source rejected the click")
	}
	f.confirmed = append(f.confirmed, ref)
	return nil
}

func (f *fakeActuator) Cancel(_ context.Context, ref string, reason domain.ReasonCode) error {
	f.canceled[ref] = reason
	return nil
}

type fakeNotifier struct {
	guides        []string
	confirmations []string
	cancels       map[string]domain.ReasonCode
	insufficient  []string
	failGuide     bool
}

func (f *fakeNotifier) SendAccountGuide(_ context.Context, r domain.Reservation) error {
	if f.failGuide {
		return errors.New("gateway timeout")
	}
	f.guides = append(f.guides, r.Ref)
	return nil
}

func (f *fakeNotifier) SendConfirmation(_ context.Context, r domain.Reservation) error {
	f.confirmations = append(f.confirmations, r.Ref)
	return nil
}

func (f *fakeNotifier) SendCancellation(_ context.Context, r domain.Reservation, reason domain.ReasonCode) error {
	f.cancels[r.Ref] = reason
	return nil
}

func (f *fakeNotifier) SendInsufficientBalance(_ context.Context, r domain.Reservation, _ *domain.CouponWallet) error {
	f.insufficient = append(f.insufficient, r.Ref)
	return nil
}

type harness struct {
	engine   *Engine
	db       *sqlite.DB
	source   *fakeSource
	feed     *fakeFeed
	actuator *fakeActuator
	notifier *fakeNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := sqlite.Open(filepath.Join(t.TempDir(), "studiod.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := DefaultConfig()
	cfg.Categories = domain.RoomCategories{"Grand 1": domain.CategoryImported}
	h := &harness{
		db:       db,
		source:   &fakeSource{},
		feed:     &fakeFeed{},
		actuator: &fakeActuator{canceled: make(map[string]domain.ReasonCode)},
		notifier: &fakeNotifier{cancels: make(map[string]domain.ReasonCode)},
	}
	h.engine = New(cfg, db, h.source, h.feed, h.actuator, h.notifier)
	return h
}

func (h *harness) run(t *testing.T) CycleReport {
	t.Helper()
	report, err := h.engine.RunCycle(context.Background())
	require.NoError(t, err)
	return report
}

func snapRow(ref, name, phone, room, start, end string, price int64) domain.BookingSnapshot {
	return domain.BookingSnapshot{
		Ref:          ref,
		CustomerName: name,
		Phone:        phone,
		Room:         room,
		Date:         "2025-03-10",
		StartTime:    start,
		EndTime:      end,
		Price:        price,
		Status:       "applied",
	}
}

func bankRow(ref string, amount int64, depositor string, bookedAt time.Time) domain.BankRecord {
	return domain.BankRecord{
		Ref:       ref,
		BookedAt:  bookedAt,
		Type:      domain.TxDeposit,
		Amount:    amount,
		Depositor: depositor,
	}
}

func (h *harness) chargeWallet(t *testing.T, minutes int) {
	t.Helper()
	_, err := h.db.RegisterOrCharge("Kim Minji", "010-1111-2222", domain.CategoryImported,
		10, minutes, time.Now(), time.Now().AddDate(1, 0, 0))
	require.NoError(t, err)
}

// ─── Cash Lifecycle ─────────────────────────────────────────────────────────

func TestCycleCashLifecycle(t *testing.T) {
	h := newHarness(t)
	h.source.snaps = []domain.BookingSnapshot{
		snapRow("R-1", "Kim Minji", "010-1111-2222", "Grand 2", "14:00", "15:00", 20000),
	}

	report := h.run(t)
	assert.Equal(t, 1, report.NewBookings)
	assert.Equal(t, 1, report.GuidesSent)
	assert.Equal(t, []string{"R-1"}, h.notifier.guides)

	stored, err := h.db.GetReservation("R-1")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.AccountGuideSent)
	assert.Equal(t, domain.StatusApplied, stored.Status)

	// The customer transfers the exact amount.
	h.feed.records = []domain.BankRecord{bankRow("TX-1", 20000, "KIM MINJI", time.Now())}
	created, err := h.engine.SyncBankFeed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, created)

	report = h.run(t)
	assert.Equal(t, 1, report.PaymentConfirmed)
	assert.Equal(t, []string{"R-1"}, h.actuator.confirmed)
	assert.Equal(t, []string{"R-1"}, h.notifier.confirmations)

	stored, err = h.db.GetReservation("R-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusConfirmed, stored.Status)

	tx, err := h.db.GetTransaction("TX-1")
	require.NoError(t, err)
	assert.Equal(t, domain.MatchMatched, tx.MatchStatus)
	assert.Equal(t, []string{"R-1"}, tx.MatchedRefs)

	// A third cycle over settled state changes nothing.
	report = h.run(t)
	assert.Zero(t, report.NewBookings)
	assert.Zero(t, report.PaymentConfirmed)
	assert.Zero(t, report.GuidesSent)
	assert.Len(t, h.actuator.confirmed, 1)
	assert.Len(t, h.notifier.confirmations, 1)
}

func TestCycleSplitPayment(t *testing.T) {
	h := newHarness(t)
	h.source.snaps = []domain.BookingSnapshot{
		snapRow("R-1", "Kim Minji", "010-1111-2222", "Grand 2", "14:00", "15:00", 20000),
	}
	h.run(t)

	now := time.Now()
	h.feed.records = []domain.BankRecord{
		bankRow("TX-1", 15000, "Kim Minji", now),
		bankRow("TX-2", 5000, "Kim Minji", now.Add(time.Minute)),
	}
	_, err := h.engine.SyncBankFeed(context.Background())
	require.NoError(t, err)

	report := h.run(t)
	assert.Equal(t, 1, report.PaymentConfirmed)
	for _, ref := range []string{"TX-1", "TX-2"} {
		tx, err := h.db.GetTransaction(ref)
		require.NoError(t, err)
		assert.Equal(t, domain.MatchMatched, tx.MatchStatus, ref)
		assert.Equal(t, []string{"R-1"}, tx.MatchedRefs, ref)
	}
}

func TestCycleGuideRetryAfterNotifierFailure(t *testing.T) {
	h := newHarness(t)
	h.source.snaps = []domain.BookingSnapshot{
		snapRow("R-1", "Kim Minji", "010-1111-2222", "Grand 2", "14:00", "15:00", 20000),
	}

	h.notifier.failGuide = true
	report := h.run(t)
	assert.Zero(t, report.GuidesSent)
	stored, _ := h.db.GetReservation("R-1")
	assert.False(t, stored.AccountGuideSent, "failed send must not mark the flag")

	h.notifier.failGuide = false
	report = h.run(t)
	assert.Equal(t, 1, report.GuidesSent)
}

// ─── Arbitration ────────────────────────────────────────────────────────────

func TestCycleArbitration(t *testing.T) {
	h := newHarness(t)
	h.source.snaps = []domain.BookingSnapshot{
		snapRow("A", "Kim Minji", "010-1111-2222", "Grand 2", "10:00", "11:00", 20000),
		snapRow("B", "Lee Jiwoo", "010-3333-4444", "Grand 2", "10:30", "11:30", 20000),
	}
	h.run(t)

	now := time.Now()
	h.feed.records = []domain.BankRecord{
		bankRow("TX-A", 20000, "Kim Minji", now.Add(time.Hour)), // second payer
		bankRow("TX-B", 20000, "Lee Jiwoo", now),                // first payer
	}
	_, err := h.engine.SyncBankFeed(context.Background())
	require.NoError(t, err)

	report := h.run(t)
	assert.Equal(t, 1, report.Clusters)
	assert.Equal(t, 1, report.PaymentConfirmed)
	assert.Equal(t, 1, report.Canceled)

	winner, _ := h.db.GetReservation("B")
	assert.Equal(t, domain.StatusConfirmed, winner.Status)
	loser, _ := h.db.GetReservation("A")
	assert.Equal(t, domain.StatusCanceled, loser.Status)
	assert.Equal(t, domain.ReasonLostToEarlierPayer, h.actuator.canceled["A"])
	assert.Equal(t, domain.ReasonLostToEarlierPayer, h.notifier.cancels["A"])

	winTx, _ := h.db.GetTransaction("TX-B")
	assert.Equal(t, domain.MatchMatched, winTx.MatchStatus)
	loseTx, _ := h.db.GetTransaction("TX-A")
	assert.Equal(t, domain.MatchCanceled, loseTx.MatchStatus,
		"the loser's transfer is parked for a manual refund")
}

func TestCycleUnpaidClusterWaits(t *testing.T) {
	h := newHarness(t)
	h.source.snaps = []domain.BookingSnapshot{
		snapRow("A", "Kim Minji", "010-1111-2222", "Grand 2", "10:00", "11:00", 20000),
		snapRow("B", "Lee Jiwoo", "010-3333-4444", "Grand 2", "10:30", "11:30", 20000),
	}
	h.run(t)
	report := h.run(t)

	assert.Zero(t, report.Clusters)
	assert.Zero(t, report.Canceled)
	for _, ref := range []string{"A", "B"} {
		r, _ := h.db.GetReservation(ref)
		assert.Equal(t, domain.StatusApplied, r.Status, ref)
	}
}

// ─── Coupons ────────────────────────────────────────────────────────────────

func TestCycleCouponLifecycle(t *testing.T) {
	h := newHarness(t)
	h.chargeWallet(t, 120)

	row := snapRow("R-C", "Kim Minji", "010-1111-2222", "Grand 1", "14:00", "15:00", 0)
	row.IsCoupon = true
	h.source.snaps = []domain.BookingSnapshot{row}

	report := h.run(t)
	assert.Equal(t, 1, report.CouponConfirmed)
	assert.Equal(t, []string{"R-C"}, h.actuator.confirmed)

	stored, _ := h.db.GetReservation("R-C")
	assert.Equal(t, domain.StatusConfirmed, stored.Status)
	w, err := h.db.GetWallet("010-1111-2222", domain.CategoryImported)
	require.NoError(t, err)
	assert.Equal(t, 60, w.Remaining)

	// The customer cancels on the booking site; the echo triggers a refund.
	h.source.snaps[0].Status = "canceled"
	report = h.run(t)
	assert.Equal(t, 1, report.StatusEchoes)
	assert.Equal(t, 1, report.Refunds)
	w, _ = h.db.GetWallet("010-1111-2222", domain.CategoryImported)
	assert.Equal(t, 120, w.Remaining)

	// The canceled row keeps appearing in snapshots; no double refund.
	report = h.run(t)
	assert.Zero(t, report.Refunds)
	w, _ = h.db.GetWallet("010-1111-2222", domain.CategoryImported)
	assert.Equal(t, 120, w.Remaining)
}

func TestCycleCouponExtraPeopleSurcharge(t *testing.T) {
	h := newHarness(t)
	h.chargeWallet(t, 200)

	row := snapRow("R-C", "Kim Minji", "010-1111-2222", "Grand 1", "14:00", "15:30", 0)
	row.IsCoupon = true
	row.ExtraPeople = 1
	h.source.snaps = []domain.BookingSnapshot{row}

	h.run(t)
	w, err := h.db.GetWallet("010-1111-2222", domain.CategoryImported)
	require.NoError(t, err)
	assert.Equal(t, 200-135, w.Remaining, "90m slot plus one extra person charges 135m")
}

func TestCycleCouponInsufficientBalance(t *testing.T) {
	h := newHarness(t)
	h.chargeWallet(t, 30)

	row := snapRow("R-C", "Kim Minji", "010-1111-2222", "Grand 1", "14:00", "15:00", 0)
	row.IsCoupon = true
	h.source.snaps = []domain.BookingSnapshot{row}

	report := h.run(t)
	assert.Zero(t, report.CouponConfirmed)
	assert.Equal(t, 1, report.Canceled)
	assert.Equal(t, domain.ReasonInsufficientBalance, h.actuator.canceled["R-C"])
	assert.Equal(t, []string{"R-C"}, h.notifier.insufficient)

	stored, _ := h.db.GetReservation("R-C")
	assert.Equal(t, domain.StatusCanceled, stored.Status)
	w, _ := h.db.GetWallet("010-1111-2222", domain.CategoryImported)
	assert.Equal(t, 30, w.Remaining, "a failed booking never debits")
}

func TestCycleCouponWithoutWallet(t *testing.T) {
	h := newHarness(t)
	row := snapRow("R-C", "Kim Minji", "010-1111-2222", "Grand 1", "14:00", "15:00", 0)
	row.IsCoupon = true
	h.source.snaps = []domain.BookingSnapshot{row}

	report := h.run(t)
	assert.Equal(t, 1, report.Canceled)
	assert.Equal(t, domain.ReasonNoWallet, h.actuator.canceled["R-C"])
	assert.Equal(t, []string{"R-C"}, h.notifier.insufficient)
}

func TestCycleCouponCategoryMismatch(t *testing.T) {
	h := newHarness(t)
	h.chargeWallet(t, 600) // IMPORTED wallet

	// Grand 2 is not mapped, so it resolves to DOMESTIC.
	row := snapRow("R-C", "Kim Minji", "010-1111-2222", "Grand 2", "14:00", "15:00", 0)
	row.IsCoupon = true
	h.source.snaps = []domain.BookingSnapshot{row}

	report := h.run(t)
	assert.Equal(t, 1, report.Canceled)
	assert.Equal(t, domain.ReasonCategoryMismatch, h.actuator.canceled["R-C"])
	assert.Equal(t, domain.ReasonCategoryMismatch, h.notifier.cancels["R-C"])
	w, _ := h.db.GetWallet("010-1111-2222", domain.CategoryImported)
	assert.Equal(t, 600, w.Remaining)
}

func TestCycleCouponRetriesAfterActuationFailure(t *testing.T) {
	h := newHarness(t)
	h.chargeWallet(t, 120)

	row := snapRow("R-C", "Kim Minji", "010-1111-2222", "Grand 1", "14:00", "15:00", 0)
	row.IsCoupon = true
	h.source.snaps = []domain.BookingSnapshot{row}

	h.actuator.failConfirm = true
	report := h.run(t)
	assert.Zero(t, report.CouponConfirmed)
	w, _ := h.db.GetWallet("010-1111-2222", domain.CategoryImported)
	assert.Equal(t, 120, w.Remaining, "no debit without a confirmed actuation")
	stored, _ := h.db.GetReservation("R-C")
	assert.Equal(t, domain.StatusApplied, stored.Status)

	h.actuator.failConfirm = false
	report = h.run(t)
	assert.Equal(t, 1, report.CouponConfirmed)
	w, _ = h.db.GetWallet("010-1111-2222", domain.CategoryImported)
	assert.Equal(t, 60, w.Remaining)
}

// ─── Status Echoes and Conflicts ────────────────────────────────────────────

func TestCycleSlotTakenCancelsLateApplicant(t *testing.T) {
	h := newHarness(t)
	sold := snapRow("C-1", "Lee Jiwoo", "010-3333-4444", "Grand 2", "10:00", "11:00", 20000)
	sold.Status = "confirmed"
	late := snapRow("A-1", "Kim Minji", "010-1111-2222", "Grand 2", "10:30", "11:30", 20000)
	h.source.snaps = []domain.BookingSnapshot{sold, late}

	report := h.run(t)
	assert.Equal(t, 2, report.NewBookings)
	assert.Equal(t, 1, report.Canceled)
	assert.Equal(t, domain.ReasonSlotTaken, h.actuator.canceled["A-1"])
	assert.Equal(t, domain.ReasonSlotTaken, h.notifier.cancels["A-1"])

	confirmed, _ := h.db.GetReservation("C-1")
	assert.Equal(t, domain.StatusConfirmed, confirmed.Status)
}

func TestCycleStaleEchoRejected(t *testing.T) {
	h := newHarness(t)
	row := snapRow("R-1", "Kim Minji", "010-1111-2222", "Grand 2", "14:00", "15:00", 20000)
	row.Status = "confirmed"
	h.source.snaps = []domain.BookingSnapshot{row}
	h.run(t)

	// A stale re-scrape shows the booking back in the applied list.
	h.source.snaps[0].Status = "applied"
	report := h.run(t)
	assert.Equal(t, 1, report.StaleEchoes)

	stored, _ := h.db.GetReservation("R-1")
	assert.Equal(t, domain.StatusConfirmed, stored.Status, "terminal states never regress")
}

func TestCycleSnapshotFailureAborts(t *testing.T) {
	h := newHarness(t)
	h.source.err = errors.New("scrape timed out")

	_, err := h.engine.RunCycle(context.Background())
	require.ErrorIs(t, err, domain.ErrFeedUnavailable)

	rows, err := h.db.ListRecentReservations(10)
	require.NoError(t, err)
	assert.Empty(t, rows, "an aborted cycle writes nothing")
}

// ─── Bank Sync ──────────────────────────────────────────────────────────────

func TestSyncBankFeedDedup(t *testing.T) {
	h := newHarness(t)
	h.feed.records = []domain.BankRecord{
		bankRow("TX-1", 20000, "Kim Minji", time.Now()),
		bankRow("TX-2", 5000, "Lee Jiwoo", time.Now()),
	}

	created, err := h.engine.SyncBankFeed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, created)

	created, err = h.engine.SyncBankFeed(context.Background())
	require.NoError(t, err)
	assert.Zero(t, created, "re-fetched statement rows are deduplicated")
}

func TestSyncBankFeedUnavailable(t *testing.T) {
	h := newHarness(t)
	h.feed.err = errors.New("bank API 503")

	_, err := h.engine.SyncBankFeed(context.Background())
	require.ErrorIs(t, err, domain.ErrFeedUnavailable)
}
