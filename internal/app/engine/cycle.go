package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/studiomate/studiod/internal/domain"
	"github.com/studiomate/studiod/internal/infra/sqlite"
)

// Config controls the engine's matching bounds and wallet scoping.
// It is passed in at construction time; there is no global state.
type Config struct {
	MaxCombo           int                   // deposits per split match
	MaxSplitCandidates int                   // candidate pool cap for the split search
	BankLookback       time.Duration         // statement window per bank sync
	Categories         domain.RoomCategories // room name → wallet category
}

// DefaultConfig returns the production defaults. The combination bound of
// five mirrors how customers actually split transfers; anything beyond
// that is operator territory.
func DefaultConfig() Config {
	return Config{
		MaxCombo:           5,
		MaxSplitCandidates: 12,
		BankLookback:       24 * time.Hour,
	}
}

// Engine reconciles booking snapshots and bank deposits into confirmed or
// canceled reservations. It is the single writer of all store tables; one
// scheduler instance drives it at a time, and every effect is idempotent
// so re-running an unchanged cycle is a no-op.
type Engine struct {
	cfg      Config
	db       *sqlite.DB
	source   domain.BookingSource
	feed     domain.BankFeed
	actuator domain.Actuator
	notifier domain.Notifier
	now      func() time.Time

	mu   sync.Mutex
	last CycleReport
}

// New creates an engine over the given store and collaborators.
func New(cfg Config, db *sqlite.DB, source domain.BookingSource, feed domain.BankFeed,
	actuator domain.Actuator, notifier domain.Notifier) *Engine {
	if cfg.MaxCombo <= 0 {
		cfg.MaxCombo = DefaultConfig().MaxCombo
	}
	if cfg.MaxSplitCandidates <= 0 {
		cfg.MaxSplitCandidates = DefaultConfig().MaxSplitCandidates
	}
	if cfg.BankLookback <= 0 {
		cfg.BankLookback = DefaultConfig().BankLookback
	}
	return &Engine{
		cfg:      cfg,
		db:       db,
		source:   source,
		feed:     feed,
		actuator: actuator,
		notifier: notifier,
		now:      time.Now,
	}
}

// CycleReport summarizes one reconciliation pass.
type CycleReport struct {
	CycleID          string        `json:"cycle_id"`
	StartedAt        time.Time     `json:"started_at"`
	Duration         time.Duration `json:"duration"`
	NewBookings      int           `json:"new_bookings"`
	StatusEchoes     int           `json:"status_echoes"`
	StaleEchoes      int           `json:"stale_echoes"`
	GuidesSent       int           `json:"guides_sent"`
	CouponConfirmed  int           `json:"coupon_confirmed"`
	PaymentConfirmed int           `json:"payment_confirmed"`
	Canceled         int           `json:"canceled"`
	Clusters         int           `json:"clusters"`
	Refunds          int           `json:"refunds"`
}

// LastReport returns the most recent cycle's summary.
func (e *Engine) LastReport() CycleReport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.last
}

// RunCycle executes one full reconciliation pass:
//
//	snapshot ingest → per-reservation setup → clustering → payment
//	matching → arbitration
//
// A failed snapshot fetch aborts the cycle with nothing written; failures
// local to one reservation are logged and retried on the next tick.
func (e *Engine) RunCycle(ctx context.Context) (CycleReport, error) {
	report := CycleReport{CycleID: uuid.NewString()[:8], StartedAt: e.now()}
	cyclesTotal.Inc()
	defer func() {
		report.Duration = e.now().Sub(report.StartedAt)
		cycleDuration.Observe(report.Duration.Seconds())
		e.mu.Lock()
		e.last = report
		e.mu.Unlock()
	}()

	snaps, err := e.source.Snapshot(ctx)
	if err != nil {
		cycleFailures.Inc()
		return report, fmt.Errorf("%w: booking snapshot: %v", domain.ErrFeedUnavailable, err)
	}
	log.Printf("[engine] cycle %s: %d bookings in snapshot", report.CycleID, len(snaps))

	e.ingestSnapshots(ctx, snaps, &report)
	e.prepareApplied(ctx, &report)

	applied, err := e.db.ListByStatus(domain.StatusApplied)
	if err != nil {
		return report, fmt.Errorf("list applied: %w", err)
	}
	clusters := ClusterConflicts(cashOnly(applied))
	skip := make(map[string]bool)
	for _, c := range clusters {
		for _, ref := range c.Refs() {
			skip[ref] = true
		}
	}

	e.settleClaims(ctx, applied, skip, &report)
	e.arbitrateClusters(ctx, clusters, &report)

	log.Printf("[engine] cycle %s done: new=%d confirmed=%d canceled=%d clusters=%d",
		report.CycleID, report.NewBookings,
		report.CouponConfirmed+report.PaymentConfirmed, report.Canceled, len(clusters))
	return report, nil
}

// SyncBankFeed pulls the statement window and persists new rows,
// deduplicating on the external transaction id. Runs on its own slower
// timer.
func (e *Engine) SyncBankFeed(ctx context.Context) (int, error) {
	since := e.now().Add(-e.cfg.BankLookback)
	records, err := e.feed.Fetch(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("%w: bank feed: %v", domain.ErrFeedUnavailable, err)
	}
	created := 0
	for _, rec := range records {
		if rec.Ref == "" {
			log.Printf("[engine] bank row without ref skipped (depositor %q)", rec.Depositor)
			continue
		}
		ok, err := e.db.InsertBankRecord(rec)
		if err != nil {
			return created, err
		}
		if ok {
			created++
			depositsIngested.Inc()
		}
	}
	if created > 0 {
		log.Printf("[engine] bank sync: %d new statement rows", created)
	}
	return created, nil
}

// ─── Snapshot Ingestion ─────────────────────────────────────────────────────

func (e *Engine) ingestSnapshots(ctx context.Context, snaps []domain.BookingSnapshot, report *CycleReport) {
	for _, snap := range snaps {
		r, err := snap.Reservation()
		if err != nil {
			log.Printf("[engine] skipping snapshot row: %v", err)
			continue
		}
		existing, err := e.db.GetReservation(r.Ref)
		if err != nil {
			log.Printf("[engine] lookup %s: %v", r.Ref, err)
			continue
		}
		if existing == nil {
			echo := r.Status
			r.Status = domain.StatusApplied
			if _, err := e.db.InsertReservation(r); err != nil {
				if !errors.Is(err, domain.ErrDuplicate) {
					log.Printf("[engine] insert %s: %v", r.Ref, err)
				}
				continue
			}
			report.NewBookings++
			bookingsIngested.Inc()
			// First observation may already carry a terminal status
			// (operator acted before we ever saw the booking).
			if echo != domain.StatusApplied {
				if err := e.db.TransitionReservation(r.Ref, echo); err == nil {
					report.StatusEchoes++
				}
			}
			continue
		}
		e.applyStatusEcho(*existing, r.Status, report)
	}
}

// applyStatusEcho folds the booking source's displayed status into ours.
// Forward transitions are applied; an APPLIED echo against a terminal
// state is a stale re-scrape and is rejected loudly.
func (e *Engine) applyStatusEcho(stored domain.Reservation, echo domain.ReservationStatus, report *CycleReport) {
	if echo == stored.Status {
		return
	}
	if !domain.CanTransition(stored.Status, echo) {
		report.StaleEchoes++
		staleEchoes.Inc()
		log.Printf("[engine] rejected stale echo for %s: %s does not go to %s", stored.Ref, stored.Status, echo)
		return
	}
	if err := e.db.TransitionReservation(stored.Ref, echo); err != nil {
		log.Printf("[engine] echo transition %s: %v", stored.Ref, err)
		return
	}
	report.StatusEchoes++
	log.Printf("[engine] status echo %s: %s to %s", stored.Ref, stored.Status, echo)
	if echo == domain.StatusCanceled && stored.IsCoupon {
		if e.refundCanceledCoupon(stored) {
			report.Refunds++
		}
	}
}

// ─── Per-Reservation Setup ──────────────────────────────────────────────────

// prepareApplied walks every APPLIED reservation each cycle: cancel slots
// already sold to a confirmed booking, confirm-and-debit coupon bookings,
// and send the payment guide to cash bookings that have not had one.
// Everything here is re-entrant; flags and state gate the side effects.
func (e *Engine) prepareApplied(ctx context.Context, report *CycleReport) {
	applied, err := e.db.ListByStatus(domain.StatusApplied)
	if err != nil {
		log.Printf("[engine] list applied: %v", err)
		return
	}
	for _, r := range applied {
		switch {
		case e.conflictsWithConfirmed(r):
			if e.cancelUnit(ctx, r, domain.ReasonSlotTaken, "") {
				report.Canceled++
			}

		case r.IsCoupon:
			wallet, err := e.checkCouponBalance(r)
			if err == nil {
				if err := e.confirmCouponReservation(ctx, r, wallet); err != nil {
					if errors.Is(err, domain.ErrActuationFailed) {
						actuationFailures.Inc()
					}
					log.Printf("[engine] coupon confirm %s: %v", r.Ref, err)
					continue
				}
				report.CouponConfirmed++
				continue
			}
			reason, deterministic := domain.CancellationReason(err)
			if !deterministic {
				log.Printf("[engine] coupon check %s: %v", r.Ref, err)
				continue
			}
			if e.cancelCouponUnit(ctx, r, reason, wallet) {
				report.Canceled++
			}

		case !r.AccountGuideSent:
			if err := e.notifier.SendAccountGuide(ctx, r); err != nil {
				log.Printf("[engine] account guide for %s: %v", r.Ref, err)
				continue
			}
			if err := e.db.MarkAccountGuideSent(r.Ref); err != nil {
				log.Printf("[engine] mark guide sent %s: %v", r.Ref, err)
				continue
			}
			report.GuidesSent++
		}
	}
}

// conflictsWithConfirmed reports whether the slot is already sold: some
// CONFIRMED reservation in the same room and day overlaps this one.
func (e *Engine) conflictsWithConfirmed(r domain.Reservation) bool {
	active, err := e.db.ListActiveInRoomDay(r.Room, r.Day())
	if err != nil {
		log.Printf("[engine] conflict lookup %s: %v", r.Ref, err)
		return false
	}
	for _, other := range active {
		if other.Ref != r.Ref && other.Status == domain.StatusConfirmed && other.Overlaps(r) {
			return true
		}
	}
	return false
}

// ─── Payment Matching ───────────────────────────────────────────────────────

func (e *Engine) settleClaims(ctx context.Context, applied []domain.Reservation, skip map[string]bool, report *CycleReport) {
	claims := BuildClaims(applied, skip)
	if len(claims) == 0 {
		return
	}
	deposits, err := e.db.ListUnmatchedDeposits()
	if err != nil {
		log.Printf("[engine] list deposits: %v", err)
		return
	}
	for _, claim := range claims {
		m := MatchDeposits(claim, deposits, e.cfg.MaxCombo, e.cfg.MaxSplitCandidates)
		if m == nil {
			continue // waiting for the transfer; deliberately quiet
		}

		confirmed := true
		for _, r := range claim.Reservations {
			if err := e.actuator.Confirm(ctx, r.Ref); err != nil {
				actuationFailures.Inc()
				log.Printf("[engine] confirm %s: %v", r.Ref, err)
				confirmed = false
				break
			}
		}
		if !confirmed {
			continue
		}

		resRefs := make([]string, len(claim.Reservations))
		for i, r := range claim.Reservations {
			resRefs[i] = r.Ref
		}
		txRefs := make([]string, len(m.Deposits))
		for i, tx := range m.Deposits {
			txRefs[i] = tx.Ref
		}
		if err := e.db.ConfirmMatch(resRefs, txRefs); err != nil {
			log.Printf("[engine] commit match for %s: %v", claim.Phone, err)
			continue
		}
		paymentsMatched.WithLabelValues(string(m.Kind)).Inc()
		report.PaymentConfirmed += len(resRefs)
		log.Printf("[engine] matched %s: %d reservation(s) against %d deposit(s) (%s)",
			claim.CustomerName, len(resRefs), len(txRefs), m.Kind)

		for _, r := range claim.Reservations {
			if err := e.notifier.SendConfirmation(ctx, r); err != nil {
				log.Printf("[engine] confirmation message for %s failed: %v", r.Ref, err)
			}
		}
		deposits = withoutRefs(deposits, txRefs)
	}
}

// ─── Arbitration ────────────────────────────────────────────────────────────

func (e *Engine) arbitrateClusters(ctx context.Context, clusters []Cluster, report *CycleReport) {
	if len(clusters) == 0 {
		return
	}
	deposits, err := e.db.ListUnmatchedDeposits()
	if err != nil {
		log.Printf("[engine] list deposits: %v", err)
		return
	}
	for _, cluster := range clusters {
		verdict := ResolveCluster(cluster, deposits)
		if verdict == nil {
			continue // nobody has paid yet; wait for more deposits
		}
		report.Clusters++
		log.Printf("[engine] cluster %s %s: %s wins by earliest payment",
			cluster.Room, cluster.Day, verdict.Winner.Ref)

		if err := e.actuator.Confirm(ctx, verdict.Winner.Ref); err != nil {
			// Leave the whole cluster for the next tick rather than
			// cancel losers against an unconfirmed winner.
			actuationFailures.Inc()
			log.Printf("[engine] confirm winner %s: %v", verdict.Winner.Ref, err)
			continue
		}
		if err := e.db.ConfirmMatch([]string{verdict.Winner.Ref}, []string{verdict.WinnerDeposit.Ref}); err != nil {
			log.Printf("[engine] commit winner %s: %v", verdict.Winner.Ref, err)
			continue
		}
		arbitrationWins.Inc()
		report.PaymentConfirmed++
		if err := e.notifier.SendConfirmation(ctx, verdict.Winner); err != nil {
			log.Printf("[engine] confirmation message for %s failed: %v", verdict.Winner.Ref, err)
		}

		consumed := []string{verdict.WinnerDeposit.Ref}
		for _, loser := range verdict.Losers {
			txRef := ""
			if loser.Deposit != nil {
				txRef = loser.Deposit.Ref
				consumed = append(consumed, txRef)
			}
			if e.cancelUnit(ctx, loser.Reservation, domain.ReasonLostToEarlierPayer, txRef) {
				report.Canceled++
			}
		}
		deposits = withoutRefs(deposits, consumed)
	}
}

// ─── Cancellation Units ─────────────────────────────────────────────────────

// cancelUnit is one atomic cancellation: actuate, then commit the status
// change (and park the deposit, if any) in a single store transaction.
// Actuation failure leaves everything untouched for the next tick.
func (e *Engine) cancelUnit(ctx context.Context, r domain.Reservation, reason domain.ReasonCode, txRef string) bool {
	if err := e.actuator.Cancel(ctx, r.Ref, reason); err != nil {
		actuationFailures.Inc()
		log.Printf("[engine] cancel %s: %v", r.Ref, err)
		return false
	}
	var err error
	if txRef == "" {
		err = e.db.TransitionReservation(r.Ref, domain.StatusCanceled)
	} else {
		err = e.db.CancelWithDeposit(r.Ref, txRef)
	}
	if err != nil {
		log.Printf("[engine] commit cancel %s: %v", r.Ref, err)
		return false
	}
	cancellations.WithLabelValues(string(reason)).Inc()
	if err := e.notifier.SendCancellation(ctx, r, reason); err != nil {
		log.Printf("[engine] cancellation message for %s failed: %v", r.Ref, err)
	}
	return true
}

// cancelCouponUnit cancels a coupon booking for a deterministic wallet
// failure. Wallet-level problems (missing or short) message the balance
// details; the rest use the plain cancellation template.
func (e *Engine) cancelCouponUnit(ctx context.Context, r domain.Reservation, reason domain.ReasonCode, wallet *domain.CouponWallet) bool {
	if err := e.actuator.Cancel(ctx, r.Ref, reason); err != nil {
		actuationFailures.Inc()
		log.Printf("[engine] cancel %s: %v", r.Ref, err)
		return false
	}
	if err := e.db.TransitionReservation(r.Ref, domain.StatusCanceled); err != nil {
		log.Printf("[engine] commit cancel %s: %v", r.Ref, err)
		return false
	}
	cancellations.WithLabelValues(string(reason)).Inc()

	var err error
	switch reason {
	case domain.ReasonNoWallet, domain.ReasonInsufficientBalance:
		err = e.notifier.SendInsufficientBalance(ctx, r, wallet)
	default:
		err = e.notifier.SendCancellation(ctx, r, reason)
	}
	if err != nil {
		log.Printf("[engine] coupon cancel message for %s failed: %v", r.Ref, err)
	}
	return true
}

// ─── Helpers ────────────────────────────────────────────────────────────────

func cashOnly(reservations []domain.Reservation) []domain.Reservation {
	var out []domain.Reservation
	for _, r := range reservations {
		if !r.IsCoupon {
			out = append(out, r)
		}
	}
	return out
}

func withoutRefs(deposits []domain.Transaction, refs []string) []domain.Transaction {
	drop := make(map[string]bool, len(refs))
	for _, ref := range refs {
		drop[ref] = true
	}
	var out []domain.Transaction
	for _, tx := range deposits {
		if !drop[tx.Ref] {
			out = append(out, tx)
		}
	}
	return out
}
