package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ─── Prometheus Metrics ─────────────────────────────────────────────────────

var (
	cyclesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studiod_cycles_total",
		Help: "Reconciliation cycles started.",
	})
	cycleFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studiod_cycle_failures_total",
		Help: "Cycles aborted because a feed fetch failed.",
	})
	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "studiod_cycle_duration_seconds",
		Help:    "Wall time of one full reconciliation cycle.",
		Buckets: prometheus.DefBuckets,
	})

	bookingsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studiod_bookings_ingested_total",
		Help: "New bookings persisted from snapshots.",
	})
	depositsIngested = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studiod_deposits_ingested_total",
		Help: "New bank statement rows persisted.",
	})
	staleEchoes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studiod_stale_echoes_total",
		Help: "Snapshot status regressions rejected by the state machine.",
	})

	paymentsMatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studiod_payments_matched_total",
		Help: "Claims settled against deposits, by match mode.",
	}, []string{"mode"})
	arbitrationWins = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studiod_arbitration_wins_total",
		Help: "Cluster claimants confirmed as first payer.",
	})
	cancellations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "studiod_cancellations_total",
		Help: "Reservations canceled, by reason code.",
	}, []string{"reason"})

	couponDebits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studiod_coupon_debits_total",
		Help: "Coupon wallet debits committed.",
	})
	couponRefunds = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studiod_coupon_refunds_total",
		Help: "Coupon refunds committed for externally canceled bookings.",
	})
	actuationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "studiod_actuation_failures_total",
		Help: "Confirm/cancel calls rejected by the booking source.",
	})
)
