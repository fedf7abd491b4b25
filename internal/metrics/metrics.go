// Package metrics holds the Prometheus collectors of the economy services.
package metrics

import (
	"strings"

	"qafala_backend/internal/domain"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	Purchases = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "economy_purchases_total",
			Help: "Drop purchases by result",
		},
		[]string{"result"},
	)
	PurchaseDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "economy_purchase_duration_seconds",
			Help:    "Time spent executing a drop purchase",
			Buckets: prometheus.DefBuckets,
		},
	)
	BarterTrades = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "economy_barter_trades_total",
			Help: "Barter confirmations by resolution source and result",
		},
		[]string{"source", "result"},
	)
	LedgerEntries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "economy_ledger_entries_total",
			Help: "Wallet ledger rows appended by type",
		},
		[]string{"type"},
	)
	IdempotentReplays = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "economy_idempotent_replays_total",
			Help: "Requests answered from an existing idempotency record",
		},
		[]string{"endpoint", "outcome"},
	)
	Compensations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "economy_compensations_total",
			Help: "Partial writes undone while running without transactions",
		},
		[]string{"op"},
	)
	FinalizeRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "economy_finalize_runs_total",
			Help: "Weekly leaderboard finalize attempts by result",
		},
		[]string{"result"},
	)
	PayoutsMinor = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "economy_payouts_created_minor_total",
			Help: "Sum of winner payouts created, in minor units",
		},
	)
	PayoutClaims = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "economy_payout_claims_total",
			Help: "Payout claims by mode and result",
		},
		[]string{"mode", "result"},
	)
	JobRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "economy_job_runs_total",
			Help: "Scheduled job executions by job and result",
		},
		[]string{"job", "result"},
	)
)

func init() {
	prometheus.MustRegister(
		Purchases,
		PurchaseDuration,
		BarterTrades,
		LedgerEntries,
		IdempotentReplays,
		Compensations,
		FinalizeRuns,
		PayoutsMinor,
		PayoutClaims,
		JobRuns,
	)
}

// Result turns an operation error into a low-cardinality label value.
func Result(err error) string {
	if err == nil {
		return "ok"
	}
	if code := domain.CodeOf(err); code != "" {
		return strings.ToLower(string(code))
	}
	return "error"
}
