package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/utafrali/stockledger/internal/domain"
)

var (
	adjustmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_adjustments_total",
		Help: "Stock adjustments by transaction type and outcome",
	}, []string{"transaction_type", "outcome"})

	reservationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_reservations_total",
		Help: "Order confirmations by outcome",
	}, []string{"outcome"})

	releasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_releases_total",
		Help: "Reservations released, by cause",
	}, []string{"cause"})

	consumptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_consumptions_total",
		Help: "Reservations consumed by a pickup or shipment",
	}, []string{"fulfillment"})

	ledgerEntriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "stockledger_ledger_entries_total",
		Help: "Committed ledger entries by transaction type",
	}, []string{"transaction_type"})

	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "stockledger_sweep_duration_seconds",
		Help:    "Duration of one expiry sweep",
		Buckets: prometheus.DefBuckets,
	})

	sweepReleased = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stockledger_sweep_released_total",
		Help: "Reservations released by the expiry sweeper",
	})

	sweepFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "stockledger_sweep_order_failures_total",
		Help: "Orders the expiry sweeper failed to expire",
	})
)

// countEntries records n committed ledger entries of type t.
func countEntries(t domain.TransactionType, n int) {
	if n > 0 {
		ledgerEntriesTotal.WithLabelValues(string(t)).Add(float64(n))
	}
}
