package app

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for paymentNeedsTotal.
const (
	needRegistered = "REGISTERED"
	needDuplicate  = "DUPLICATE"
	needInvalid    = "SANITY_CHECK_FAILED"
	needAnnulled   = "ANNULLED"
	needSkipped    = "SKIPPED"
)

var (
	paymentNeedsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spenn_payment_needs_total",
		Help: "Payment need events processed, labeled by need and outcome",
	}, []string{"need", "outcome"})

	transactionTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spenn_transaction_transitions_total",
		Help: "Transaction status transitions, labeled by the new status",
	}, []string{"status"})

	settlementResponsesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spenn_settlement_responses_total",
		Help: "Settlement responses received, labeled by severity",
	}, []string{"severity"})

	reconciledTransactionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spenn_reconciled_transactions_total",
		Help: "Transactions handled by the reconciliation sweep, labeled by result",
	}, []string{"result"})

	jobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "spenn_job_duration_seconds",
		Help:    "Latency distribution of scheduled jobs",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"job"})
)
