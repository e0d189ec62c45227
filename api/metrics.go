package api

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Payment-path counters, exported on /metrics.
var (
	previewsServed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billing_previews_served_total",
		Help: "Payment previews computed.",
	})

	commitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_commits_total",
		Help: "Payment commits by outcome.",
	}, []string{"outcome"})

	amountCommitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billing_amount_committed_minor_units_total",
		Help: "Total payment amount committed, in minor currency units.",
	})

	discrepanciesFound = promauto.NewCounter(prometheus.CounterOpts{
		Name: "billing_reconciliation_discrepancies_total",
		Help: "Discrepancies surfaced by reconciliation runs.",
	})
)
