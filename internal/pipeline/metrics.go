package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "receipt_ledger"

// receiptsProcessed counts submissions by outcome
var receiptsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: metricsNamespace,
	Name:      "receipts_total",
	Help:      "Total receipts processed, by outcome.",
}, []string{"outcome"})

// extractionDuration tracks model calls including retries
var extractionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Namespace: metricsNamespace,
	Name:      "extraction_seconds",
	Help:      "Time spent waiting for the extraction model.",
	Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120, 300},
})

var extractionRetries = promauto.NewCounter(prometheus.CounterOpts{
	Namespace: metricsNamespace,
	Name:      "extraction_retries_total",
	Help:      "Total extraction attempts that were retried.",
})

var parseStrategy = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: metricsNamespace,
	Name:      "parse_strategy_total",
	Help:      "Accepted receipts by the strategy that read the model output.",
}, []string{"strategy"})

// CountRetry is a scanning.Retrying OnRetry hook
func CountRetry(attempt int, err error) {
	extractionRetries.Inc()
}
