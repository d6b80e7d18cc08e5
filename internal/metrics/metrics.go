package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// QuoteOutcomes counts per-source quote results by outcome
	// (ok, no_route, source_unavailable, validation_failed,
	// simulation_failed, preparation_failed). NoRoute vs unavailable is
	// the adapter-health signal: a healthy source with no liquidity
	// reports no_route, a broken one reports source_unavailable.
	QuoteOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swapquoter_quote_outcomes_total",
			Help: "Per-source quote outcomes",
		},
		[]string{"source", "outcome"},
	)

	// RoundsStarted counts quote rounds by trigger.
	RoundsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "swapquoter_rounds_started_total",
			Help: "Quote rounds started, by trigger",
		},
		[]string{"trigger"},
	)

	// StaleResultsDropped counts async results discarded because their
	// generation was superseded.
	StaleResultsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "swapquoter_stale_results_dropped_total",
		Help: "Async results discarded by the generation check",
	})

	// QuoteDuration observes per-source fetch latency.
	QuoteDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "swapquoter_quote_duration_seconds",
			Help:    "Per-source quote fetch duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"source"},
	)
)

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
