package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// total requests per endpoint, method and status code
	RequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adrotator_requests_total",
			Help: "Total API requests received",
		},
		[]string{"endpoint", "method", "status"},
	)

	// request latency in seconds per endpoint/method
	RequestLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "adrotator_request_duration_seconds",
			Help:    "Histogram of request latencies",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint", "method"},
	)

	// selections labelled by the partition the ad came from (eligible, cooling, none)
	SelectionCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adrotator_selections_total",
			Help: "Total ad selections by partition",
		},
		[]string{"partition"},
	)

	// counter writes labelled by kind (view, click) and outcome (ok, dropped, not_found)
	CounterWrites = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adrotator_counter_writes_total",
			Help: "Total campaign counter increments by outcome",
		},
		[]string{"kind", "outcome"},
	)

	// retries of counter writes
	CounterRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adrotator_counter_retries_total",
			Help: "Total retried campaign counter increments",
		},
		[]string{"kind"},
	)

	// seen-set reads that failed and were served as empty
	SeenReadDegraded = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adrotator_seen_read_degraded_total",
			Help: "Total seen-set reads that failed open",
		},
	)

	// seen-set writes that failed
	SeenWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adrotator_seen_write_failures_total",
			Help: "Total failed seen-record writes",
		},
	)

	// seen records removed by pruning
	SeenPruned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adrotator_seen_pruned_total",
			Help: "Total seen records removed by pruning",
		},
	)

	// campaigns whose clicks ran ahead of views by more than the tolerance
	ClickAnomalies = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "adrotator_click_anomalies_total",
			Help: "Total click counter anomalies detected",
		},
	)

	// analytics events labelled by type and outcome
	AnalyticsEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adrotator_analytics_events_total",
			Help: "Total analytics events recorded",
		},
		[]string{"type", "outcome"},
	)

	// number of servable campaigns in the current pool snapshot
	PoolSize = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "adrotator_pool_size",
			Help: "Servable campaigns in the cached pool",
		},
	)

	// pool reloads labelled by outcome
	PoolReloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adrotator_pool_reloads_total",
			Help: "Total campaign pool reloads",
		},
		[]string{"outcome"},
	)

	// click URL macro expansions labelled by macro and outcome
	MacroExpansions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adrotator_macro_expansions_total",
			Help: "Total macro expansions in click destinations",
		},
		[]string{"macro", "outcome"},
	)
)

func init() {
	// register all metrics
	prometheus.MustRegister(
		RequestCount,
		RequestLatency,
		SelectionCount,
		CounterWrites,
		CounterRetries,
		SeenReadDegraded,
		SeenWriteFailures,
		SeenPruned,
		ClickAnomalies,
		AnalyticsEvents,
		PoolSize,
		PoolReloads,
		MacroExpansions,
	)
}
