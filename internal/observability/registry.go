package observability

import "time"

// MetricsRegistry provides an interface for recording application metrics
// This replaces direct access to global Prometheus metrics with dependency injection
type MetricsRegistry interface {
	// HTTP Request metrics
	IncrementRequests(endpoint, method, status string)
	RecordRequestLatency(endpoint, method string, duration time.Duration)

	// Selection metrics
	IncrementSelections(partition string)

	// Counter updater metrics
	IncrementCounterWrites(kind, outcome string)
	IncrementCounterRetries(kind string)
	IncrementClickAnomalies()

	// Seen tracker metrics
	IncrementSeenReadDegraded()
	IncrementSeenWriteFailures()
	AddSeenPruned(n int64)

	// Analytics metrics
	IncrementAnalyticsEvents(eventType, outcome string)

	// Pool metrics
	SetPoolSize(n int)
	IncrementPoolReloads(outcome string)

	// Click destination metrics
	IncrementMacroExpansions(macro, outcome string)
}

// PrometheusRegistry implements MetricsRegistry using the existing global Prometheus metrics
type PrometheusRegistry struct{}

// NewPrometheusRegistry creates a new PrometheusRegistry
func NewPrometheusRegistry() *PrometheusRegistry {
	return &PrometheusRegistry{}
}

// HTTP Request metrics
func (r *PrometheusRegistry) IncrementRequests(endpoint, method, status string) {
	RequestCount.WithLabelValues(endpoint, method, status).Inc()
}

func (r *PrometheusRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {
	RequestLatency.WithLabelValues(endpoint, method).Observe(duration.Seconds())
}

// Selection metrics
func (r *PrometheusRegistry) IncrementSelections(partition string) {
	SelectionCount.WithLabelValues(partition).Inc()
}

// Counter updater metrics
func (r *PrometheusRegistry) IncrementCounterWrites(kind, outcome string) {
	CounterWrites.WithLabelValues(kind, outcome).Inc()
}

func (r *PrometheusRegistry) IncrementCounterRetries(kind string) {
	CounterRetries.WithLabelValues(kind).Inc()
}

func (r *PrometheusRegistry) IncrementClickAnomalies() {
	ClickAnomalies.Inc()
}

// Seen tracker metrics
func (r *PrometheusRegistry) IncrementSeenReadDegraded() {
	SeenReadDegraded.Inc()
}

func (r *PrometheusRegistry) IncrementSeenWriteFailures() {
	SeenWriteFailures.Inc()
}

func (r *PrometheusRegistry) AddSeenPruned(n int64) {
	if n > 0 {
		SeenPruned.Add(float64(n))
	}
}

// Analytics metrics
func (r *PrometheusRegistry) IncrementAnalyticsEvents(eventType, outcome string) {
	AnalyticsEvents.WithLabelValues(eventType, outcome).Inc()
}

// Pool metrics
func (r *PrometheusRegistry) SetPoolSize(n int) {
	PoolSize.Set(float64(n))
}

func (r *PrometheusRegistry) IncrementPoolReloads(outcome string) {
	PoolReloads.WithLabelValues(outcome).Inc()
}

func (r *PrometheusRegistry) IncrementMacroExpansions(macro, outcome string) {
	MacroExpansions.WithLabelValues(macro, outcome).Inc()
}

// NoOpRegistry implements MetricsRegistry with no-op methods for testing
type NoOpRegistry struct{}

// NewNoOpRegistry creates a new NoOpRegistry
func NewNoOpRegistry() *NoOpRegistry {
	return &NoOpRegistry{}
}

// HTTP Request metrics
func (r *NoOpRegistry) IncrementRequests(endpoint, method, status string)                    {}
func (r *NoOpRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}

// Selection metrics
func (r *NoOpRegistry) IncrementSelections(partition string) {}

// Counter updater metrics
func (r *NoOpRegistry) IncrementCounterWrites(kind, outcome string) {}
func (r *NoOpRegistry) IncrementCounterRetries(kind string)         {}
func (r *NoOpRegistry) IncrementClickAnomalies()                    {}

// Seen tracker metrics
func (r *NoOpRegistry) IncrementSeenReadDegraded()  {}
func (r *NoOpRegistry) IncrementSeenWriteFailures() {}
func (r *NoOpRegistry) AddSeenPruned(n int64)       {}

// Analytics metrics
func (r *NoOpRegistry) IncrementAnalyticsEvents(eventType, outcome string) {}

// Pool metrics
func (r *NoOpRegistry) SetPoolSize(n int)                   {}
func (r *NoOpRegistry) IncrementPoolReloads(outcome string) {}

func (r *NoOpRegistry) IncrementMacroExpansions(macro, outcome string) {}
