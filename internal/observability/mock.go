package observability

import (
	"sync"
	"time"
)

// MockMetricsRegistry records calls so tests can assert on them.
type MockMetricsRegistry struct {
	mu     sync.Mutex
	counts map[string]int64
	gauges map[string]float64
}

// NewMockMetricsRegistry creates an empty MockMetricsRegistry.
func NewMockMetricsRegistry() *MockMetricsRegistry {
	return &MockMetricsRegistry{}
}

func (m *MockMetricsRegistry) add(key string, n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts == nil {
		m.counts = make(map[string]int64)
	}
	m.counts[key] += n
}

// Count returns the accumulated value for a metric key such as
// "counter_writes:view:ok" or "seen_read_degraded".
func (m *MockMetricsRegistry) Count(key string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[key]
}

// Gauge returns the last value set for a gauge key.
func (m *MockMetricsRegistry) Gauge(key string) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gauges[key]
}

// HTTP Request metrics
func (m *MockMetricsRegistry) IncrementRequests(endpoint, method, status string) {
	m.add("requests:"+endpoint+":"+method+":"+status, 1)
}
func (m *MockMetricsRegistry) RecordRequestLatency(endpoint, method string, duration time.Duration) {}

// Selection metrics
func (m *MockMetricsRegistry) IncrementSelections(partition string) {
	m.add("selections:"+partition, 1)
}

// Counter updater metrics
func (m *MockMetricsRegistry) IncrementCounterWrites(kind, outcome string) {
	m.add("counter_writes:"+kind+":"+outcome, 1)
}
func (m *MockMetricsRegistry) IncrementCounterRetries(kind string) {
	m.add("counter_retries:"+kind, 1)
}
func (m *MockMetricsRegistry) IncrementClickAnomalies() { m.add("click_anomalies", 1) }

// Seen tracker metrics
func (m *MockMetricsRegistry) IncrementSeenReadDegraded()  { m.add("seen_read_degraded", 1) }
func (m *MockMetricsRegistry) IncrementSeenWriteFailures() { m.add("seen_write_failures", 1) }
func (m *MockMetricsRegistry) AddSeenPruned(n int64)       { m.add("seen_pruned", n) }

// Analytics metrics
func (m *MockMetricsRegistry) IncrementAnalyticsEvents(eventType, outcome string) {
	m.add("analytics_events:"+eventType+":"+outcome, 1)
}

// Pool metrics
func (m *MockMetricsRegistry) SetPoolSize(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gauges == nil {
		m.gauges = make(map[string]float64)
	}
	m.gauges["pool_size"] = float64(n)
}
func (m *MockMetricsRegistry) IncrementPoolReloads(outcome string) {
	m.add("pool_reloads:"+outcome, 1)
}

func (m *MockMetricsRegistry) IncrementMacroExpansions(macro, outcome string) {
	m.add("macro_expansions:"+macro+":"+outcome, 1)
}

var (
	_ MetricsRegistry = (*PrometheusRegistry)(nil)
	_ MetricsRegistry = (*NoOpRegistry)(nil)
	_ MetricsRegistry = (*MockMetricsRegistry)(nil)
)
