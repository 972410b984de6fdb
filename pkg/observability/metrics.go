package observability

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Metrics records application metrics independent of the backend.
type Metrics interface {
	Counter(name string, value int64, tags ...Tag)
	Gauge(name string, value float64, tags ...Tag)
	Histogram(name string, value float64, tags ...Tag)
	Timing(name string, duration time.Duration, tags ...Tag)
}

// Tag is a metric label.
type Tag struct {
	Key   string
	Value string
}

func T(key, value string) Tag {
	return Tag{Key: key, Value: value}
}

// NoopMetrics discards everything.
type NoopMetrics struct{}

func (NoopMetrics) Counter(string, int64, ...Tag)        {}
func (NoopMetrics) Gauge(string, float64, ...Tag)        {}
func (NoopMetrics) Histogram(string, float64, ...Tag)    {}
func (NoopMetrics) Timing(string, time.Duration, ...Tag) {}

// InMemoryMetrics keeps values in maps so tests can assert on them.
type InMemoryMetrics struct {
	mu       sync.RWMutex
	counters map[string]int64
	gauges   map[string]float64
	timings  map[string][]time.Duration
	samples  map[string][]float64
}

func NewInMemoryMetrics() *InMemoryMetrics {
	return &InMemoryMetrics{
		counters: make(map[string]int64),
		gauges:   make(map[string]float64),
		timings:  make(map[string][]time.Duration),
		samples:  make(map[string][]float64),
	}
}

func (m *InMemoryMetrics) Counter(name string, value int64, tags ...Tag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[metricKey(name, tags)] += value
}

func (m *InMemoryMetrics) Gauge(name string, value float64, tags ...Tag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[metricKey(name, tags)] = value
}

func (m *InMemoryMetrics) Histogram(name string, value float64, tags ...Tag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := metricKey(name, tags)
	m.samples[key] = append(m.samples[key], value)
}

func (m *InMemoryMetrics) Timing(name string, d time.Duration, tags ...Tag) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := metricKey(name, tags)
	m.timings[key] = append(m.timings[key], d)
}

func (m *InMemoryMetrics) GetCounter(name string, tags ...Tag) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.counters[metricKey(name, tags)]
}

func (m *InMemoryMetrics) GetGauge(name string, tags ...Tag) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.gauges[metricKey(name, tags)]
}

func (m *InMemoryMetrics) GetTimings(name string, tags ...Tag) []time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.timings[metricKey(name, tags)]
}

// metricKey renders name and tags sorted by key so tag order never matters.
func metricKey(name string, tags []Tag) string {
	if len(tags) == 0 {
		return name
	}
	sorted := append([]Tag(nil), tags...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })

	var b strings.Builder
	b.WriteString(name)
	for _, t := range sorted {
		b.WriteString(":" + t.Key + "=" + t.Value)
	}
	return b.String()
}

// Metric names.
const (
	MetricOperationTotal    = "coachpage.operation.total"
	MetricOperationDuration = "coachpage.operation.duration"
	MetricOperationErrors   = "coachpage.operation.errors"

	MetricTrialsGranted       = "coachpage.billing.trials_granted"
	MetricSubscriptionSyncs   = "coachpage.billing.subscription_syncs"
	MetricSyncsSkipped        = "coachpage.billing.syncs_skipped_override"
	MetricEntitlementsExpired = "coachpage.billing.entitlements_expired"
	MetricOverridesApplied    = "coachpage.billing.overrides_applied"
	MetricProGateDenied       = "coachpage.billing.pro_gate_denied"

	MetricSubscriptionRecordFailures = "coachpage.billing.subscription_record_failures"

	MetricWebhookRequests = "coachpage.webhook.requests"
	MetricWebhookDuration = "coachpage.webhook.duration"

	MetricEventsPublished = "coachpage.events.published"
	MetricEventsConsumed  = "coachpage.events.consumed"
)
