package observability

import (
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusMetrics implements Metrics on a private Prometheus registry.
// Collectors are created on first use; dotted names become snake case.
// A name must always be reported with the same tag keys.
type PrometheusMetrics struct {
	registry *prometheus.Registry

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

func NewPrometheusMetrics() *PrometheusMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &PrometheusMetrics{
		registry:   reg,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

// Handler serves the registry in the exposition format.
func (p *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

func (p *PrometheusMetrics) Registry() *prometheus.Registry {
	return p.registry
}

func (p *PrometheusMetrics) Counter(name string, value int64, tags ...Tag) {
	keys, values := splitTags(tags)
	p.mu.Lock()
	vec, ok := p.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{Name: promName(name) + "_total", Help: name}, keys)
		p.registry.MustRegister(vec)
		p.counters[name] = vec
	}
	p.mu.Unlock()
	vec.WithLabelValues(values...).Add(float64(value))
}

func (p *PrometheusMetrics) Gauge(name string, value float64, tags ...Tag) {
	keys, values := splitTags(tags)
	p.mu.Lock()
	vec, ok := p.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: promName(name), Help: name}, keys)
		p.registry.MustRegister(vec)
		p.gauges[name] = vec
	}
	p.mu.Unlock()
	vec.WithLabelValues(values...).Set(value)
}

func (p *PrometheusMetrics) Histogram(name string, value float64, tags ...Tag) {
	p.histogram(name, promName(name), tags).Observe(value)
}

func (p *PrometheusMetrics) Timing(name string, d time.Duration, tags ...Tag) {
	p.histogram(name, promName(name)+"_seconds", tags).Observe(d.Seconds())
}

func (p *PrometheusMetrics) histogram(name, fqName string, tags []Tag) prometheus.Observer {
	keys, values := splitTags(tags)
	p.mu.Lock()
	defer p.mu.Unlock()
	vec, ok := p.histograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    fqName,
			Help:    name,
			Buckets: prometheus.DefBuckets,
		}, keys)
		p.registry.MustRegister(vec)
		p.histograms[name] = vec
	}
	return vec.WithLabelValues(values...)
}

func promName(name string) string {
	return strings.NewReplacer(".", "_", "-", "_").Replace(name)
}

func splitTags(tags []Tag) ([]string, []string) {
	sorted := append([]Tag(nil), tags...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })
	keys := make([]string, len(sorted))
	values := make([]string, len(sorted))
	for i, t := range sorted {
		keys[i] = t.Key
		values[i] = t.Value
	}
	return keys, values
}

var _ Metrics = (*PrometheusMetrics)(nil)
