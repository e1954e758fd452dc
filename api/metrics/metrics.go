package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "multisource"

// Metrics groups the collectors a workflow run reports to. The zero value
// is not usable; a nil *Metrics is, and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	runs           *prometheus.CounterVec
	runDuration    prometheus.Histogram
	cacheLookups   *prometheus.CounterVec
	outcomes       *prometheus.CounterVec
	routeRetries   prometheus.Counter
	podcastSeconds prometheus.Histogram
	evicted        prometheus.Counter
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Workflow runs by final status.",
		}, []string{"status"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a workflow run.",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Response cache lookups by result.",
		}, []string{"result"}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "processor_outcomes_total",
			Help:      "Processor outcomes by content bucket and result.",
		}, []string{"bucket", "result"}),
		routeRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "route_failures_total",
			Help:      "Failed classification attempts.",
		}),
		podcastSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "podcast_audio_seconds",
			Help:      "Length of generated podcast audio.",
			Buckets:   prometheus.LinearBuckets(10, 10, 10),
		}),
		evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_evicted_total",
			Help:      "Cache entries removed by eviction.",
		}),
	}
	m.registry.MustRegister(m.runs, m.runDuration, m.cacheLookups, m.outcomes,
		m.routeRetries, m.podcastSeconds, m.evicted)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) Run(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(status).Inc()
	m.runDuration.Observe(d.Seconds())
}

func (m *Metrics) CacheHit() {
	if m != nil {
		m.cacheLookups.WithLabelValues("hit").Inc()
	}
}

func (m *Metrics) CacheMiss() {
	if m != nil {
		m.cacheLookups.WithLabelValues("miss").Inc()
	}
}

func (m *Metrics) Outcome(bucket string, failed bool) {
	if m == nil {
		return
	}
	result := "ok"
	if failed {
		result = "failed"
	}
	m.outcomes.WithLabelValues(bucket, result).Inc()
}

func (m *Metrics) RouteFailure() {
	if m != nil {
		m.routeRetries.Inc()
	}
}

func (m *Metrics) Podcast(d time.Duration) {
	if m != nil {
		m.podcastSeconds.Observe(d.Seconds())
	}
}

func (m *Metrics) Evicted(n int64) {
	if m != nil && n > 0 {
		m.evicted.Add(float64(n))
	}
}
