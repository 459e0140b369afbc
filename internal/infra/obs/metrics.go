package obs

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rentme-deposits/internal/app/policies"
)

// Metrics implements policies.ReleaseMetrics on its own registry so tests
// and multiple instances never collide on the default one.
type Metrics struct {
	registry      *prometheus.Registry
	sweeps        *prometheus.CounterVec
	sweepItems    *prometheus.CounterVec
	sweepDuration *prometheus.HistogramVec
	releases      *prometheus.CounterVec
	httpLatency   *prometheus.HistogramVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,
		sweeps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "deposit_sweeps_total",
			Help: "Completed deposit sweeps.",
		}, []string{"trigger", "dry_run"}),
		sweepItems: f.NewCounterVec(prometheus.CounterOpts{
			Name: "deposit_sweep_items_total",
			Help: "Deposits seen by sweeps, by stage.",
		}, []string{"stage"}),
		sweepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "deposit_sweep_duration_seconds",
			Help:    "Wall time of a sweep.",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 120},
		}, []string{"trigger"}),
		releases: f.NewCounterVec(prometheus.CounterOpts{
			Name: "deposit_release_attempts_total",
			Help: "Release attempts after a positive eligibility decision, by outcome.",
		}, []string{"path", "outcome"}),
		httpLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

func (m *Metrics) SweepCompleted(trigger string, dryRun bool, scanned, eligible, released, skipped, failed int, took time.Duration) {
	m.sweeps.WithLabelValues(trigger, strconv.FormatBool(dryRun)).Inc()
	m.sweepItems.WithLabelValues("scanned").Add(float64(scanned))
	m.sweepItems.WithLabelValues("eligible").Add(float64(eligible))
	m.sweepItems.WithLabelValues("released").Add(float64(released))
	m.sweepItems.WithLabelValues("skipped").Add(float64(skipped))
	m.sweepItems.WithLabelValues("failed").Add(float64(failed))
	m.sweepDuration.WithLabelValues(trigger).Observe(took.Seconds())
}

func (m *Metrics) ReleaseOutcome(path, outcome string) {
	m.releases.WithLabelValues(path, outcome).Inc()
}

func (m *Metrics) ObserveHTTP(method, route, status string, took time.Duration) {
	m.httpLatency.WithLabelValues(method, route, status).Observe(took.Seconds())
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

var _ policies.ReleaseMetrics = (*Metrics)(nil)
