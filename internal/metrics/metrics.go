package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps Prometheus collectors for lakehouse-bootstrap.
type Metrics struct {
	registry               *prometheus.Registry
	runDurationSeconds     prometheus.Histogram
	runsTotal              *prometheus.CounterVec
	nodesTotal             *prometheus.GaugeVec
	probeAttemptsTotal     *prometheus.CounterVec
	actionsTotal           *prometheus.CounterVec
	lastSuccessfulRunGauge prometheus.Gauge
}

// New initializes a Metrics registry with all collectors registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		runDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "lakehouse_bootstrap_run_duration_seconds",
			Help:    "Duration of bootstrap runs in seconds.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lakehouse_bootstrap_runs_total",
			Help: "Total bootstrap runs by status.",
		}, []string{"status"}),
		nodesTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "lakehouse_bootstrap_nodes",
			Help: "Services by terminal state in the last run.",
		}, []string{"state"}),
		probeAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lakehouse_bootstrap_probe_attempts_total",
			Help: "Total health probe evaluations by service and result.",
		}, []string{"service", "result"}),
		actionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "lakehouse_bootstrap_actions_total",
			Help: "Total configuration actions by service and status.",
		}, []string{"service", "status"}),
		lastSuccessfulRunGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "lakehouse_bootstrap_last_successful_run_timestamp",
			Help: "Unix timestamp of the last successful run.",
		}),
	}

	registry.MustRegister(
		m.runDurationSeconds,
		m.runsTotal,
		m.nodesTotal,
		m.probeAttemptsTotal,
		m.actionsTotal,
		m.lastSuccessfulRunGauge,
	)

	return m
}

// Handler returns a Prometheus HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveRun records a completed run.
func (m *Metrics) ObserveRun(status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.runDurationSeconds.Observe(duration.Seconds())
	m.runsTotal.WithLabelValues(status).Inc()
}

// SetNodes sets the node gauge for a terminal state.
func (m *Metrics) SetNodes(state string, value int) {
	if m == nil {
		return
	}
	m.nodesTotal.WithLabelValues(state).Set(float64(value))
}

// IncProbeAttempts counts one probe evaluation.
func (m *Metrics) IncProbeAttempts(service string, result string) {
	if m == nil {
		return
	}
	m.probeAttemptsTotal.WithLabelValues(service, result).Inc()
}

// IncActions counts one action outcome.
func (m *Metrics) IncActions(service string, status string) {
	if m == nil {
		return
	}
	m.actionsTotal.WithLabelValues(service, status).Inc()
}

// SetLastSuccessfulRunTimestamp sets the last successful run time.
func (m *Metrics) SetLastSuccessfulRunTimestamp(t time.Time) {
	if m == nil {
		return
	}
	m.lastSuccessfulRunGauge.Set(float64(t.Unix()))
}
