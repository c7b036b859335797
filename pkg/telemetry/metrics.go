package telemetry

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Metrics holds the orchestrator's Prometheus collectors on a private
// registry. Every method is a no-op on a nil or disabled Metrics.
type Metrics struct {
	cfg      MetricsConfig
	registry *prometheus.Registry

	submissions *prometheus.CounterVec
	transitions *prometheus.CounterVec
	sequences   *prometheus.HistogramVec
	inFlight    prometheus.Gauge
	reconciles  *prometheus.CounterVec
	recoveries  *prometheus.CounterVec

	remoteCalls    *prometheus.CounterVec
	remoteLatency  *prometheus.HistogramVec
	remoteFailures *prometheus.CounterVec

	errClass *prometheus.CounterVec
	errCode  *prometheus.CounterVec

	queueDepth prometheus.Gauge
}

func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{cfg: cfg}, nil
	}
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	ns := cfg.Namespace
	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return prometheus.NewCounterVec(prometheus.CounterOpts{Namespace: ns, Name: name, Help: help}, labels)
	}
	histogram := func(name, help string, labels ...string) *prometheus.HistogramVec {
		return prometheus.NewHistogramVec(prometheus.HistogramOpts{Namespace: ns, Name: name, Help: help, Buckets: buckets}, labels)
	}
	gauge := func(name, help string) prometheus.Gauge {
		return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: ns, Name: name, Help: help})
	}

	m := &Metrics{
		cfg:      cfg,
		registry: prometheus.NewRegistry(),

		submissions: counter("job_submissions_total", "Submit, update and destroy requests by outcome.", "kind", "outcome"),
		transitions: counter("job_transitions_total", "Job status transitions.", "from", "to"),
		sequences:   histogram("job_trigger_duration_seconds", "Duration of background trigger sequences.", "status"),
		inFlight:    gauge("active_trigger_sequences", "Trigger sequences currently running."),
		reconciles:  counter("job_reconciliations_total", "Inline reconciliations against the remote engine.", "outcome"),
		recoveries:  counter("job_recoveries_total", "Jobs handled by the recovery sweep.", "action"),

		remoteCalls:    counter("remote_calls_total", "Calls to the remote deployment engine.", "operation"),
		remoteLatency:  histogram("remote_call_duration_seconds", "Latency of remote deployment engine calls.", "operation"),
		remoteFailures: counter("remote_errors_total", "Failed remote deployment engine calls.", "operation", "code"),

		errClass: counter("errors_by_class_total", "Operation errors by class.", "class"),
		errCode:  counter("errors_by_code_total", "Operation errors by code.", "code"),

		queueDepth: gauge("queue_depth", "Tasks waiting in the task queue."),
	}
	m.registry.MustRegister(
		m.submissions, m.transitions, m.sequences, m.inFlight, m.reconciles, m.recoveries,
		m.remoteCalls, m.remoteLatency, m.remoteFailures,
		m.errClass, m.errCode, m.queueDepth,
	)
	return m, nil
}

func (m *Metrics) on() bool { return m != nil && m.registry != nil }

// RecordSubmission counts a submit, update or destroy request by outcome code.
func (m *Metrics) RecordSubmission(kind, outcome string) {
	if m.on() {
		m.submissions.WithLabelValues(kind, outcome).Inc()
	}
}

func (m *Metrics) RecordTransition(from, to string) {
	if m.on() {
		m.transitions.WithLabelValues(from, to).Inc()
	}
}

func (m *Metrics) RecordSequenceStarted() {
	if m.on() {
		m.inFlight.Inc()
	}
}

// RecordSequenceCompleted must pair with RecordSequenceStarted.
func (m *Metrics) RecordSequenceCompleted(status string, d time.Duration) {
	if m.on() {
		m.sequences.WithLabelValues(status).Observe(d.Seconds())
		m.inFlight.Dec()
	}
}

func (m *Metrics) RecordReconcile(outcome string) {
	if m.on() {
		m.reconciles.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) RecordRecovery(action string) {
	if m.on() {
		m.recoveries.WithLabelValues(action).Inc()
	}
}

func (m *Metrics) RecordRemoteCall(operation string, d time.Duration) {
	if m.on() {
		m.remoteCalls.WithLabelValues(operation).Inc()
		m.remoteLatency.WithLabelValues(operation).Observe(d.Seconds())
	}
}

func (m *Metrics) RecordRemoteError(operation, code string) {
	if m.on() {
		m.remoteFailures.WithLabelValues(operation, code).Inc()
	}
}

// RecordError counts an error by class, and by code when one is given.
func (m *Metrics) RecordError(class, code string) {
	if !m.on() {
		return
	}
	m.errClass.WithLabelValues(class).Inc()
	if code != "" {
		m.errCode.WithLabelValues(code).Inc()
	}
}

func (m *Metrics) SetQueueDepth(n float64) {
	if m.on() {
		m.queueDepth.Set(n)
	}
}

// Handler serves the registry, or 404 when metrics are disabled.
func (m *Metrics) Handler() http.Handler {
	if !m.on() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// StartMetricsServer serves metrics on ListenAddress in the background. It
// does nothing when no dedicated address is configured.
func (m *Metrics) StartMetricsServer() error {
	if !m.on() || m.cfg.ListenAddress == "" {
		return nil
	}
	path := m.cfg.Path
	if path == "" {
		path = "/metrics"
	}
	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	srv := &http.Server{Addr: m.cfg.ListenAddress, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("address", m.cfg.ListenAddress).Msg("Metrics server stopped")
		}
	}()
	return nil
}

// Timer measures elapsed wall time.
type Timer struct{ start time.Time }

func NewTimer() *Timer { return &Timer{start: time.Now()} }

func (t *Timer) Duration() time.Duration { return time.Since(t.start) }
