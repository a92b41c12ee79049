package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the bundler. The Inc* methods
// satisfy the engine's MetricsRecorder interface; every method is safe to
// call on a disabled (no-op) instance.
type Metrics struct {
	config MetricsConfig

	// Compilation metrics
	compilationsStarted   prometheus.Counter
	compilationsCompleted *prometheus.CounterVec
	makeDuration          *prometheus.HistogramVec
	sealDuration          *prometheus.HistogramVec

	// Unit pipeline metrics
	unitsResolved prometheus.Counter
	unitsBuilt    prometheus.Counter
	cacheHits     prometheus.Counter
	cacheMisses   prometheus.Counter

	// Error metrics
	errorsByKind *prometheus.CounterVec

	// Output metrics
	groupsEmitted    prometheus.Gauge
	artifactsWritten *prometheus.CounterVec
	artifactBytes    prometheus.Counter

	// System metrics
	activeCompilations prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		compilationsStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "compilations_started_total",
				Help:      "Total number of compilations started",
			},
		),
		compilationsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "compilations_completed_total",
				Help:      "Total number of compilations completed",
			},
			[]string{"status"},
		),
		makeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "make_duration_seconds",
				Help:      "Duration of the make phase in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		sealDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "seal_duration_seconds",
				Help:      "Duration of the seal phase in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		unitsResolved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "units_resolved_total",
				Help:      "Total number of unit resolutions",
			},
		),
		unitsBuilt: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "units_built_total",
				Help:      "Total number of units built",
			},
		),
		cacheHits: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_hits_total",
				Help:      "Total number of build cache hits",
			},
		),
		cacheMisses: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_misses_total",
				Help:      "Total number of build cache misses",
			},
		),

		errorsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of compilation errors by kind",
			},
			[]string{"kind"},
		),

		groupsEmitted: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "output_groups",
				Help:      "Number of output groups in the last sealed compilation",
			},
		),
		artifactsWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "artifacts_written_total",
				Help:      "Total number of artifacts written",
			},
			[]string{"status"},
		),
		artifactBytes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "artifact_bytes_total",
				Help:      "Total bytes of artifact content written",
			},
		),

		activeCompilations: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_compilations",
				Help:      "Current number of running compilations",
			},
		),
	}

	registry.MustRegister(
		m.compilationsStarted,
		m.compilationsCompleted,
		m.makeDuration,
		m.sealDuration,
		m.unitsResolved,
		m.unitsBuilt,
		m.cacheHits,
		m.cacheMisses,
		m.errorsByKind,
		m.groupsEmitted,
		m.artifactsWritten,
		m.artifactBytes,
		m.activeCompilations,
	)

	return m, nil
}

// Compilation metrics

// RecordCompilationStarted increments the started counter and the active gauge.
func (m *Metrics) RecordCompilationStarted() {
	if m.compilationsStarted == nil {
		return
	}
	m.compilationsStarted.Inc()
	m.activeCompilations.Inc()
}

// RecordCompilationCompleted records a finished compilation with its status.
func (m *Metrics) RecordCompilationCompleted(status string) {
	if m.compilationsCompleted == nil {
		return
	}
	m.compilationsCompleted.WithLabelValues(status).Inc()
	m.activeCompilations.Dec()
}

// RecordMakeDuration records the duration of the make phase.
func (m *Metrics) RecordMakeDuration(status string, duration time.Duration) {
	if m.makeDuration == nil {
		return
	}
	m.makeDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// RecordSealDuration records the duration of the seal phase.
func (m *Metrics) RecordSealDuration(status string, duration time.Duration) {
	if m.sealDuration == nil {
		return
	}
	m.sealDuration.WithLabelValues(status).Observe(duration.Seconds())
}

// Unit pipeline metrics

// IncUnitsResolved counts a unit resolution.
func (m *Metrics) IncUnitsResolved() {
	if m.unitsResolved == nil {
		return
	}
	m.unitsResolved.Inc()
}

// IncUnitsBuilt counts a unit build.
func (m *Metrics) IncUnitsBuilt() {
	if m.unitsBuilt == nil {
		return
	}
	m.unitsBuilt.Inc()
}

// IncCacheHits counts a build cache hit.
func (m *Metrics) IncCacheHits() {
	if m.cacheHits == nil {
		return
	}
	m.cacheHits.Inc()
}

// IncCacheMisses counts a build cache miss.
func (m *Metrics) IncCacheMisses() {
	if m.cacheMisses == nil {
		return
	}
	m.cacheMisses.Inc()
}

// IncErrors counts a compilation error by kind.
func (m *Metrics) IncErrors(kind string) {
	if m.errorsByKind == nil {
		return
	}
	m.errorsByKind.WithLabelValues(kind).Inc()
}

// Output metrics

// SetOutputGroups records the group count of the last sealed compilation.
func (m *Metrics) SetOutputGroups(count float64) {
	if m.groupsEmitted == nil {
		return
	}
	m.groupsEmitted.Set(count)
}

// RecordArtifactWritten counts a written artifact and its size.
func (m *Metrics) RecordArtifactWritten(status string, size int) {
	if m.artifactsWritten == nil {
		return
	}
	m.artifactsWritten.WithLabelValues(status).Inc()
	m.artifactBytes.Add(float64(size))
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
