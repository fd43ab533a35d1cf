package telemetry

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics provides Prometheus metrics for installer attempts.
type Metrics struct {
	config MetricsConfig

	// Attempt metrics
	attemptsStarted   *prometheus.CounterVec
	attemptsCompleted *prometheus.CounterVec
	attemptDuration   *prometheus.HistogramVec

	// Outcome metrics
	outcomes  *prometheus.CounterVec
	exitCodes *prometheus.CounterVec

	// Continuation metrics
	continuations *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	lastCompletion prometheus.Gauge

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

		attemptsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempts_started_total",
				Help:      "Total number of attempts started",
			},
			[]string{"action", "after_reboot"},
		),
		attemptsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "attempts_completed_total",
				Help:      "Total number of attempts completed",
			},
			[]string{"action", "status"},
		),
		attemptDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "attempt_duration_seconds",
				Help:      "Duration of attempts in seconds",
				Buckets:   buckets,
			},
			[]string{"action"},
		),

		outcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "outcomes_total",
				Help:      "Total number of outcomes reported by the engine",
			},
			[]string{"outcome"},
		),
		exitCodes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "exit_codes_total",
				Help:      "Total number of process exit codes",
			},
			[]string{"code"},
		),

		continuations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "continuations_total",
				Help:      "Total number of after-reboot task registrations",
			},
			[]string{"backend", "result"},
		),

		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),

		lastCompletion: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_completion_timestamp_seconds",
				Help:      "Unix time of the last completed attempt",
			},
		),
	}

	registry.MustRegister(
		m.attemptsStarted,
		m.attemptsCompleted,
		m.attemptDuration,
		m.outcomes,
		m.exitCodes,
		m.continuations,
		m.errorsByClass,
		m.errorsByCode,
		m.lastCompletion,
	)

	return m, nil
}

// RecordAttemptStarted increments the counter for started attempts.
func (m *Metrics) RecordAttemptStarted(action string, afterReboot bool) {
	if m.attemptsStarted == nil {
		return
	}
	m.attemptsStarted.WithLabelValues(action, strconv.FormatBool(afterReboot)).Inc()
}

// RecordAttemptCompleted records a completed attempt with its status and duration.
func (m *Metrics) RecordAttemptCompleted(action, status string, duration time.Duration) {
	if m.attemptsCompleted == nil {
		return
	}
	m.attemptsCompleted.WithLabelValues(action, status).Inc()
	m.attemptDuration.WithLabelValues(action).Observe(duration.Seconds())
	m.lastCompletion.SetToCurrentTime()
}

// RecordOutcome records an engine outcome.
func (m *Metrics) RecordOutcome(outcome string) {
	if m.outcomes == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome).Inc()
}

// RecordExitCode records the exit code the process terminates with.
func (m *Metrics) RecordExitCode(code int) {
	if m.exitCodes == nil {
		return
	}
	m.exitCodes.WithLabelValues(strconv.Itoa(code)).Inc()
}

// RecordContinuation records a continuation task registration.
func (m *Metrics) RecordContinuation(backend string, scheduled bool) {
	if m.continuations == nil {
		return
	}
	result := "failed"
	if scheduled {
		result = "scheduled"
	}
	m.continuations.WithLabelValues(backend, result).Inc()
}

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" && m.errorsByCode != nil {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
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

// Registry returns the metrics registry, or nil when metrics are disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTextfile writes all metrics to the configured textfile in the
// node-exporter textfile collector format.
func (m *Metrics) WriteTextfile() error {
	if m.registry == nil || m.config.TextfilePath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(m.config.TextfilePath), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(m.config.TextfilePath, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
