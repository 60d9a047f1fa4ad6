package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for DeployForge.
type Metrics struct {
	config MetricsConfig

	// Lifecycle metrics
	transitionsTotal *prometheus.CounterVec
	handlerDuration  *prometheus.HistogramVec
	processOutcomes  *prometheus.CounterVec

	// Tool protocol metrics
	toolCalls        *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec
	toolFallbacks    *prometheus.CounterVec

	// Sandbox metrics
	sandboxRuns        *prometheus.CounterVec
	sandboxRunDuration *prometheus.HistogramVec

	// Approval metrics
	approvalsRequested *prometheus.CounterVec
	approvalsResolved  *prometheus.CounterVec
	pendingApprovals   prometheus.Gauge

	// Credential metrics
	credentialReads *prometheus.CounterVec

	// Error metrics
	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	// System metrics
	activeDeployments prometheus.Gauge
	activeMonitors    prometheus.Gauge

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

		transitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transitions_total",
				Help:      "Total number of committed status transitions",
			},
			[]string{"from", "to"},
		),
		handlerDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "handler_duration_seconds",
				Help:      "Duration of status handler execution in seconds",
				Buckets:   buckets,
			},
			[]string{"status", "outcome"},
		),
		processOutcomes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "process_outcomes_total",
				Help:      "Total number of process passes by outcome",
			},
			[]string{"outcome"},
		),

		toolCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_calls_total",
				Help:      "Total number of tool calls",
			},
			[]string{"server", "tool", "status"},
		),
		toolCallDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tool_call_duration_seconds",
				Help:      "Duration of tool calls in seconds",
				Buckets:   buckets,
			},
			[]string{"server", "tool"},
		),
		toolFallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tool_fallbacks_total",
				Help:      "Total number of tool calls served by a fallback",
			},
			[]string{"server", "tool"},
		),

		sandboxRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sandbox_runs_total",
				Help:      "Total number of sandbox connection tests",
			},
			[]string{"service_type", "language", "status"},
		),
		sandboxRunDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "sandbox_run_duration_seconds",
				Help:      "Duration of sandbox connection tests in seconds",
				Buckets:   buckets,
			},
			[]string{"service_type", "language"},
		),

		approvalsRequested: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "approvals_requested_total",
				Help:      "Total number of approval rounds requested",
			},
			[]string{"environment"},
		),
		approvalsResolved: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "approvals_resolved_total",
				Help:      "Total number of approval rounds resolved",
			},
			[]string{"status"},
		),
		pendingApprovals: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_approvals",
				Help:      "Current number of pending approval rounds",
			},
		),

		credentialReads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "credential_reads_total",
				Help:      "Total number of credential decrypts",
			},
			[]string{"service_type"},
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

		activeDeployments: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_deployments",
				Help:      "Current number of non-terminal deployments",
			},
		),
		activeMonitors: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_monitors",
				Help:      "Current number of running monitor loops",
			},
		),
	}

	registry.MustRegister(
		m.transitionsTotal,
		m.handlerDuration,
		m.processOutcomes,
		m.toolCalls,
		m.toolCallDuration,
		m.toolFallbacks,
		m.sandboxRuns,
		m.sandboxRunDuration,
		m.approvalsRequested,
		m.approvalsResolved,
		m.pendingApprovals,
		m.credentialReads,
		m.errorsByClass,
		m.errorsByCode,
		m.activeDeployments,
		m.activeMonitors,
	)

	return m, nil
}

// RecordTransition records a committed status transition.
func (m *Metrics) RecordTransition(from, to string) {
	if m.transitionsTotal == nil {
		return
	}
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordHandler records the execution of one status handler.
func (m *Metrics) RecordHandler(status, outcome string, duration time.Duration) {
	if m.handlerDuration == nil {
		return
	}
	m.handlerDuration.WithLabelValues(status, outcome).Observe(duration.Seconds())
}

// RecordProcessOutcome records the outcome of one process pass.
func (m *Metrics) RecordProcessOutcome(outcome string) {
	if m.processOutcomes == nil {
		return
	}
	m.processOutcomes.WithLabelValues(outcome).Inc()
}

// RecordToolCall records a tool call with its duration.
func (m *Metrics) RecordToolCall(server, tool, status string, duration time.Duration) {
	if m.toolCalls == nil {
		return
	}
	m.toolCalls.WithLabelValues(server, tool, status).Inc()
	m.toolCallDuration.WithLabelValues(server, tool).Observe(duration.Seconds())
}

// RecordToolFallback records a tool call served by a fallback function.
func (m *Metrics) RecordToolFallback(server, tool string) {
	if m.toolFallbacks == nil {
		return
	}
	m.toolFallbacks.WithLabelValues(server, tool).Inc()
}

// RecordSandboxRun records a sandbox connection test.
func (m *Metrics) RecordSandboxRun(serviceType, language, status string, duration time.Duration) {
	if m.sandboxRuns == nil {
		return
	}
	m.sandboxRuns.WithLabelValues(serviceType, language, status).Inc()
	m.sandboxRunDuration.WithLabelValues(serviceType, language).Observe(duration.Seconds())
}

// RecordApprovalRequested records a new approval round.
func (m *Metrics) RecordApprovalRequested(environment string) {
	if m.approvalsRequested == nil {
		return
	}
	m.approvalsRequested.WithLabelValues(environment).Inc()
	m.pendingApprovals.Inc()
}

// RecordApprovalResolved records a resolved approval round.
func (m *Metrics) RecordApprovalResolved(status string) {
	if m.approvalsResolved == nil {
		return
	}
	m.approvalsResolved.WithLabelValues(status).Inc()
	m.pendingApprovals.Dec()
}

// RecordCredentialRead records a credential decrypt.
func (m *Metrics) RecordCredentialRead(serviceType string) {
	if m.credentialReads == nil {
		return
	}
	m.credentialReads.WithLabelValues(serviceType).Inc()
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

// SetActiveDeployments sets the current number of non-terminal deployments.
func (m *Metrics) SetActiveDeployments(count float64) {
	if m.activeDeployments == nil {
		return
	}
	m.activeDeployments.Set(count)
}

// MonitorStarted increments the active monitor gauge.
func (m *Metrics) MonitorStarted() {
	if m.activeMonitors == nil {
		return
	}
	m.activeMonitors.Inc()
}

// MonitorStopped decrements the active monitor gauge.
func (m *Metrics) MonitorStopped() {
	if m.activeMonitors == nil {
		return
	}
	m.activeMonitors.Dec()
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

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
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
