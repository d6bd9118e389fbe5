package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jkaninda/ideaflow/internal/domain"
)

const namespace = "ideaflow"

// MetricsCollector holds all Prometheus metrics on a private registry.
// Every Record method is safe on a nil receiver.
type MetricsCollector struct {
	Registry *prometheus.Registry

	LLMRequestsTotal   *prometheus.CounterVec
	LLMRequestDuration *prometheus.HistogramVec
	LLMTokensUsed      *prometheus.CounterVec

	ToolInvocationsTotal   *prometheus.CounterVec
	ToolInvocationDuration *prometheus.HistogramVec
	AuditFailuresTotal     *prometheus.CounterVec

	SandboxExecutionsTotal   *prometheus.CounterVec
	SandboxExecutionDuration *prometheus.HistogramVec

	TurnsTotal        *prometheus.CounterVec
	TurnDuration      *prometheus.HistogramVec
	BlocksTotal       *prometheus.CounterVec
	ClientErrorsTotal *prometheus.CounterVec
	LiveSessions      prometheus.Gauge

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	ActiveRequests      prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with every metric registered.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		LLMRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "requests_total",
			Help:      "Total model requests.",
		}, []string{"provider", "model", "status"}),

		LLMRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "request_duration_seconds",
			Help:      "Model request duration in seconds, streaming included.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"provider", "model"}),

		LLMTokensUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "tokens_used_total",
			Help:      "Total model tokens consumed.",
		}, []string{"provider", "model", "direction"}),

		ToolInvocationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "tool",
			Name:      "invocations_total",
			Help:      "Tool invocation attempts by audit status.",
		}, []string{"tool", "status"}),

		ToolInvocationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "tool",
			Name:      "invocation_duration_seconds",
			Help:      "Tool invocation latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),

		AuditFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "audit",
			Name:      "write_failures_total",
			Help:      "Usage audit records that could not be stored.",
		}, []string{"tool"}),

		SandboxExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sandbox",
			Name:      "executions_total",
			Help:      "Total sandbox executions.",
		}, []string{"status"}),

		SandboxExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sandbox",
			Name:      "execution_duration_seconds",
			Help:      "Sandbox execution duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{}),

		TurnsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "turns_total",
			Help:      "Assistant turns by outcome.",
		}, []string{"agent_type", "outcome"}),

		TurnDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "turn_duration_seconds",
			Help:      "Assistant turn duration in seconds, tool rounds included.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		}, []string{"agent_type"}),

		BlocksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "blocks_total",
			Help:      "Blocks produced by kind.",
		}, []string{"kind"}),

		ClientErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "client_errors_total",
			Help:      "Error events sent to clients by code.",
		}, []string{"code"}),

		LiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "relay",
			Name:      "live_connections",
			Help:      "Open session connections.",
		}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_requests",
			Help:      "Number of currently active HTTP requests.",
		}),
	}

	reg.MustRegister(
		m.LLMRequestsTotal,
		m.LLMRequestDuration,
		m.LLMTokensUsed,
		m.ToolInvocationsTotal,
		m.ToolInvocationDuration,
		m.AuditFailuresTotal,
		m.SandboxExecutionsTotal,
		m.SandboxExecutionDuration,
		m.TurnsTotal,
		m.TurnDuration,
		m.BlocksTotal,
		m.ClientErrorsTotal,
		m.LiveSessions,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveRequests,
	)

	return m
}

// RecordToolInvocation implements audit.Metrics.
func (m *MetricsCollector) RecordToolInvocation(tool string, status domain.UsageStatus, latency time.Duration) {
	if m == nil {
		return
	}
	m.ToolInvocationsTotal.WithLabelValues(tool, string(status)).Inc()
	m.ToolInvocationDuration.WithLabelValues(tool).Observe(latency.Seconds())
}

// RecordAuditFailure implements audit.Metrics.
func (m *MetricsCollector) RecordAuditFailure(tool string) {
	if m == nil {
		return
	}
	m.AuditFailuresTotal.WithLabelValues(tool).Inc()
}

// RecordTurn implements relay.Metrics.
func (m *MetricsCollector) RecordTurn(agentType, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.TurnsTotal.WithLabelValues(agentType, outcome).Inc()
	m.TurnDuration.WithLabelValues(agentType).Observe(d.Seconds())
}

// RecordBlock implements relay.Metrics.
func (m *MetricsCollector) RecordBlock(kind string) {
	if m == nil {
		return
	}
	m.BlocksTotal.WithLabelValues(kind).Inc()
}

// RecordClientError implements relay.Metrics.
func (m *MetricsCollector) RecordClientError(code string) {
	if m == nil {
		return
	}
	m.ClientErrorsTotal.WithLabelValues(code).Inc()
}

// ConnectionOpened and ConnectionClosed track live session connections.
func (m *MetricsCollector) ConnectionOpened() {
	if m != nil {
		m.LiveSessions.Inc()
	}
}

func (m *MetricsCollector) ConnectionClosed() {
	if m != nil {
		m.LiveSessions.Dec()
	}
}
