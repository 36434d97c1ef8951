// Package observability provides the process-wide Prometheus metrics
// surface. Metrics are created once at startup and injected into the
// components that record them; nil receivers disable recording so unit
// tests can run without a registry.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector the hub exports.
type Metrics struct {
	// MeshCalls counts guarded mesh calls.
	// Labels: endpoint, outcome (success|error|rejected).
	MeshCalls *prometheus.CounterVec

	// MeshCallDuration measures upstream call latency in seconds.
	// Labels: endpoint.
	MeshCallDuration *prometheus.HistogramVec

	// AuditEntries counts appended audit entries. Labels: level.
	AuditEntries *prometheus.CounterVec

	// ToolCalls counts dispatcher invocations.
	// Labels: tool, status (success|error).
	ToolCalls *prometheus.CounterVec

	// QueueDepth is the current number of queued commands.
	QueueDepth prometheus.Gauge

	// QueueCommands counts commands by terminal status.
	// Labels: status (completed|failed|cancelled).
	QueueCommands *prometheus.CounterVec

	// ChainCycles counts executed chain cycles. Labels: next_action.
	ChainCycles *prometheus.CounterVec

	// CircuitState reports breaker state per endpoint
	// (0 closed, 1 half-open, 2 open). Labels: endpoint.
	CircuitState *prometheus.GaugeVec
}

// New creates and registers all collectors with the default registry.
// Call once at startup.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the collectors with a specific registerer. Tests pass
// a fresh prometheus.NewRegistry().
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		MeshCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polyhub_mesh_calls_total",
				Help: "Guarded mesh calls by endpoint and outcome",
			},
			[]string{"endpoint", "outcome"},
		),
		MeshCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "polyhub_mesh_call_duration_seconds",
				Help:    "Upstream model call latency",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"endpoint"},
		),
		AuditEntries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polyhub_audit_entries_total",
				Help: "Audit entries appended by level",
			},
			[]string{"level"},
		),
		ToolCalls: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polyhub_tool_calls_total",
				Help: "Tool dispatcher invocations by tool and status",
			},
			[]string{"tool", "status"},
		),
		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "polyhub_queue_depth",
				Help: "Commands currently queued",
			},
		),
		QueueCommands: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polyhub_queue_commands_total",
				Help: "Commands reaching a terminal status",
			},
			[]string{"status"},
		),
		ChainCycles: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "polyhub_chain_cycles_total",
				Help: "Executed chain cycles by next action",
			},
			[]string{"next_action"},
		),
		CircuitState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "polyhub_circuit_state",
				Help: "Breaker state per endpoint (0 closed, 1 half-open, 2 open)",
			},
			[]string{"endpoint"},
		),
	}
}

// ObserveMeshCall records one mesh call outcome. Nil-safe.
func (m *Metrics) ObserveMeshCall(endpoint, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.MeshCalls.WithLabelValues(endpoint, outcome).Inc()
	if seconds > 0 {
		m.MeshCallDuration.WithLabelValues(endpoint).Observe(seconds)
	}
}

// ObserveAuditEntry records one appended audit entry. Nil-safe.
func (m *Metrics) ObserveAuditEntry(level string) {
	if m == nil {
		return
	}
	m.AuditEntries.WithLabelValues(level).Inc()
}

// ObserveToolCall records one dispatcher invocation. Nil-safe.
func (m *Metrics) ObserveToolCall(tool, status string) {
	if m == nil {
		return
	}
	m.ToolCalls.WithLabelValues(tool, status).Inc()
}

// SetQueueDepth updates the queued-command gauge. Nil-safe.
func (m *Metrics) SetQueueDepth(depth int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(depth))
}

// ObserveQueueCommand records one terminal command status. Nil-safe.
func (m *Metrics) ObserveQueueCommand(status string) {
	if m == nil {
		return
	}
	m.QueueCommands.WithLabelValues(status).Inc()
}

// ObserveChainCycle records one executed cycle. Nil-safe.
func (m *Metrics) ObserveChainCycle(nextAction string) {
	if m == nil {
		return
	}
	m.ChainCycles.WithLabelValues(nextAction).Inc()
}

// SetCircuitState updates the breaker gauge for an endpoint. Nil-safe.
func (m *Metrics) SetCircuitState(endpoint string, state float64) {
	if m == nil {
		return
	}
	m.CircuitState.WithLabelValues(endpoint).Set(state)
}
