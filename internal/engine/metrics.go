package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	// Traffic: решения шлюза по исходам
	GateDecisions *prometheus.CounterVec

	// Latency: полная обработка попытки действия (включая исполнение)
	GateDuration *prometheus.HistogramVec

	// Deferred Execution Pipeline: количество и длительность реплеев
	ExecutionTotal    *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec

	// Saturation: состояние Circuit Breaker (0 - ок, 1 - выбило)
	CircuitBreakerState *prometheus.GaugeVec

	// Audit: заполненность буфера (backpressure)
	AuditBufferFill prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	// Null Object Pattern - Если рег не передан, используем локальный, который никуда не подключен
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	return &Metrics{
		GateDecisions: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "approval_gate_decisions_total",
			Help: "Gate outcomes by action type.",
		}, []string{"action_type", "outcome"}), // outcome: allowed, auto_approved, cleared, pending, duplicate, blocked, error

		GateDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "approval_gate_duration_seconds",
			Help:    "Histogram of gate processing latencies.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}, []string{"action_type", "outcome"}),

		ExecutionTotal: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "approval_executions_total",
			Help: "Deferred executions by final status.",
		}, []string{"status"}), // status: executed, execution_error, skipped

		ExecutionDuration: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "approval_execution_duration_seconds",
			Help:    "Histogram of deferred execution latencies.",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}, []string{"status"}),

		CircuitBreakerState: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "approval_circuit_breaker_state",
			Help: "Current state of the circuit breaker (0=closed, 1=open).",
		}, []string{"executor"}),

		AuditBufferFill: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "approval_audit_buffer_utilization",
			Help: "Current number of events in audit buffer.",
		}),
	}
}
