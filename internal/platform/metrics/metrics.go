// Package metrics registers the gateway's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"vida-gateway/pkg/domain"
)

// Metrics holds all Prometheus metrics for the gateway.
type Metrics struct {
	AdmissionDecisions    *prometheus.CounterVec
	GlobalProtectionLevel prometheus.Gauge
	ThreatSignals         *prometheus.CounterVec
	PipelineOutcomes      *prometheus.CounterVec
	AuditAppendSeconds    prometheus.Histogram
	FieldIntegrityErrors  prometheus.Counter
}

// ObserveOutcome counts one terminal pipeline outcome.
func (m *Metrics) ObserveOutcome(outcome domain.Outcome) {
	m.PipelineOutcomes.WithLabelValues(string(outcome)).Inc()
}

// New creates and registers all Prometheus metrics.
func New() *Metrics {
	return &Metrics{
		AdmissionDecisions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vida_admission_decisions_total",
			Help: "Admission controller decisions by tier and outcome",
		}, []string{"tier", "outcome"}),
		GlobalProtectionLevel: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "vida_global_protection_level",
			Help: "Current global protection stage (0=normal 1=elevated 2=restrictive 3=emergency)",
		}),
		ThreatSignals: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vida_threat_signals_total",
			Help: "Anomaly heuristics fired, by kind",
		}, []string{"kind"}),
		PipelineOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "vida_pipeline_outcomes_total",
			Help: "Terminal gatekeeper outcomes by category",
		}, []string{"outcome"}),
		AuditAppendSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "vida_audit_append_seconds",
			Help:    "Latency of audit record appends",
			Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025},
		}),
		FieldIntegrityErrors: promauto.NewCounter(prometheus.CounterOpts{
			Name: "vida_field_integrity_failures_total",
			Help: "Protected fields that failed authenticated decryption",
		}),
	}
}
