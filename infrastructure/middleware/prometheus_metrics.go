// Package middleware provides cross-cutting concerns for the tally engine:
// Prometheus metrics and OpenTelemetry tracing.
package middleware

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ahrav/go-tally/internal/ports"
)

// Metric names understood by PrometheusMetrics. Other names fall through
// to the generic vectors.
const (
	MetricOperations      = "operations"
	MetricTotalsClamped   = "totals_clamped"
	MetricPendingJudges   = "pending_judges"
	MetricContestantTotal = "contestant_total"
)

// PrometheusMetrics implements the MetricsCollector interface using Prometheus.
// It provides real-time monitoring of engine operations, certification
// progress and the distribution of tabulated totals.
type PrometheusMetrics struct {
	operationLatency *prometheus.HistogramVec
	operationCounter *prometheus.CounterVec
	clampedCounter   *prometheus.CounterVec
	stateGauges      *prometheus.GaugeVec
	contestantTotals *prometheus.HistogramVec
	valueHistogram   *prometheus.HistogramVec
}

// NewPrometheusMetrics creates a new PrometheusMetrics instance and registers
// all required metrics with reg under namespace. A nil reg uses the global
// Prometheus registry.
func NewPrometheusMetrics(reg prometheus.Registerer, namespace string) *PrometheusMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &PrometheusMetrics{
		operationLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Execution time of engine operations.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"operation", "outcome"},
		),
		operationCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Engine operations by outcome (ok or the error kind).",
			},
			[]string{"operation", "outcome"},
		),
		clampedCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "totals_clamped_total",
				Help:      "Contestant totals reduced to the category score cap.",
			},
			[]string{"category"},
		),
		stateGauges: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "certification_state",
				Help:      "Current certification progress values per subcategory.",
			},
			[]string{"metric", "subcategory"},
		),
		contestantTotals: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "contestant_total",
				Help:      "Distribution of tabulated contestant totals.",
				Buckets:   prometheus.LinearBuckets(0, 10, 11),
			},
			[]string{"category"},
		),
		valueHistogram: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "observed_value",
				Help:      "Generic observations recorded by the engine.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"metric"},
		),
	}
}

func labelOr(labels map[string]string, key, fallback string) string {
	if v, ok := labels[key]; ok && v != "" {
		return v
	}
	return fallback
}

// RecordLatency implements the MetricsCollector interface by recording
// execution latency in a Prometheus histogram.
func (pm *PrometheusMetrics) RecordLatency(
	operation string,
	duration time.Duration,
	labels map[string]string,
) {
	pm.operationLatency.WithLabelValues(operation, labelOr(labels, "outcome", "unknown")).Observe(duration.Seconds())
}

// RecordCounter implements the MetricsCollector interface by incrementing
// Prometheus counters.
func (pm *PrometheusMetrics) RecordCounter(
	metric string, value float64, labels map[string]string,
) {
	switch metric {
	case MetricTotalsClamped:
		pm.clampedCounter.WithLabelValues(labelOr(labels, "category", "unknown")).Add(value)
	case MetricOperations:
		pm.operationCounter.WithLabelValues(
			labelOr(labels, "operation", "unknown"),
			labelOr(labels, "outcome", "unknown"),
		).Add(value)
	default:
		pm.operationCounter.WithLabelValues(metric, labelOr(labels, "outcome", "ok")).Add(value)
	}
}

// RecordGauge implements the MetricsCollector interface by setting
// Prometheus gauge values.
func (pm *PrometheusMetrics) RecordGauge(
	metric string, value float64, labels map[string]string,
) {
	pm.stateGauges.WithLabelValues(metric, labelOr(labels, "subcategory", "unknown")).Set(value)
}

// RecordHistogram implements the MetricsCollector interface by recording
// values in a Prometheus histogram.
func (pm *PrometheusMetrics) RecordHistogram(
	metric string, value float64, labels map[string]string,
) {
	if metric == MetricContestantTotal {
		pm.contestantTotals.WithLabelValues(labelOr(labels, "category", "unknown")).Observe(value)
		return
	}
	pm.valueHistogram.WithLabelValues(metric).Observe(value)
}

// Compile-time verification that PrometheusMetrics implements MetricsCollector.
var _ ports.MetricsCollector = (*PrometheusMetrics)(nil)
