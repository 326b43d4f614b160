package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/NoriginMedia/nannoq-tools-sub001/pkg/errors"
)

const (
	labelOperation = "operation"
	labelStatus    = "status"
	labelType      = "type"
)

// Metrics records versioning activity as prometheus collectors
type Metrics struct {
	operations    *prometheus.CounterVec
	failures      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	modifications prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with registerer.
// A nil registerer leaves them unregistered.
func NewMetrics(namespace string, registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "versioning",
			Name:      "operations_total",
			Help:      "The number of extract, apply and assign calls.",
		}, []string{labelOperation, labelStatus}),

		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "versioning",
			Name:      "failures_total",
			Help:      "The number of failed calls by error type.",
		}, []string{labelOperation, labelType}),

		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "versioning",
			Name:      "operation_duration_seconds",
			Help:      "Duration of versioning calls.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
		}, []string{labelOperation}),

		modifications: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "versioning",
			Name:      "modifications_per_version",
			Help:      "The number of path keys in each extracted version.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}

	if registerer == nil {
		return m, nil
	}
	for _, c := range []prometheus.Collector{m.operations, m.failures, m.duration, m.modifications} {
		if err := registerer.Register(c); err != nil {
			return nil, errors.NewConfigurationError("cannot register versioning metrics").WithCause(err)
		}
	}
	return m, nil
}

// RecordOperation records the outcome and duration of one call
func (m *Metrics) RecordOperation(operation string, duration time.Duration, err error) {
	if m == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "failure"
		m.failures.WithLabelValues(operation, string(errors.TypeOf(err))).Inc()
	}
	m.operations.WithLabelValues(operation, status).Inc()
	m.duration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordModifications records the size of an extracted version
func (m *Metrics) RecordModifications(n int) {
	if m == nil {
		return
	}
	m.modifications.Observe(float64(n))
}
