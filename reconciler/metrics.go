package reconciler

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "reconctl"

// Metrics counts remote operations and apply runs.
type Metrics struct {
	operations *prometheus.CounterVec
	duration   *prometheus.HistogramVec
	runs       *prometheus.CounterVec
}

func NewMetrics(registerer prometheus.Registerer) (*Metrics, error) {
	metrics := &Metrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "operations_total",
			Help:      "Remote reconcile operations by kind, operation and outcome.",
		}, []string{"kind", "operation", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of remote reconcile operations.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind", "operation"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "apply_runs_total",
			Help:      "Apply runs by kind and final status.",
		}, []string{"kind", "status"}),
	}

	if registerer == nil {
		return metrics, nil
	}
	if err := register(registerer, &metrics.operations); err != nil {
		return nil, err
	}
	if err := register(registerer, &metrics.duration); err != nil {
		return nil, err
	}
	if err := register(registerer, &metrics.runs); err != nil {
		return nil, err
	}
	return metrics, nil
}

// register reuses an identical collector already known to registerer.
func register[C prometheus.Collector](registerer prometheus.Registerer, collector *C) error {
	err := registerer.Register(*collector)
	if err == nil {
		return nil
	}

	var already prometheus.AlreadyRegisteredError
	if !errors.As(err, &already) {
		return err
	}
	existing, ok := already.ExistingCollector.(C)
	if !ok {
		return err
	}
	*collector = existing
	return nil
}

func (m *Metrics) observeStep(step Step, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.operations.WithLabelValues(string(step.Kind), string(step.Operation), outcome).Inc()
	m.duration.WithLabelValues(string(step.Kind), string(step.Operation)).Observe(elapsed.Seconds())
}

func (m *Metrics) observeRun(result Result) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(string(result.Kind), string(result.Status)).Inc()
}
