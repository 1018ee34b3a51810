package metrics

import (
	"github.com/denismitr/heron/internal/database"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "heron"
	subsystem = "steps"
)

var outcomeLabels = map[database.Outcome]string{
	database.Executed:            "executed",
	database.SkippedCompleted:    "skipped_completed",
	database.SkippedVersion:      "skipped_version",
	database.SkippedNotInstalled: "skipped_not_installed",
	database.Failed:              "failed",
}

// StepMetrics holds metrics of step runs
type StepMetrics struct {
	Steps    *prometheus.CounterVec
	Duration *prometheus.HistogramVec

	registry *prometheus.Registry
}

func NewStepMetrics() *StepMetrics {
	m := &StepMetrics{
		Steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "total",
			Help:      "Count of steps by module, phase and outcome",
		}, []string{"module", "phase", "outcome"}),

		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "duration_seconds",
			Help:      "Histogram of time spent executing steps",
			Buckets:   prometheus.ExponentialBuckets(1e-2, 4, 8),
		}, []string{"module", "phase", "outcome"}),
	}

	m.registry = prometheus.NewRegistry()
	m.registry.MustRegister(m.PrometheusCollectors()...)

	return m
}

func (m *StepMetrics) PrometheusCollectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.Steps,
		m.Duration,
	}
}

// Observe counts every report, durations are observed for steps that ran
func (m *StepMetrics) Observe(reports database.Reports) {
	for _, r := range reports {
		outcome, ok := outcomeLabels[r.Outcome]
		if !ok {
			outcome = "unknown"
		}

		m.Steps.WithLabelValues(r.Key.Module, string(r.Key.Phase), outcome).Inc()

		if r.Outcome == database.Executed || r.Outcome == database.Failed {
			m.Duration.WithLabelValues(r.Key.Module, string(r.Key.Phase), outcome).Observe(r.Duration.Seconds())
		}
	}
}

func (m *StepMetrics) Gatherer() prometheus.Gatherer {
	return m.registry
}

// WriteTextfile writes the metrics in the text exposition format, suitable
// for the node exporter textfile collector
func (m *StepMetrics) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return errors.Wrapf(err, "could not write metrics to %s", path)
	}

	return nil
}
