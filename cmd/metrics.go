package cmd

import (
	"fmt"

	"github.com/mattsolo1/tuxplan/pkg/orchestration"
	"github.com/prometheus/client_golang/prometheus"
)

// runMetrics collects what a single CLI run exports through
// --metrics-textfile, for the node_exporter textfile collector.
type runMetrics struct {
	registry *prometheus.Registry
	units    *prometheus.GaugeVec
	polls    prometheus.Gauge
}

func newRunMetrics() *runMetrics {
	m := &runMetrics{
		registry: prometheus.NewRegistry(),
		units: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "tuxplan",
			Subsystem: "plan",
			Name:      "units",
			Help:      "Builds and tests of the watched plan by last observed state.",
		}, []string{"plan", "kind", "state"}),
		polls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tuxplan",
			Subsystem: "plan",
			Name:      "polls",
			Help:      "Plan status polls made while watching.",
		}),
	}
	m.registry.MustRegister(m.units, m.polls)
	return m
}

func (m *runMetrics) observeWatch(planUID string, w *orchestration.Watcher) {
	if m == nil {
		return
	}
	s := w.Summary()
	for st, n := range s.Builds {
		m.units.WithLabelValues(planUID, string(orchestration.UnitBuild), st).Set(float64(n))
	}
	for st, n := range s.Tests {
		m.units.WithLabelValues(planUID, string(orchestration.UnitTest), st).Set(float64(n))
	}
	m.polls.Set(float64(w.Polls()))
}

func (m *runMetrics) write(path string) error {
	if m == nil || path == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}

// registerer returns nil when metrics are disabled.
func (m *runMetrics) registerer() prometheus.Registerer {
	if m == nil {
		return nil
	}
	return m.registry
}

// metricsFor returns collectors when path is set.
func metricsFor(path string) *runMetrics {
	if path == "" {
		return nil
	}
	return newRunMetrics()
}
