// Package metrics collects run metrics on a private Prometheus registry and
// writes them in the node_exporter textfile format.
package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/imamik/kubehop/internal/remote"
)

// Metrics holds the collectors of one run. A nil *Metrics records nothing.
type Metrics struct {
	registry *prometheus.Registry

	jobsTotal     *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
	phaseDuration *prometheus.HistogramVec
	nodesTotal    *prometheus.CounterVec
}

var _ remote.Recorder = (*Metrics)(nil)

// New registers the collectors on a fresh registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "kubehop",
				Subsystem: "remote",
				Name:      "jobs_total",
				Help:      "Total number of remote jobs by host, description and terminal status",
			},
			[]string{"host", "description", "status"},
		),

		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "kubehop",
				Subsystem: "remote",
				Name:      "job_duration_seconds",
				Help:      "Duration of remote jobs in seconds",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~34min
			},
			[]string{"description"},
		),

		phaseDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "kubehop",
				Name:      "phase_duration_seconds",
				Help:      "Duration of provisioning phases in seconds",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"phase", "result"},
		),

		nodesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "kubehop",
				Name:      "nodes_total",
				Help:      "Nodes processed by role and outcome",
			},
			[]string{"role", "outcome"},
		),
	}

	m.registry.MustRegister(m.jobsTotal, m.jobDuration, m.phaseDuration, m.nodesTotal)
	return m
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveJob records a finished remote job.
func (m *Metrics) ObserveJob(host, description string, status remote.Status, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobsTotal.WithLabelValues(host, description, string(status)).Inc()
	m.jobDuration.WithLabelValues(description).Observe(duration.Seconds())
}

// ObservePhase records a provisioning phase.
func (m *Metrics) ObservePhase(phase string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.phaseDuration.WithLabelValues(phase, result).Observe(duration.Seconds())
}

// ObserveNode records the outcome for one node.
func (m *Metrics) ObserveNode(role, outcome string) {
	if m == nil {
		return
	}
	m.nodesTotal.WithLabelValues(role, outcome).Inc()
}

// WriteFile writes every collected metric to path in the textfile
// collector format.
func (m *Metrics) WriteFile(path string) error {
	if m == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}
