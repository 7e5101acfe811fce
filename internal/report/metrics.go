package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/ShayCichocki/verifix/pkg/models"
)

// Metrics holds the per-run counters, written once as a Prometheus text file
// for node-exporter style collection. A nil *Metrics ignores observations.
type Metrics struct {
	registry     *prometheus.Registry
	executions   *prometheus.CounterVec
	remediations *prometheus.CounterVec
	agentTurns   *prometheus.CounterVec
	errors       *prometheus.GaugeVec
	duration     prometheus.Gauge
}

// NewMetrics registers the run metrics on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		executions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "verifix",
			Name:      "executions_total",
			Help:      "Test command executions per stage.",
		}, []string{"stage"}),
		remediations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "verifix",
			Name:      "remediation_actions_total",
			Help:      "Dependencies acted on per remediation action.",
		}, []string{"action"}),
		agentTurns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "verifix",
			Name:      "agent_turns_total",
			Help:      "Tool-dispatch turns by outcome.",
		}, []string{"outcome"}),
		errors: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "verifix",
			Name:      "errors",
			Help:      "Failure lines observed per stage.",
		}, []string{"stage"}),
		duration: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "verifix",
			Name:      "run_duration_seconds",
			Help:      "Wall-clock duration of the run.",
		}),
	}
	m.registry.MustRegister(m.executions, m.remediations, m.agentTurns, m.errors, m.duration)
	return m
}

// ObserveStage records a finished validation stage.
func (m *Metrics) ObserveStage(outcome models.RemediationOutcome) {
	if m == nil {
		return
	}
	stage := string(outcome.Stage)
	m.executions.WithLabelValues(stage).Add(float64(outcome.Executions))
	m.errors.WithLabelValues(stage).Set(float64(outcome.Final.ErrorCount))
	for _, a := range outcome.Attempts {
		if len(a.ActedOn) > 0 {
			m.remediations.WithLabelValues(string(a.Action)).Add(float64(len(a.ActedOn)))
		}
	}
}

// ObserveAgent records every turn of the tool-dispatch loop.
func (m *Metrics) ObserveAgent(outcome models.AgentOutcome) {
	if m == nil {
		return
	}
	for _, s := range outcome.Steps {
		switch {
		case s.Malformed:
			m.agentTurns.WithLabelValues("malformed").Inc()
		case s.IsError:
			m.agentTurns.WithLabelValues("tool_error").Inc()
		default:
			m.agentTurns.WithLabelValues("dispatched").Inc()
		}
	}
}

// SetDuration records the run's wall-clock time.
func (m *Metrics) SetDuration(d time.Duration) {
	if m == nil {
		return
	}
	m.duration.Set(d.Seconds())
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// WriteTo writes the metrics in the Prometheus text format.
func (m *Metrics) WriteTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("write metrics: %w", err)
	}
	return nil
}
