// Package observability provides Prometheus metrics and the OpenTelemetry
// tracer provider for the service.
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "fabrix"

// Metrics holds the service's Prometheus collectors.
type Metrics struct {
	// TurnsTotal counts chat turns by outcome (completed, halted, failed).
	TurnsTotal *prometheus.CounterVec

	// StageDurationSeconds measures each pipeline stage.
	StageDurationSeconds *prometheus.HistogramVec

	// PolicyEventsTotal counts recorded policy events by policy and action.
	PolicyEventsTotal *prometheus.CounterVec

	// ToolRunsTotal counts tool dispatch events (requested, rejected, recorded).
	ToolRunsTotal *prometheus.CounterVec
}

// NewMetrics registers the collectors on reg. Use prometheus.NewRegistry()
// in tests to avoid duplicate registration.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		TurnsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "turns_total",
				Help:      "Chat turns processed, by outcome.",
			},
			[]string{"outcome"},
		),
		StageDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of each pipeline stage.",
				Buckets:   []float64{.0005, .001, .005, .01, .05, .1, .5, 1, 5},
			},
			[]string{"stage"},
		),
		PolicyEventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "policy_events_total",
				Help:      "Policy events recorded, by policy and action.",
			},
			[]string{"policy", "action"},
		),
		ToolRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "tool_runs_total",
				Help:      "Tool dispatch events, by tool and event.",
			},
			[]string{"tool", "event"},
		),
	}
}

// ObserveStage records one stage duration.
func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.StageDurationSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveTurn counts one finished turn.
func (m *Metrics) ObserveTurn(outcome string) {
	m.TurnsTotal.WithLabelValues(outcome).Inc()
}

// RecordPolicyEvent counts one policy event.
func (m *Metrics) RecordPolicyEvent(policyName, action string) {
	m.PolicyEventsTotal.WithLabelValues(policyName, action).Inc()
}

// RecordToolEvent counts one tool dispatch event.
func (m *Metrics) RecordToolEvent(tool, event string) {
	m.ToolRunsTotal.WithLabelValues(tool, event).Inc()
}
