// Package telemetry holds the Prometheus metrics and OpenTelemetry spans the
// engine emits. A nil *Metrics is valid and records nothing.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels shared by the counters.
const (
	OutcomeMasked   = "masked"
	OutcomeSkipped  = "skipped"
	OutcomeFailed   = "failed"
	OutcomeAccepted = "accepted"
	OutcomeWarning  = "warning"
	OutcomeRejected = "rejected"
)

// Metrics holds all Prometheus metrics for the engine.
type Metrics struct {
	rewritesTotal     *prometheus.CounterVec
	rewriteDuration   *prometheus.HistogramVec
	relationsMasked   prometheus.Counter
	policyResolutions *prometheus.CounterVec
	labelValidations  *prometheus.CounterVec
	interceptions     *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics instance on its own registry.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		rewritesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "veil_rewrites_total",
				Help: "Total number of query rewrites by site and outcome",
			},
			[]string{"site", "outcome"},
		),

		rewriteDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "veil_rewrite_duration_seconds",
				Help:    "Query rewrite latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"site"},
		),

		relationsMasked: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "veil_relations_masked_total",
				Help: "Total number of relation references replaced by masking sub-queries",
			},
		),

		policyResolutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "veil_policy_resolutions_total",
				Help: "Total number of policy resolutions by result",
			},
			[]string{"result"},
		),

		labelValidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "veil_label_validations_total",
				Help: "Total number of security label validations by object class and outcome",
			},
			[]string{"class", "outcome"},
		),

		interceptions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "veil_interceptions_total",
				Help: "Total number of statements seen by the masking gate by site and decision",
			},
			[]string{"site", "decision"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.rewritesTotal,
		m.rewriteDuration,
		m.relationsMasked,
		m.policyResolutions,
		m.labelValidations,
		m.interceptions,
	)

	return m
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordRewrite records one rewrite at site ("analyze" or "copy").
func (m *Metrics) RecordRewrite(site, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.rewritesTotal.WithLabelValues(site, outcome).Inc()
	m.rewriteDuration.WithLabelValues(site).Observe(d.Seconds())
}

// RecordMaskedRelation counts one substituted relation reference.
func (m *Metrics) RecordMaskedRelation() {
	if m == nil {
		return
	}
	m.relationsMasked.Inc()
}

// RecordResolution counts a policy resolution ("found", "none", "skipped").
func (m *Metrics) RecordResolution(result string) {
	if m == nil {
		return
	}
	m.policyResolutions.WithLabelValues(result).Inc()
}

// RecordValidation counts a label validation.
func (m *Metrics) RecordValidation(class, outcome string) {
	if m == nil {
		return
	}
	m.labelValidations.WithLabelValues(class, outcome).Inc()
}

// RecordInterception counts a gate decision ("pass" or the reason it was
// skipped).
func (m *Metrics) RecordInterception(site, decision string) {
	if m == nil {
		return
	}
	m.interceptions.WithLabelValues(site, decision).Inc()
}
