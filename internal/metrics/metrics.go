// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package metrics wraps the Prometheus counters and histograms for a
// trace run: ReAct steps per query, tool dispatch latency, confidence
// score distribution, and progressive-search pattern hit counts.
//
// Unlike the donor's package-level promauto metrics (auto-registered
// against the global registry), Metrics takes a prometheus.Registerer
// explicitly so a CLI invocation and a test run never collide on the
// default registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics is the set of instruments one sqltrace run publishes.
type Metrics struct {
	stepsPerQuery    prometheus.Histogram
	toolDuration     *prometheus.HistogramVec
	toolCallsTotal   *prometheus.CounterVec
	confidenceScore  prometheus.Histogram
	patternHitsTotal *prometheus.CounterVec
	finalAnswers     *prometheus.CounterVec
}

// New builds the instrument set and registers it against reg. reg may
// be prometheus.NewRegistry() for an isolated run, or
// prometheus.DefaultRegisterer for a long-lived process exposing /metrics.
func New(reg prometheus.Registerer) *Metrics {
	factory := prometheus.WrapRegistererWith(prometheus.Labels{}, reg)

	m := &Metrics{
		stepsPerQuery: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sqltrace",
			Subsystem: "react",
			Name:      "steps_per_query",
			Help:      "Number of THOUGHT/ACTION steps taken to answer one query.",
			Buckets:   []float64{1, 2, 3, 5, 8, 10, 15, 20},
		}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sqltrace",
			Subsystem: "tool",
			Name:      "dispatch_duration_seconds",
			Help:      "Duration of a single tool dispatch.",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"tool", "status"}),
		toolCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sqltrace",
			Subsystem: "tool",
			Name:      "calls_total",
			Help:      "Total tool dispatches by tool name and status.",
		}, []string{"tool", "status"}),
		confidenceScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "sqltrace",
			Subsystem: "match",
			Name:      "confidence_score",
			Help:      "Distribution of final confidence scores produced by the matcher.",
			Buckets:   []float64{0.1, 0.25, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		}),
		patternHitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sqltrace",
			Subsystem: "search",
			Name:      "pattern_hits_total",
			Help:      "Progressive-search pattern hits by pattern tier.",
		}, []string{"tier"}),
		finalAnswers: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sqltrace",
			Subsystem: "react",
			Name:      "final_answers_total",
			Help:      "Terminal outcomes of a ReAct run by reason.",
		}, []string{"reason"}),
	}

	factory.MustRegister(
		m.stepsPerQuery,
		m.toolDuration,
		m.toolCallsTotal,
		m.confidenceScore,
		m.patternHitsTotal,
		m.finalAnswers,
	)
	return m
}

// ObserveSteps records the number of ReAct steps a completed run took.
func (m *Metrics) ObserveSteps(steps int) {
	m.stepsPerQuery.Observe(float64(steps))
}

// ObserveToolCall records one tool dispatch's outcome and latency.
func (m *Metrics) ObserveToolCall(tool string, err error, d time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	m.toolCallsTotal.WithLabelValues(tool, status).Inc()
	m.toolDuration.WithLabelValues(tool, status).Observe(d.Seconds())
}

// ObserveConfidence records a final confidence score.
func (m *Metrics) ObserveConfidence(score float64) {
	m.confidenceScore.Observe(score)
}

// ObservePatternHit records a progressive-search match at the given tier
// (e.g. "exact", "scope_resolved", "fuzzy").
func (m *Metrics) ObservePatternHit(tier string) {
	m.patternHitsTotal.WithLabelValues(tier).Inc()
}

// ObserveFinalAnswer records how a ReAct run terminated (e.g.
// "final_answer", "max_steps", "finalize_timeout", "llm_error", or a
// "tool_error: ..." reason).
func (m *Metrics) ObserveFinalAnswer(reason string) {
	m.finalAnswers.WithLabelValues(reason).Inc()
}
