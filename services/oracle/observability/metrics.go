// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the oracle.
//
// # Description
//
// Metrics cover the full validation pipeline:
//   - ingest counters (proposals registered, claims extracted)
//   - delegation counters and latency histograms (by outcome)
//   - job settlements by terminal status
//   - aggregation and bundling durations
//   - verify outcomes
//
// Metrics are exposed via the /metrics endpoint. All operations are
// thread-safe via Prometheus's internal locking.
package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Metric Definitions
// =============================================================================

const metricsNamespace = "oracle"

// Metrics holds all Prometheus metrics for the validation pipeline.
// Initialize once at startup via InitMetrics().
type Metrics struct {
	// ProposalsIngested counts registered proposal versions.
	// Labels: scope (full, selective)
	ProposalsIngested *prometheus.CounterVec

	// ClaimsExtracted counts claims by extractor origin.
	// Labels: extractor (llm, heuristic)
	ClaimsExtracted *prometheus.CounterVec

	// DelegationsTotal counts delegate calls by outcome.
	// Labels: outcome (ok, timeout, auth, transient, parse, other)
	DelegationsTotal *prometheus.CounterVec

	// DelegationSeconds measures delegate call latency.
	// Labels: outcome
	DelegationSeconds *prometheus.HistogramVec

	// ResponsesPersisted counts appended miner responses.
	// Labels: failed (true, false)
	ResponsesPersisted *prometheus.CounterVec

	// JobsSettled counts jobs entering a terminal state.
	// Labels: status (completed, partial, failed)
	JobsSettled *prometheus.CounterVec

	// JobDurationSeconds measures queued-to-settled wall time.
	// Labels: status
	JobDurationSeconds *prometheus.HistogramVec

	// ClaimsInFlight tracks claims currently being validated.
	ClaimsInFlight prometheus.Gauge

	// AggregationSeconds measures one aggregation run.
	AggregationSeconds prometheus.Histogram

	// BundlesSealed counts evidence bundles written.
	// Labels: scope (full, selective)
	BundlesSealed *prometheus.CounterVec

	// VerifyTotal counts replay verifications by result.
	// Labels: result (ok, hash_mismatch, malformed)
	VerifyTotal *prometheus.CounterVec
}

// DefaultMetrics is the singleton instance, set by InitMetrics. All
// recording helpers are nil-safe, so code paths that run before
// InitMetrics (or in tests that never call it) simply record nothing.
var DefaultMetrics *Metrics

var initOnce sync.Once

// InitMetrics initializes and registers the default metrics instance.
// Safe to call more than once; only the first call registers.
func InitMetrics() *Metrics {
	initOnce.Do(func() {
		DefaultMetrics = &Metrics{
			ProposalsIngested: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Name:      "proposals_ingested_total",
					Help:      "Registered proposal versions by validation scope",
				},
				[]string{"scope"},
			),
			ClaimsExtracted: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Name:      "claims_extracted_total",
					Help:      "Extracted claims by extractor origin",
				},
				[]string{"extractor"},
			),
			DelegationsTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Name:      "delegations_total",
					Help:      "Delegate calls by outcome",
				},
				[]string{"outcome"},
			),
			DelegationSeconds: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: metricsNamespace,
					Name:      "delegation_seconds",
					Help:      "Delegate call latency in seconds",
					Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 15, 30},
				},
				[]string{"outcome"},
			),
			ResponsesPersisted: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Name:      "responses_persisted_total",
					Help:      "Miner responses appended to buckets",
				},
				[]string{"failed"},
			),
			JobsSettled: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Name:      "jobs_settled_total",
					Help:      "Jobs entering a terminal state by status",
				},
				[]string{"status"},
			),
			JobDurationSeconds: promauto.NewHistogramVec(
				prometheus.HistogramOpts{
					Namespace: metricsNamespace,
					Name:      "job_duration_seconds",
					Help:      "Queued-to-settled job wall time in seconds",
					Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
				},
				[]string{"status"},
			),
			ClaimsInFlight: promauto.NewGauge(
				prometheus.GaugeOpts{
					Namespace: metricsNamespace,
					Name:      "claims_in_flight",
					Help:      "Claims currently being validated",
				},
			),
			AggregationSeconds: promauto.NewHistogram(
				prometheus.HistogramOpts{
					Namespace: metricsNamespace,
					Name:      "aggregation_seconds",
					Help:      "Aggregation run duration in seconds",
					Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
				},
			),
			BundlesSealed: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Name:      "bundles_sealed_total",
					Help:      "Evidence bundles written by validation scope",
				},
				[]string{"scope"},
			),
			VerifyTotal: promauto.NewCounterVec(
				prometheus.CounterOpts{
					Namespace: metricsNamespace,
					Name:      "verify_total",
					Help:      "Replay verifications by result",
				},
				[]string{"result"},
			),
		}
	})
	return DefaultMetrics
}

// =============================================================================
// Recording Helpers
// =============================================================================

// RecordDelegation records one delegate call and its latency.
func (m *Metrics) RecordDelegation(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.DelegationsTotal.WithLabelValues(outcome).Inc()
	m.DelegationSeconds.WithLabelValues(outcome).Observe(seconds)
}

// RecordResponse records one persisted miner response.
func (m *Metrics) RecordResponse(failed bool) {
	if m == nil {
		return
	}
	label := "false"
	if failed {
		label = "true"
	}
	m.ResponsesPersisted.WithLabelValues(label).Inc()
}

// RecordJobSettled records a job reaching a terminal state.
func (m *Metrics) RecordJobSettled(status string, seconds float64) {
	if m == nil {
		return
	}
	m.JobsSettled.WithLabelValues(status).Inc()
	m.JobDurationSeconds.WithLabelValues(status).Observe(seconds)
}

// RecordIngest records a registered proposal version and its claim count.
func (m *Metrics) RecordIngest(scope, extractor string, claimCount int) {
	if m == nil {
		return
	}
	m.ProposalsIngested.WithLabelValues(scope).Inc()
	m.ClaimsExtracted.WithLabelValues(extractor).Add(float64(claimCount))
}

// RecordBundle records a sealed evidence bundle.
func (m *Metrics) RecordBundle(scope string) {
	if m == nil {
		return
	}
	m.BundlesSealed.WithLabelValues(scope).Inc()
}

// RecordVerify records a replay verification result.
func (m *Metrics) RecordVerify(result string) {
	if m == nil {
		return
	}
	m.VerifyTotal.WithLabelValues(result).Inc()
}

// ClaimStarted increments the in-flight claims gauge.
func (m *Metrics) ClaimStarted() {
	if m == nil {
		return
	}
	m.ClaimsInFlight.Inc()
}

// ClaimFinished decrements the in-flight claims gauge.
func (m *Metrics) ClaimFinished() {
	if m == nil {
		return
	}
	m.ClaimsInFlight.Dec()
}

// RecordAggregation records one aggregation run's duration.
func (m *Metrics) RecordAggregation(seconds float64) {
	if m == nil {
		return
	}
	m.AggregationSeconds.Observe(seconds)
}
