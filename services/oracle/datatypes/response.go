// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the oracle service.
//
// This file contains miner response types: the verdict enum, the PoUW
// rubric scores, and the MinerResponse record persisted per (job, claim).
package datatypes

import "time"

// =============================================================================
// Verdicts
// =============================================================================

// Verdict is a miner's conclusion about one claim.
type Verdict string

const (
	VerdictVerified     Verdict = "verified"
	VerdictRefuted      Verdict = "refuted"
	VerdictUnverifiable Verdict = "unverifiable"
	VerdictPartial      Verdict = "partial"
)

// VerdictTieOrder is the fixed tie-break order for mode computation:
// earlier entries win a frequency tie.
var VerdictTieOrder = []Verdict{
	VerdictVerified,
	VerdictPartial,
	VerdictUnverifiable,
	VerdictRefuted,
}

// ValidVerdict reports whether v is a known verdict.
func ValidVerdict(v Verdict) bool {
	switch v {
	case VerdictVerified, VerdictRefuted, VerdictUnverifiable, VerdictPartial:
		return true
	}
	return false
}

// =============================================================================
// PoUW Scores
// =============================================================================

// Scores is the four-dimensional PoUW rubric plus its composite.
//
// Composite is deterministically derivable from the four subscores; the
// aggregator recomputes it on load and never trusts the miner-supplied
// value for ranking.
type Scores struct {
	Accuracy            float64 `json:"accuracy"`
	OmissionRisk        float64 `json:"omission_risk"`
	EvidenceQuality     float64 `json:"evidence_quality"`
	GovernanceRelevance float64 `json:"governance_relevance"`
	Composite           float64 `json:"composite"`
}

// ScoreWeights weights the four subscores when recomputing the composite.
type ScoreWeights struct {
	Accuracy            float64 `json:"accuracy"`
	OmissionRisk        float64 `json:"omission_risk"`
	EvidenceQuality     float64 `json:"evidence_quality"`
	GovernanceRelevance float64 `json:"governance_relevance"`
}

// DefaultScoreWeights returns the published default weighting: equal.
func DefaultScoreWeights() ScoreWeights {
	return ScoreWeights{
		Accuracy:            0.25,
		OmissionRisk:        0.25,
		EvidenceQuality:     0.25,
		GovernanceRelevance: 0.25,
	}
}

// Composite computes the weighted composite of s under w, clamped to [0,1].
func (w ScoreWeights) Composite(s Scores) float64 {
	total := w.Accuracy + w.OmissionRisk + w.EvidenceQuality + w.GovernanceRelevance
	if total <= 0 {
		return 0
	}
	c := (s.Accuracy*w.Accuracy +
		s.OmissionRisk*w.OmissionRisk +
		s.EvidenceQuality*w.EvidenceQuality +
		s.GovernanceRelevance*w.GovernanceRelevance) / total
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// Vector returns the four subscores as a row for outlier analysis.
func (s Scores) Vector() [4]float64 {
	return [4]float64{s.Accuracy, s.OmissionRisk, s.EvidenceQuality, s.GovernanceRelevance}
}

// =============================================================================
// Miner Response
// =============================================================================

// MinerResponse is one miner's reply for one claim.
//
// Failed delegations are recorded as skeleton responses with Failed=true
// and FailureReason set, so coverage accounting sees every requested slot.
type MinerResponse struct {
	MinerID       string    `json:"miner_id"`
	ClaimID       string    `json:"claim_id"`
	Verdict       Verdict   `json:"verdict"`
	Rationale     string    `json:"rationale"`
	EvidenceLinks []string  `json:"evidence_links"`
	Scores        Scores    `json:"scores"`
	Embedding     []float64 `json:"embedding,omitempty"`
	LatencyMs     int64     `json:"latency_ms"`
	ReceivedAt    time.Time `json:"received_at"`

	// Failed marks a slot that produced no usable verdict.
	Failed bool `json:"failed,omitempty"`

	// FailureReason names the error class when Failed is true.
	FailureReason string `json:"failure_reason,omitempty"`
}
