// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

// Recommendation is the per-claim synthesis of PoI and PoUW evidence.
type Recommendation string

const (
	RecommendationSupported   Recommendation = "supported"
	RecommendationWithCaution Recommendation = "supported_with_caution"
	RecommendationDisputed    Recommendation = "disputed"
)

// ClaimAggregate is the per-claim result produced by the aggregator.
type ClaimAggregate struct {
	ClaimID string `json:"claim_id"`

	// Text is the claim sentence carried into the bundle.
	Text string `json:"text"`

	// PoIAgreement is the mode verdict frequency in [0,1].
	PoIAgreement float64 `json:"poi_agreement"`

	// ModeVerdict is the most frequent verdict, frequency ties broken by
	// VerdictTieOrder.
	ModeVerdict Verdict `json:"mode_verdict"`

	// EmbeddingDispersion is the mean pairwise cosine distance in [0,2];
	// 0 when fewer than two embeddings were supplied.
	EmbeddingDispersion float64 `json:"embedding_dispersion"`

	// PoUWMean is the mean recomputed composite score in [0,1].
	PoUWMean float64 `json:"pouw_mean"`

	// PoUWCI95 is the [p2.5, p97.5] percentile bootstrap interval of the
	// composite mean.
	PoUWCI95 [2]float64 `json:"pouw_ci_95"`

	// Outliers lists miner ids flagged by score-vector outlier detection.
	Outliers []string `json:"outliers"`

	// FinalRecommendation is computed by the decision table.
	FinalRecommendation Recommendation `json:"final_recommendation"`

	// Responses is the number of non-failed responses aggregated.
	Responses int `json:"responses"`

	// QuorumReached records whether the claim settled at or above quorum.
	QuorumReached bool `json:"quorum_reached"`

	// WasRevalidated is false when the aggregate was inherited from a
	// prior version through the revalidation state machine.
	WasRevalidated bool `json:"was_revalidated"`
}
