// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package aggregate turns persisted miner responses into per-claim and
// overall metrics with defined statistical meaning.
//
// Per claim: verdict mode and agreement (Proof-of-Inference), embedding
// dispersion, recomputed composite scores with a percentile bootstrap
// interval (Proof-of-Useful-Work), score-vector outlier detection, and a
// recommendation from a fixed decision table. Across claims: means,
// a flattened-composite bootstrap interval, and critical flag strings.
//
// The aggregator is pure: it reads a settled response snapshot and holds
// no state between runs. Reruns over the same snapshot with the same seed
// produce identical output.
package aggregate

import (
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"

	"github.com/AleutianAI/OracleFOSS/services/oracle/datatypes"
)

// =============================================================================
// Configuration
// =============================================================================

// Config parameterizes an aggregation run.
type Config struct {
	// Weights recompute every composite score. Zero value means defaults.
	Weights datatypes.ScoreWeights

	// BootstrapSeed makes resampling reproducible when non-nil.
	BootstrapSeed *int64

	// BootstrapResamples is B; zero means 1000.
	BootstrapResamples int

	// MinerQuorum marks aggregates below it as under-quorum.
	MinerQuorum int
}

func (c *Config) applyDefaults() {
	if c.Weights == (datatypes.ScoreWeights{}) {
		c.Weights = datatypes.DefaultScoreWeights()
	}
	if c.BootstrapResamples <= 0 {
		c.BootstrapResamples = defaultBootstrapResamples
	}
	if c.MinerQuorum <= 0 {
		c.MinerQuorum = datatypes.DefaultJobConfig().MinerQuorum
	}
}

// Aggregator computes claim and job level statistics.
type Aggregator struct {
	config Config
}

// New creates an aggregator.
func New(config Config) *Aggregator {
	config.applyDefaults()
	return &Aggregator{config: config}
}

// =============================================================================
// Per-Claim Aggregation
// =============================================================================

// AggregateClaim reduces one claim's response bucket.
//
// Failed skeleton responses contribute to nothing except the caller's
// coverage accounting; they are filtered here.
func (a *Aggregator) AggregateClaim(claim datatypes.Claim, responses []datatypes.MinerResponse) datatypes.ClaimAggregate {
	valid := make([]datatypes.MinerResponse, 0, len(responses))
	for _, r := range responses {
		if !r.Failed && datatypes.ValidVerdict(r.Verdict) {
			valid = append(valid, r)
		}
	}

	agg := datatypes.ClaimAggregate{
		ClaimID:        claim.ID,
		Text:           claim.Text,
		Outliers:       []string{},
		Responses:      len(valid),
		QuorumReached:  len(valid) >= a.config.MinerQuorum,
		WasRevalidated: true,
	}
	if len(valid) == 0 {
		return agg
	}

	// PoI: verdict mode and agreement.
	counts := map[datatypes.Verdict]int{}
	for _, r := range valid {
		counts[r.Verdict]++
	}
	var mode datatypes.Verdict
	best := -1
	for _, v := range datatypes.VerdictTieOrder {
		if counts[v] > best {
			mode, best = v, counts[v]
		}
	}
	agg.ModeVerdict = mode
	agg.PoIAgreement = float64(best) / float64(len(valid))

	// Embedding dispersion.
	embeddings := make([][]float64, 0, len(valid))
	for _, r := range valid {
		if len(r.Embedding) > 0 {
			embeddings = append(embeddings, r.Embedding)
		}
	}
	agg.EmbeddingDispersion = cosineDispersion(embeddings)

	// PoUW: recomputed composites, mean, bootstrap CI.
	composites := make([]float64, len(valid))
	for i, r := range valid {
		composites[i] = a.config.Weights.Composite(r.Scores)
	}
	agg.PoUWMean = mean(composites)
	agg.PoUWCI95 = bootstrapCI(composites, a.config.BootstrapResamples, a.claimRNG(claim.ID))

	// Outliers over the raw score vectors.
	rows := make([][4]float64, len(valid))
	for i, r := range valid {
		rows[i] = r.Scores.Vector()
	}
	for _, idx := range detectOutliers(rows) {
		agg.Outliers = append(agg.Outliers, valid[idx].MinerID)
	}
	sort.Strings(agg.Outliers)

	agg.FinalRecommendation = recommend(mode, agg.PoIAgreement, agg.PoUWMean)
	return agg
}

// Inherit carries an unchanged claim's prior aggregate forward into a new
// version's bundle under the claim's current id. Unchanged pairing is
// exact-text, so every other field stays valid as computed.
func Inherit(prev datatypes.ClaimAggregate, claim datatypes.Claim) datatypes.ClaimAggregate {
	prev.ClaimID = claim.ID
	prev.Text = claim.Text
	prev.WasRevalidated = false
	return prev
}

// recommend applies the fixed decision table.
func recommend(mode datatypes.Verdict, agreement, pouwMean float64) datatypes.Recommendation {
	switch {
	case mode == datatypes.VerdictRefuted:
		return datatypes.RecommendationDisputed
	case agreement >= 0.8 && pouwMean >= 0.75:
		return datatypes.RecommendationSupported
	case agreement < 0.5 || pouwMean < 0.5:
		return datatypes.RecommendationDisputed
	default:
		return datatypes.RecommendationWithCaution
	}
}

// =============================================================================
// Overall Aggregation
// =============================================================================

// Overall summarizes a job across claims: mean per-claim agreement, the
// mean of all recomputed composites flattened across claims, and a
// bootstrap interval over that flattened sample.
func (a *Aggregator) Overall(aggregates []datatypes.ClaimAggregate, buckets map[string][]datatypes.MinerResponse) (poi, pouw float64, ci [2]float64) {
	if len(aggregates) == 0 {
		return 0, 0, [2]float64{0, 0}
	}
	agreements := make([]float64, 0, len(aggregates))
	var flattened []float64
	for _, agg := range aggregates {
		agreements = append(agreements, agg.PoIAgreement)
		for _, r := range buckets[agg.ClaimID] {
			if !r.Failed && datatypes.ValidVerdict(r.Verdict) {
				flattened = append(flattened, a.config.Weights.Composite(r.Scores))
			}
		}
	}
	poi = mean(agreements)
	pouw = mean(flattened)
	ci = bootstrapCI(flattened, a.config.BootstrapResamples, a.claimRNG("overall"))
	return poi, pouw, ci
}

// =============================================================================
// Critical Flags
// =============================================================================

// CriticalFlags emits one string per notable condition: disputed claims,
// flagged outlier miners, weak agreement, refuting miners that supplied
// evidence, and claims that never reached quorum.
func (a *Aggregator) CriticalFlags(aggregates []datatypes.ClaimAggregate, buckets map[string][]datatypes.MinerResponse) []string {
	flags := []string{}
	for _, agg := range aggregates {
		if agg.FinalRecommendation == datatypes.RecommendationDisputed {
			flags = append(flags, fmt.Sprintf("claim %s: disputed", agg.ClaimID))
		}
		for _, minerID := range agg.Outliers {
			flags = append(flags, fmt.Sprintf("claim %s: outlier miner %s", agg.ClaimID, minerID))
		}
		if agg.PoIAgreement > 0 && agg.PoIAgreement < 0.6 {
			flags = append(flags, fmt.Sprintf("claim %s: low agreement %.2f", agg.ClaimID, agg.PoIAgreement))
		}
		for _, r := range buckets[agg.ClaimID] {
			if !r.Failed && r.Verdict == datatypes.VerdictRefuted && len(r.EvidenceLinks) > 0 {
				flags = append(flags, fmt.Sprintf("claim %s: refuting miner %s supplied evidence", agg.ClaimID, r.MinerID))
			}
		}
		if !agg.QuorumReached {
			flags = append(flags, fmt.Sprintf("claim %s: quorum not reached (%d/%d responses)",
				agg.ClaimID, agg.Responses, a.config.MinerQuorum))
		}
	}
	return flags
}

// claimRNG derives a per-claim rng from the job seed so aggregation order
// cannot change a claim's interval. Nil seed means non-reproducible.
func (a *Aggregator) claimRNG(claimID string) *rand.Rand {
	if a.config.BootstrapSeed == nil {
		return nil
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(claimID))
	return rand.New(rand.NewSource(*a.config.BootstrapSeed ^ int64(h.Sum64())))
}
