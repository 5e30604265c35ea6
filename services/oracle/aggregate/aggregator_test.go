// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package aggregate

import (
	"fmt"
	"testing"

	"github.com/AleutianAI/OracleFOSS/services/oracle/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClaim() datatypes.Claim {
	return datatypes.Claim{ID: "c1", Text: "Treasury holds 500,000 USDC."}
}

func response(minerID string, verdict datatypes.Verdict, score float64) datatypes.MinerResponse {
	return datatypes.MinerResponse{
		MinerID: minerID,
		ClaimID: "c1",
		Verdict: verdict,
		Scores: datatypes.Scores{
			Accuracy:            score,
			OmissionRisk:        score,
			EvidenceQuality:     score,
			GovernanceRelevance: score,
		},
	}
}

func seedPtr(v int64) *int64 { return &v }

// =============================================================================
// PoI
// =============================================================================

func TestAggregateClaim_ModeAndAgreement(t *testing.T) {
	agg := New(Config{}).AggregateClaim(testClaim(), []datatypes.MinerResponse{
		response("m1", datatypes.VerdictVerified, 0.8),
		response("m2", datatypes.VerdictVerified, 0.8),
		response("m3", datatypes.VerdictVerified, 0.8),
		response("m4", datatypes.VerdictRefuted, 0.3),
		response("m5", datatypes.VerdictPartial, 0.6),
	})
	assert.Equal(t, datatypes.VerdictVerified, agg.ModeVerdict)
	assert.InDelta(t, 0.6, agg.PoIAgreement, 1e-12)
	assert.Equal(t, 5, agg.Responses)
	assert.True(t, agg.QuorumReached)
}

func TestAggregateClaim_VerdictTieBreak(t *testing.T) {
	// refuted and partial tie at 2; partial precedes refuted in the
	// fixed tie order.
	agg := New(Config{}).AggregateClaim(testClaim(), []datatypes.MinerResponse{
		response("m1", datatypes.VerdictRefuted, 0.3),
		response("m2", datatypes.VerdictRefuted, 0.3),
		response("m3", datatypes.VerdictPartial, 0.6),
		response("m4", datatypes.VerdictPartial, 0.6),
	})
	assert.Equal(t, datatypes.VerdictPartial, agg.ModeVerdict)
}

func TestAggregateClaim_FailedSkeletonsExcluded(t *testing.T) {
	agg := New(Config{MinerQuorum: 3}).AggregateClaim(testClaim(), []datatypes.MinerResponse{
		response("m1", datatypes.VerdictVerified, 0.8),
		response("m2", datatypes.VerdictVerified, 0.8),
		{MinerID: "m3", ClaimID: "c1", Failed: true, FailureReason: "timeout"},
	})
	assert.Equal(t, 2, agg.Responses)
	assert.False(t, agg.QuorumReached)
	assert.InDelta(t, 1.0, agg.PoIAgreement, 1e-12)
}

// =============================================================================
// Embedding Dispersion (S4)
// =============================================================================

func TestDispersion_IdenticalEmbeddings(t *testing.T) {
	e := []float64{0.5, 0.5, 0.5, 0.5}
	embeddings := [][]float64{e, e, e, e, e}
	assert.InDelta(t, 0.0, cosineDispersion(embeddings), 1e-12)
}

func TestDispersion_OrthogonalEmbeddings(t *testing.T) {
	embeddings := make([][]float64, 5)
	for i := range embeddings {
		v := make([]float64, 5)
		v[i] = 1
		embeddings[i] = v
	}
	assert.InDelta(t, 1.0, cosineDispersion(embeddings), 1e-12)
}

func TestDispersion_FewerThanTwo(t *testing.T) {
	assert.Equal(t, 0.0, cosineDispersion(nil))
	assert.Equal(t, 0.0, cosineDispersion([][]float64{{1, 0}}))
}

func TestDispersion_MixedDimensionsUseModal(t *testing.T) {
	embeddings := [][]float64{
		{1, 0}, {1, 0}, {0, 1},
		{1, 0, 0, 0}, // minority dimension, excluded
	}
	// pairs among the three 2-d vectors: (0,0,1) distances -> mean 2/3
	assert.InDelta(t, 2.0/3.0, cosineDispersion(embeddings), 1e-12)
}

// =============================================================================
// Bootstrap CI
// =============================================================================

func TestBootstrapCI_NoVarianceCollapses(t *testing.T) {
	agg := New(Config{BootstrapSeed: seedPtr(42)}).AggregateClaim(testClaim(), []datatypes.MinerResponse{
		response("m1", datatypes.VerdictVerified, 0.7),
		response("m2", datatypes.VerdictVerified, 0.7),
		response("m3", datatypes.VerdictVerified, 0.7),
	})
	assert.InDelta(t, 0.7, agg.PoUWCI95[0], 1e-12)
	assert.InDelta(t, 0.7, agg.PoUWCI95[1], 1e-12)
}

func TestBootstrapCI_SingleObservation(t *testing.T) {
	ci := bootstrapCI([]float64{0.42}, 1000, nil)
	assert.Equal(t, [2]float64{0.42, 0.42}, ci)
}

func TestBootstrapCI_SeededReproducible(t *testing.T) {
	responses := []datatypes.MinerResponse{
		response("m1", datatypes.VerdictVerified, 0.9),
		response("m2", datatypes.VerdictVerified, 0.6),
		response("m3", datatypes.VerdictVerified, 0.8),
		response("m4", datatypes.VerdictVerified, 0.5),
	}
	a := New(Config{BootstrapSeed: seedPtr(42)}).AggregateClaim(testClaim(), responses)
	b := New(Config{BootstrapSeed: seedPtr(42)}).AggregateClaim(testClaim(), responses)
	assert.Equal(t, a.PoUWCI95, b.PoUWCI95)

	lo, hi := a.PoUWCI95[0], a.PoUWCI95[1]
	assert.Less(t, lo, hi)
	assert.GreaterOrEqual(t, lo, 0.5)
	assert.LessOrEqual(t, hi, 0.9)
}

// =============================================================================
// Outliers (S5)
// =============================================================================

func scoredResponse(minerID string, v [4]float64) datatypes.MinerResponse {
	return datatypes.MinerResponse{
		MinerID: minerID,
		ClaimID: "c1",
		Verdict: datatypes.VerdictVerified,
		Scores: datatypes.Scores{
			Accuracy:            v[0],
			OmissionRisk:        v[1],
			EvidenceQuality:     v[2],
			GovernanceRelevance: v[3],
		},
	}
}

func TestOutliers_MahalanobisFlagsInjectedOutlier(t *testing.T) {
	agg := New(Config{}).AggregateClaim(testClaim(), []datatypes.MinerResponse{
		scoredResponse("m1", [4]float64{0.9, 0.1, 0.9, 0.9}),
		scoredResponse("m2", [4]float64{0.9, 0.1, 0.9, 0.9}),
		scoredResponse("m3", [4]float64{0.9, 0.1, 0.9, 0.9}),
		scoredResponse("m4", [4]float64{0.9, 0.1, 0.9, 0.9}),
		scoredResponse("m5", [4]float64{0.1, 0.9, 0.1, 0.1}),
	})
	assert.Equal(t, []string{"m5"}, agg.Outliers)
}

func TestOutliers_SmallSampleConservative(t *testing.T) {
	// With n <= 4 the fallback uses sample z-scores, whose magnitude is
	// bounded by (n-1)/sqrt(n) = 1.5 < 2.0, so small samples never flag.
	rows := [][4]float64{
		{0.8, 0.8, 0.8, 0.8},
		{0.82, 0.8, 0.8, 0.8},
		{0.78, 0.8, 0.8, 0.8},
		{0.1, 0.8, 0.8, 0.8},
	}
	assert.Empty(t, detectOutliers(rows))
}

func TestOutliers_TooFewRows(t *testing.T) {
	assert.Nil(t, detectOutliers([][4]float64{{0.9, 0.9, 0.9, 0.9}, {0.1, 0.1, 0.1, 0.1}}))
}

func TestOutliers_NoFalsePositiveOnUniformRows(t *testing.T) {
	rows := make([][4]float64, 6)
	for i := range rows {
		rows[i] = [4]float64{0.8, 0.7, 0.8, 0.7}
	}
	assert.Empty(t, detectOutliers(rows))
}

// Smoke property: adding an aligned response keeps the injected outlier
// flagged.
func TestOutliers_MonotonicityUnderAlignedAddition(t *testing.T) {
	base := []datatypes.MinerResponse{
		scoredResponse("m1", [4]float64{0.9, 0.1, 0.9, 0.9}),
		scoredResponse("m2", [4]float64{0.9, 0.1, 0.9, 0.9}),
		scoredResponse("m3", [4]float64{0.9, 0.1, 0.9, 0.9}),
		scoredResponse("m4", [4]float64{0.9, 0.1, 0.9, 0.9}),
		scoredResponse("m5", [4]float64{0.1, 0.9, 0.1, 0.1}),
	}
	agg := New(Config{}).AggregateClaim(testClaim(), base)
	require.Contains(t, agg.Outliers, "m5")

	grown := append(base, scoredResponse("m6", [4]float64{0.9, 0.1, 0.9, 0.9}))
	agg = New(Config{}).AggregateClaim(testClaim(), grown)
	assert.Contains(t, agg.Outliers, "m5")
}

// =============================================================================
// Matrix Inversion
// =============================================================================

func TestInvert4_Identity(t *testing.T) {
	var eye [4][4]float64
	for i := range eye {
		eye[i][i] = 1
	}
	inv, ok := invert4(eye)
	require.True(t, ok)
	assert.Equal(t, eye, inv)
}

func TestPseudoInverse4_SingularMatrix(t *testing.T) {
	// rank-1 symmetric matrix: pinv(A) satisfies A * pinv(A) * A == A
	var m [4][4]float64
	u := [4]float64{1, 2, 0, -1}
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			m[i][j] = u[i] * u[j]
		}
	}
	_, ok := invert4(m)
	require.False(t, ok)

	pinv := pseudoInverse4(m)
	// A * A+ * A
	prod := mul4(mul4(m, pinv), m)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			assert.InDelta(t, m[i][j], prod[i][j], 1e-8)
		}
	}
}

func mul4(a, b [4][4]float64) [4][4]float64 {
	var out [4][4]float64
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			for k := 0; k < 4; k++ {
				out[i][j] += a[i][k] * b[k][j]
			}
		}
	}
	return out
}

// =============================================================================
// Recommendation Table
// =============================================================================

func TestRecommend_DecisionTable(t *testing.T) {
	tests := []struct {
		mode      datatypes.Verdict
		agreement float64
		pouw      float64
		want      datatypes.Recommendation
	}{
		{datatypes.VerdictRefuted, 1.0, 0.9, datatypes.RecommendationDisputed},
		{datatypes.VerdictVerified, 0.8, 0.75, datatypes.RecommendationSupported},
		{datatypes.VerdictVerified, 0.9, 0.9, datatypes.RecommendationSupported},
		{datatypes.VerdictVerified, 0.4, 0.9, datatypes.RecommendationDisputed},
		{datatypes.VerdictVerified, 0.9, 0.4, datatypes.RecommendationDisputed},
		{datatypes.VerdictVerified, 0.6, 0.6, datatypes.RecommendationWithCaution},
		{datatypes.VerdictPartial, 0.7, 0.8, datatypes.RecommendationWithCaution},
	}
	for _, tt := range tests {
		got := recommend(tt.mode, tt.agreement, tt.pouw)
		assert.Equal(t, tt.want, got,
			"mode=%s agreement=%.2f pouw=%.2f", tt.mode, tt.agreement, tt.pouw)
	}
}

func TestRecommendationTotality(t *testing.T) {
	agg := New(Config{}).AggregateClaim(testClaim(), []datatypes.MinerResponse{
		response("m1", datatypes.VerdictUnverifiable, 0.5),
	})
	assert.Contains(t, []datatypes.Recommendation{
		datatypes.RecommendationSupported,
		datatypes.RecommendationWithCaution,
		datatypes.RecommendationDisputed,
	}, agg.FinalRecommendation)
}

// =============================================================================
// Overall & Flags
// =============================================================================

func TestOverall(t *testing.T) {
	a := New(Config{BootstrapSeed: seedPtr(7)})
	claims := []datatypes.Claim{
		{ID: "c1", Text: "one"},
		{ID: "c2", Text: "two"},
	}
	buckets := map[string][]datatypes.MinerResponse{
		"c1": {
			response("m1", datatypes.VerdictVerified, 0.8),
			response("m2", datatypes.VerdictVerified, 0.8),
			response("m3", datatypes.VerdictVerified, 0.8),
		},
		"c2": {
			response("m1", datatypes.VerdictRefuted, 0.2),
			response("m2", datatypes.VerdictRefuted, 0.2),
			response("m3", datatypes.VerdictVerified, 0.8),
		},
	}
	var aggs []datatypes.ClaimAggregate
	for _, c := range claims {
		b := buckets[c.ID]
		aggs = append(aggs, a.AggregateClaim(c, b))
	}
	poi, pouw, ci := a.Overall(aggs, buckets)
	assert.InDelta(t, (1.0+2.0/3.0)/2, poi, 1e-12)
	assert.InDelta(t, (0.8*4+0.2*2)/6, pouw, 1e-12)
	assert.LessOrEqual(t, ci[0], pouw)
	assert.GreaterOrEqual(t, ci[1], pouw)
}

func TestCriticalFlags(t *testing.T) {
	a := New(Config{MinerQuorum: 3})
	refuting := response("m2", datatypes.VerdictRefuted, 0.2)
	refuting.EvidenceLinks = []string{"https://evidence.test/a"}

	buckets := map[string][]datatypes.MinerResponse{
		"c1": {
			response("m1", datatypes.VerdictRefuted, 0.2),
			refuting,
		},
	}
	agg := a.AggregateClaim(datatypes.Claim{ID: "c1", Text: "x"}, buckets["c1"])
	flags := a.CriticalFlags([]datatypes.ClaimAggregate{agg}, buckets)

	assert.Contains(t, flags, "claim c1: disputed")
	assert.Contains(t, flags, "claim c1: refuting miner m2 supplied evidence")
	assert.Contains(t, flags, "claim c1: quorum not reached (2/3 responses)")
}

func TestCriticalFlags_LowAgreement(t *testing.T) {
	a := New(Config{MinerQuorum: 3})
	buckets := map[string][]datatypes.MinerResponse{
		"c1": {
			response("m1", datatypes.VerdictVerified, 0.8),
			response("m2", datatypes.VerdictPartial, 0.8),
			response("m3", datatypes.VerdictUnverifiable, 0.8),
			response("m4", datatypes.VerdictVerified, 0.8),
			response("m5", datatypes.VerdictRefuted, 0.8),
		},
	}
	agg := a.AggregateClaim(datatypes.Claim{ID: "c1", Text: "x"}, buckets["c1"])
	require.InDelta(t, 0.4, agg.PoIAgreement, 1e-12)
	flags := a.CriticalFlags([]datatypes.ClaimAggregate{agg}, buckets)
	assert.Contains(t, flags, "claim c1: low agreement 0.40")
}

// =============================================================================
// Composite Recompute
// =============================================================================

func TestAggregateClaim_RecomputesComposite(t *testing.T) {
	// The miner lies about its composite; aggregation must ignore it.
	r := response("m1", datatypes.VerdictVerified, 0.5)
	r.Scores.Composite = 0.99
	agg := New(Config{}).AggregateClaim(testClaim(), []datatypes.MinerResponse{r})
	assert.InDelta(t, 0.5, agg.PoUWMean, 1e-12)
}

func TestAggregatorPureAcrossRuns(t *testing.T) {
	responses := make([]datatypes.MinerResponse, 7)
	for i := range responses {
		responses[i] = response(fmt.Sprintf("m%d", i+1), datatypes.VerdictVerified, 0.5+float64(i)*0.05)
	}
	a := New(Config{BootstrapSeed: seedPtr(99)})
	first := a.AggregateClaim(testClaim(), responses)
	second := a.AggregateClaim(testClaim(), responses)
	assert.Equal(t, first, second)
}
