// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package bundle

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/AleutianAI/OracleFOSS/services/oracle/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func settledJob() datatypes.JobState {
	return datatypes.JobState{
		JobID:                "job-1",
		ProposalHash:         "sha256:abc",
		ProposalID:           "p1",
		VersionNumber:        2,
		Status:               datatypes.JobCompleted,
		Config:               datatypes.DefaultJobConfig(),
		ClaimIDs:             []string{"c1", "c2"},
		ClaimsTotal:          2,
		ClaimsValidated:      2,
		MinersResponded:      10,
		ConfidenceAdjustment: 1,
	}
}

func testInput() Input {
	return Input{
		Job:   settledJob(),
		Scope: datatypes.ScopeSelective,
		Diff: &datatypes.ClaimDiff{
			Added:     []datatypes.DiffEntry{{ClaimID: "c2", Text: "added claim"}},
			Removed:   []datatypes.DiffEntry{},
			Modified:  []datatypes.DiffEntry{{ClaimID: "c1", Text: "modified claim"}},
			Unchanged: []datatypes.DiffEntry{},
		},
		Aggregates: []datatypes.ClaimAggregate{
			{
				ClaimID:             "c1",
				Text:                "modified claim",
				PoIAgreement:        0.8,
				ModeVerdict:         datatypes.VerdictVerified,
				PoUWMean:            0.77,
				PoUWCI95:            [2]float64{0.71, 0.84},
				Outliers:            []string{},
				FinalRecommendation: datatypes.RecommendationSupported,
				Responses:           5,
				QuorumReached:       true,
				WasRevalidated:      true,
			},
		},
		OverallPoI:  0.8,
		OverallPoUW: 0.77,
		OverallCI:   [2]float64{0.71, 0.84},
		Flags:       []string{},
	}
}

// =============================================================================
// Canonical JSON
// =============================================================================

func TestCanonicalJSON_SortsKeysAndStripsWhitespace(t *testing.T) {
	type inner struct {
		Zed   int `json:"zed"`
		Alpha int `json:"alpha"`
	}
	type outer struct {
		B inner `json:"b"`
		A int   `json:"a"`
	}
	out, err := CanonicalJSON(outer{B: inner{Zed: 1, Alpha: 2}, A: 3})
	require.NoError(t, err)
	assert.Equal(t, `{"a":3,"b":{"alpha":2,"zed":1}}`, string(out))
}

func TestCanonicalJSON_NumberForms(t *testing.T) {
	out, err := CanonicalJSON(map[string]float64{
		"whole":    1500000,
		"fraction": 0.1,
		"tiny":     0.123456789,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"fraction":0.1,"tiny":0.123456789,"whole":1500000}`, string(out))
}

func TestCanonicalJSON_Deterministic(t *testing.T) {
	in := testInput()
	a, err := CanonicalJSON(in)
	require.NoError(t, err)
	b, err := CanonicalJSON(in)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

// =============================================================================
// Build & Hash
// =============================================================================

func TestBuild_SealsBundle(t *testing.T) {
	b, err := Build(testInput())
	require.NoError(t, err)
	assert.Len(t, b.ComputationHash, 64)
	assert.Equal(t, datatypes.ReplayVersion, b.ReplayVersion)
	assert.Equal(t, datatypes.JobCompleted, b.JobStatus)
	assert.Equal(t, []string{"c1", "c2"}, b.RevalidatedClaims)
	assert.Equal(t, 10, b.MinersRequested)
	assert.NotEmpty(t, b.Timestamp)
}

func TestBuild_RejectsUnsettledJob(t *testing.T) {
	in := testInput()
	in.Job.Status = datatypes.JobRunning
	_, err := Build(in)
	assert.ErrorIs(t, err, datatypes.ErrInternal)
}

func TestHash_IgnoresExcludedFields(t *testing.T) {
	b, err := Build(testInput())
	require.NoError(t, err)

	signed := b
	signed.Signature = "sig-bytes"
	signed.ComputationHash = "not-the-hash"

	h1, err := Hash(b)
	require.NoError(t, err)
	h2, err := Hash(signed)
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Equal(t, b.ComputationHash, h1)
}

// =============================================================================
// Replay Verification
// =============================================================================

func TestVerify_ReplaysSealedBundle(t *testing.T) {
	b, err := Build(testInput())
	require.NoError(t, err)
	raw, err := json.Marshal(b)
	require.NoError(t, err)

	result, err := Verify(raw)
	require.NoError(t, err)
	assert.True(t, result.OK)
	assert.Equal(t, result.ExpectedHash, result.ComputedHash)
}

func TestVerify_DetectsTampering(t *testing.T) {
	b, err := Build(testInput())
	require.NoError(t, err)
	b.OverallPoUWScore = 0.99 // post-seal edit
	raw, err := json.Marshal(b)
	require.NoError(t, err)

	result, err := Verify(raw)
	assert.ErrorIs(t, err, datatypes.ErrVerification)
	assert.False(t, result.OK)
	assert.NotEqual(t, result.ExpectedHash, result.ComputedHash)
	require.Len(t, result.Errors, 1)
}

func TestVerify_MalformedInput(t *testing.T) {
	result, err := Verify([]byte(`{"job_id": `))
	assert.ErrorIs(t, err, datatypes.ErrParse)
	assert.False(t, result.OK)

	// Parseable JSON without a hash is malformed, not a mismatch.
	result, err = Verify([]byte(`{"job_id": "job-1"}`))
	assert.ErrorIs(t, err, datatypes.ErrParse)
	assert.False(t, result.OK)
}

func TestVerify_PartialBundleStillVerifies(t *testing.T) {
	in := testInput()
	in.Job.Status = datatypes.JobPartial
	in.Job.ConfidenceAdjustment = 0.6
	in.Flags = []string{"claim c2: quorum not reached (2/3 responses)"}

	b, err := Build(in)
	require.NoError(t, err)
	result, err := VerifyBundle(b)
	require.NoError(t, err)
	assert.True(t, result.OK)
}

// =============================================================================
// Publisher
// =============================================================================

func TestFilesystemPublisher_IdempotentOnHash(t *testing.T) {
	dir := t.TempDir()
	p := &FilesystemPublisher{Dir: dir}
	ctx := context.Background()

	b, err := Build(testInput())
	require.NoError(t, err)

	first, err := p.Publish(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, b.ComputationHash, first.CID)

	path := filepath.Join(dir, b.ComputationHash+".json")
	info, err := os.Stat(path)
	require.NoError(t, err)

	again, err := p.Publish(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	infoAfter, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, info.ModTime(), infoAfter.ModTime())

	// Published file round-trips through offline verification.
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	result, err := Verify(raw)
	require.NoError(t, err)
	assert.True(t, result.OK)
}

func TestFilesystemPublisher_RejectsUnsealed(t *testing.T) {
	p := &FilesystemPublisher{Dir: t.TempDir()}
	_, err := p.Publish(context.Background(), datatypes.EvidenceBundle{JobID: "job-1"})
	assert.ErrorIs(t, err, datatypes.ErrInvalidInput)
}
