// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/AleutianAI/OracleFOSS/services/oracle/datatypes"
	badgerstore "github.com/AleutianAI/OracleFOSS/services/oracle/store/badger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s, err := New(t.TempDir(), db, nil)
	require.NoError(t, err)
	return s
}

func TestNew_CreatesLayout(t *testing.T) {
	s := testStore(t)
	for _, sub := range []string{"claims", "jobs", "responses", "evidence"} {
		info, err := os.Stat(filepath.Join(s.Root(), sub))
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestProposalRoundtrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	version := datatypes.ProposalVersion{
		ProposalID:    "p1",
		VersionNumber: 1,
		ProposalHash:  "sha256:abc123",
		CanonicalText: "Treasury holds 500,000 USDC.",
		Claims:        []datatypes.Claim{{ID: "c1", Text: "Treasury holds 500,000 USDC."}},
	}
	require.NoError(t, s.SaveProposal(ctx, version))

	loaded, err := s.Proposal(ctx, "sha256:abc123")
	require.NoError(t, err)
	assert.Equal(t, version, loaded)

	// The file name carries the bare hex, not the algorithm prefix.
	_, err = os.Stat(filepath.Join(s.Root(), "claims", "abc123.json"))
	assert.NoError(t, err)

	_, err = s.Proposal(ctx, "sha256:missing")
	assert.ErrorIs(t, err, datatypes.ErrNotFound)
}

func TestJobRoundtripAndListing(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		state := datatypes.JobState{
			JobID:        fmt.Sprintf("job-%d", i),
			ProposalHash: "sha256:abc",
			Status:       datatypes.JobQueued,
			Config:       datatypes.DefaultJobConfig(),
		}
		require.NoError(t, s.SaveJob(ctx, state))
	}

	loaded, err := s.Job(ctx, "job-2")
	require.NoError(t, err)
	assert.Equal(t, datatypes.JobQueued, loaded.Status)

	jobs, err := s.ListJobs(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 3)

	// Updates replace the index entry rather than duplicating it.
	updated := loaded
	updated.Status = datatypes.JobRunning
	require.NoError(t, s.SaveJob(ctx, updated))
	jobs, err = s.ListJobs(ctx)
	require.NoError(t, err)
	assert.Len(t, jobs, 3)

	_, err = s.Job(ctx, "missing")
	assert.ErrorIs(t, err, datatypes.ErrNotFound)
}

func TestAppendResponses_OrderAndBuckets(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	batch := []datatypes.MinerResponse{
		{MinerID: "m1", ClaimID: "c1", Verdict: datatypes.VerdictVerified},
		{MinerID: "m2", ClaimID: "c1", Verdict: datatypes.VerdictRefuted},
		{MinerID: "m1", ClaimID: "c2", Verdict: datatypes.VerdictPartial},
	}
	require.NoError(t, s.AppendResponses(ctx, "job-1", batch[:2]))
	require.NoError(t, s.AppendResponses(ctx, "job-1", batch[2:]))

	responses, err := s.Responses(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, responses, 3)
	assert.Equal(t, "m1", responses[0].MinerID)
	assert.Equal(t, "m2", responses[1].MinerID)

	buckets, err := s.Buckets(ctx, "job-1")
	require.NoError(t, err)
	assert.Len(t, buckets["c1"], 2)
	assert.Len(t, buckets["c2"], 1)

	// Unknown job reads as an empty bucket, not an error.
	responses, err = s.Responses(ctx, "no-such-job")
	require.NoError(t, err)
	assert.Empty(t, responses)
}

func TestAppendResponses_DroppedAfterCancellation(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	require.NoError(t, s.AppendResponses(ctx, "job-1", []datatypes.MinerResponse{
		{MinerID: "m1", ClaimID: "c1", Verdict: datatypes.VerdictVerified},
	}))
	s.MarkCancelled("job-1")
	require.NoError(t, s.AppendResponses(ctx, "job-1", []datatypes.MinerResponse{
		{MinerID: "m2", ClaimID: "c1", Verdict: datatypes.VerdictVerified},
	}))

	responses, err := s.Responses(ctx, "job-1")
	require.NoError(t, err)
	assert.Len(t, responses, 1)
	assert.Equal(t, "m1", responses[0].MinerID)
}

func TestAppendResponses_ConcurrentWritersLoseNothing(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	const writers = 8
	const perWriter = 25
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_ = s.AppendResponses(ctx, "job-1", []datatypes.MinerResponse{
					{MinerID: fmt.Sprintf("m%d-%d", w, i), ClaimID: "c1", Verdict: datatypes.VerdictVerified},
				})
			}
		}(w)
	}
	wg.Wait()

	responses, err := s.Responses(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, responses, writers*perWriter)

	seen := map[string]bool{}
	for _, r := range responses {
		assert.False(t, seen[r.MinerID], "duplicate response %s", r.MinerID)
		seen[r.MinerID] = true
	}
}

func TestEvidenceSealing(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	bundle := datatypes.EvidenceBundle{
		JobID:           "job-1",
		ProposalHash:    "sha256:abc",
		ComputationHash: "sha256:def",
	}
	require.NoError(t, s.SaveEvidence(ctx, "job-1", bundle))

	// Same hash again is a no-op.
	require.NoError(t, s.SaveEvidence(ctx, "job-1", bundle))

	// A different hash for a sealed job is an invariant violation.
	bundle.ComputationHash = "sha256:other"
	err := s.SaveEvidence(ctx, "job-1", bundle)
	assert.ErrorIs(t, err, datatypes.ErrInternal)

	loaded, err := s.Evidence(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "sha256:def", loaded.ComputationHash)

	_, err = s.Evidence(ctx, "missing")
	assert.ErrorIs(t, err, datatypes.ErrNotFound)
}

func TestEvidenceByProposal(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	_, err := s.EvidenceByProposal(ctx, "sha256:abc")
	assert.ErrorIs(t, err, datatypes.ErrNotFound)

	// Two jobs validated the same version; the later seal wins.
	for i, ts := range []string{"2026-08-30T10:00:00Z", "2026-08-30T11:00:00Z"} {
		jobID := fmt.Sprintf("job-%d", i+1)
		require.NoError(t, s.SaveJob(ctx, datatypes.JobState{
			JobID:        jobID,
			ProposalHash: "sha256:abc",
			Status:       datatypes.JobCompleted,
		}))
		require.NoError(t, s.SaveEvidence(ctx, jobID, datatypes.EvidenceBundle{
			JobID:           jobID,
			ProposalHash:    "sha256:abc",
			ComputationHash: "hash-" + jobID,
			Timestamp:       ts,
		}))
	}

	// A sealed job for another version never leaks in.
	require.NoError(t, s.SaveJob(ctx, datatypes.JobState{
		JobID:        "job-other",
		ProposalHash: "sha256:zzz",
		Status:       datatypes.JobCompleted,
	}))
	require.NoError(t, s.SaveEvidence(ctx, "job-other", datatypes.EvidenceBundle{
		JobID:           "job-other",
		ProposalHash:    "sha256:zzz",
		ComputationHash: "hash-other",
		Timestamp:       "2026-08-30T12:00:00Z",
	}))

	sealed, err := s.EvidenceByProposal(ctx, "sha256:abc")
	require.NoError(t, err)
	assert.Equal(t, "hash-job-2", sealed.ComputationHash)
}
