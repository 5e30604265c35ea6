// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/OracleFOSS/services/oracle/bundle"
	"github.com/AleutianAI/OracleFOSS/services/oracle/canonical"
	"github.com/AleutianAI/OracleFOSS/services/oracle/datatypes"
	"github.com/AleutianAI/OracleFOSS/services/oracle/gateway"
	"github.com/AleutianAI/OracleFOSS/services/oracle/orchestrator"
	"github.com/AleutianAI/OracleFOSS/services/oracle/store"
	badgerstore "github.com/AleutianAI/OracleFOSS/services/oracle/store/badger"
	"github.com/AleutianAI/OracleFOSS/services/oracle/versiongraph"
)

const proposalText = `# Grant Proposal

The project will deliver 500 units by March 2026. The total budget is
120000 USD. The team operates a validator at 0x1a2b3c4d5e6f7a8b.`

const proposalTextV2 = `# Grant Proposal

The project will deliver 750 units by March 2026. The total budget is
120000 USD. The team operates a validator at 0x1a2b3c4d5e6f7a8b.`

func seedPtr(v int64) *int64 { return &v }

func newTestServer(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	st, err := store.New(t.TempDir(), db, nil)
	require.NoError(t, err)

	gw := gateway.NewMockGateway(7)
	h := New(Handlers{
		Extractor:    canonical.NewExtractor(nil, nil),
		Graph:        versiongraph.New(db, nil),
		Store:        st,
		Orchestrator: orchestrator.New(gw, st, nil),
		Gateway:      gw,
		Publisher:    &bundle.FilesystemPublisher{Dir: t.TempDir()},
		Defaults: datatypes.JobConfig{
			MinerCount:    5,
			MinerQuorum:   3,
			MinerTimeout:  5 * time.Second,
			MaxRetries:    1,
			BootstrapSeed: seedPtr(7),
		},
	})

	r := gin.New()
	RegisterRoutes(r.Group("/v1"), h)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body: %s", w.Body.String())
	return out
}

func ingest(t *testing.T, r *gin.Engine, text, previousID string) datatypes.IngestResponse {
	t.Helper()
	w := doJSON(t, r, http.MethodPost, "/v1/proposals", datatypes.IngestRequest{
		Text:               text,
		PreviousProposalID: previousID,
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode[datatypes.IngestResponse](t, w)
}

func awaitTerminal(t *testing.T, r *gin.Engine, jobID string) datatypes.StatusResponse {
	t.Helper()
	var status datatypes.StatusResponse
	require.Eventually(t, func() bool {
		w := doJSON(t, r, http.MethodGet, "/v1/jobs/"+jobID, nil)
		if w.Code != http.StatusOK {
			return false
		}
		status = decode[datatypes.StatusResponse](t, w)
		return status.Status.Terminal()
	}, 30*time.Second, 20*time.Millisecond)
	return status
}

// =============================================================================
// Ingest
// =============================================================================

func TestIngest_RegistersFirstVersion(t *testing.T) {
	r := newTestServer(t)

	resp := ingest(t, r, proposalText, "")
	assert.NotEmpty(t, resp.ProposalID)
	assert.Equal(t, 1, resp.VersionNumber)
	assert.NotEmpty(t, resp.ProposalHash)
	assert.Empty(t, resp.PreviousHash)
	assert.Nil(t, resp.ClaimDiff)
	require.NotEmpty(t, resp.Claims)
	assert.Equal(t, "c1", resp.Claims[0].ID)
}

func TestIngest_Idempotent(t *testing.T) {
	r := newTestServer(t)

	first := ingest(t, r, proposalText, "")
	second := ingest(t, r, proposalText, "")

	assert.Equal(t, first.ProposalID, second.ProposalID)
	assert.Equal(t, first.ProposalHash, second.ProposalHash)
	assert.Equal(t, first.VersionNumber, second.VersionNumber)
}

func TestIngest_SecondVersionCarriesDiff(t *testing.T) {
	r := newTestServer(t)

	v1 := ingest(t, r, proposalText, "")
	v2 := ingest(t, r, proposalTextV2, v1.ProposalID)

	assert.Equal(t, v1.ProposalID, v2.ProposalID)
	assert.Equal(t, 2, v2.VersionNumber)
	assert.Equal(t, v1.ProposalHash, v2.PreviousHash)
	require.NotNil(t, v2.ClaimDiff)
	assert.NotEmpty(t, v2.ClaimDiff.Modified)
	assert.NotEmpty(t, v2.ClaimDiff.Unchanged)
}

func TestIngest_Rejections(t *testing.T) {
	r := newTestServer(t)

	w := doJSON(t, r, http.MethodPost, "/v1/proposals", datatypes.IngestRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_input")

	w = doJSON(t, r, http.MethodPost, "/v1/proposals", datatypes.IngestRequest{Text: "   \n\n  "})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetProposal(t *testing.T) {
	r := newTestServer(t)
	resp := ingest(t, r, proposalText, "")

	w := doJSON(t, r, http.MethodGet, "/v1/proposals/"+resp.ProposalHash, nil)
	require.Equal(t, http.StatusOK, w.Code)
	version := decode[datatypes.ProposalVersion](t, w)
	assert.Equal(t, resp.ProposalID, version.ProposalID)

	w = doJSON(t, r, http.MethodGet, "/v1/proposals/sha256:beef", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "not_found")
}

// =============================================================================
// Jobs
// =============================================================================

func TestValidate_FullLifecycle(t *testing.T) {
	r := newTestServer(t)
	proposal := ingest(t, r, proposalText, "")

	w := doJSON(t, r, http.MethodPost, "/v1/jobs", datatypes.ValidateRequest{
		ProposalHash: proposal.ProposalHash,
	})
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())
	job := decode[datatypes.ValidateResponse](t, w)
	require.NotEmpty(t, job.JobID)

	status := awaitTerminal(t, r, job.JobID)
	assert.Equal(t, datatypes.JobCompleted, status.Status)
	assert.Equal(t, len(proposal.Claims), status.ClaimsTotal)
	assert.Equal(t, len(proposal.Claims), status.ClaimsValidated)
	assert.Equal(t, len(proposal.Claims)*5, status.MinersContacted)
}

func TestValidate_UnknownHash(t *testing.T) {
	r := newTestServer(t)
	w := doJSON(t, r, http.MethodPost, "/v1/jobs", datatypes.ValidateRequest{
		ProposalHash: "sha256:doesnotexist",
	})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestValidate_MissingHash(t *testing.T) {
	r := newTestServer(t)
	w := doJSON(t, r, http.MethodPost, "/v1/jobs", datatypes.ValidateRequest{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestValidate_SelectiveScopeOnEdit(t *testing.T) {
	r := newTestServer(t)
	v1 := ingest(t, r, proposalText, "")
	v2 := ingest(t, r, proposalTextV2, v1.ProposalID)

	w := doJSON(t, r, http.MethodPost, "/v1/jobs", datatypes.ValidateRequest{
		ProposalHash: v2.ProposalHash,
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	job := decode[datatypes.ValidateResponse](t, w)

	status := awaitTerminal(t, r, job.JobID)
	assert.Equal(t, datatypes.JobCompleted, status.Status)
	want := len(v2.ClaimDiff.Added) + len(v2.ClaimDiff.Modified)
	assert.Equal(t, want, status.ClaimsTotal)
}

func TestListJobs(t *testing.T) {
	r := newTestServer(t)
	proposal := ingest(t, r, proposalText, "")

	w := doJSON(t, r, http.MethodPost, "/v1/jobs", datatypes.ValidateRequest{
		ProposalHash: proposal.ProposalHash,
	})
	require.Equal(t, http.StatusAccepted, w.Code)
	job := decode[datatypes.ValidateResponse](t, w)
	awaitTerminal(t, r, job.JobID)

	w = doJSON(t, r, http.MethodGet, "/v1/jobs", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listing struct {
		Jobs []datatypes.JobSummary `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	require.Len(t, listing.Jobs, 1)
	assert.Equal(t, job.JobID, listing.Jobs[0].JobID)
}

// =============================================================================
// Aggregate, Evidence, Verify
// =============================================================================

func runJob(t *testing.T, r *gin.Engine, proposalHash string) string {
	t.Helper()
	w := doJSON(t, r, http.MethodPost, "/v1/jobs", datatypes.ValidateRequest{ProposalHash: proposalHash})
	require.Equal(t, http.StatusAccepted, w.Code)
	job := decode[datatypes.ValidateResponse](t, w)
	awaitTerminal(t, r, job.JobID)
	return job.JobID
}

func TestAggregate_SealsAndIsIdempotent(t *testing.T) {
	r := newTestServer(t)
	proposal := ingest(t, r, proposalText, "")
	jobID := runJob(t, r, proposal.ProposalHash)

	w := doJSON(t, r, http.MethodPost, "/v1/jobs/"+jobID+"/aggregate", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	sealed := decode[datatypes.EvidenceBundle](t, w)

	assert.Len(t, sealed.ComputationHash, 64)
	assert.Equal(t, datatypes.ScopeFull, sealed.ValidationScope)
	assert.Equal(t, proposal.ProposalHash, sealed.ProposalHash)
	assert.Len(t, sealed.Claims, len(proposal.Claims))
	assert.Equal(t, datatypes.JobCompleted, sealed.JobStatus)

	again := doJSON(t, r, http.MethodPost, "/v1/jobs/"+jobID+"/aggregate", nil)
	require.Equal(t, http.StatusOK, again.Code)
	resealed := decode[datatypes.EvidenceBundle](t, again)
	assert.Equal(t, sealed.ComputationHash, resealed.ComputationHash)
	assert.Equal(t, sealed.Timestamp, resealed.Timestamp)

	w = doJSON(t, r, http.MethodGet, "/v1/jobs/"+jobID+"/evidence", nil)
	require.Equal(t, http.StatusOK, w.Code)
	stored := decode[datatypes.EvidenceBundle](t, w)
	assert.Equal(t, sealed.ComputationHash, stored.ComputationHash)
}

func TestAggregate_SelectiveInheritsUnchangedClaims(t *testing.T) {
	r := newTestServer(t)
	v1 := ingest(t, r, proposalText, "")
	v1Job := runJob(t, r, v1.ProposalHash)

	w := doJSON(t, r, http.MethodPost, "/v1/jobs/"+v1Job+"/aggregate", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	v1Sealed := decode[datatypes.EvidenceBundle](t, w)
	priorByText := map[string]datatypes.ClaimAggregate{}
	for _, ca := range v1Sealed.Claims {
		priorByText[ca.Text] = ca
	}

	v2 := ingest(t, r, proposalTextV2, v1.ProposalID)
	v2Job := runJob(t, r, v2.ProposalHash)

	w = doJSON(t, r, http.MethodPost, "/v1/jobs/"+v2Job+"/aggregate", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	sealed := decode[datatypes.EvidenceBundle](t, w)

	assert.Equal(t, datatypes.ScopeSelective, sealed.ValidationScope)
	require.Len(t, sealed.Claims, len(v2.Claims))

	revalidated := map[string]bool{}
	for _, id := range sealed.RevalidatedClaims {
		revalidated[id] = true
	}
	var inheritedSeen int
	for _, ca := range sealed.Claims {
		if revalidated[ca.ClaimID] {
			assert.True(t, ca.WasRevalidated, "claim %s", ca.ClaimID)
			continue
		}
		inheritedSeen++
		assert.False(t, ca.WasRevalidated, "claim %s", ca.ClaimID)
		prior, ok := priorByText[ca.Text]
		require.True(t, ok, "claim %s has no v1 counterpart", ca.ClaimID)
		assert.Equal(t, prior.PoIAgreement, ca.PoIAgreement)
		assert.Equal(t, prior.Responses, ca.Responses)
		assert.Equal(t, prior.FinalRecommendation, ca.FinalRecommendation)
	}
	assert.Equal(t, len(v2.ClaimDiff.Unchanged), inheritedSeen)
}

func TestAggregate_SelectiveWithoutPriorEvidence(t *testing.T) {
	r := newTestServer(t)
	v1 := ingest(t, r, proposalText, "")
	v2 := ingest(t, r, proposalTextV2, v1.ProposalID)
	jobID := runJob(t, r, v2.ProposalHash)

	// v1 was never aggregated, so unchanged claims have nothing to
	// inherit and the bundle carries only the revalidated set.
	w := doJSON(t, r, http.MethodPost, "/v1/jobs/"+jobID+"/aggregate", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	sealed := decode[datatypes.EvidenceBundle](t, w)

	assert.Equal(t, datatypes.ScopeSelective, sealed.ValidationScope)
	require.Len(t, sealed.Claims, len(sealed.RevalidatedClaims))
	for _, ca := range sealed.Claims {
		assert.True(t, ca.WasRevalidated, "claim %s", ca.ClaimID)
	}
}

func TestAggregate_RequiresSettledJob(t *testing.T) {
	r := newTestServer(t)
	w := doJSON(t, r, http.MethodPost, "/v1/jobs/ghost/aggregate", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestEvidence_NotFoundBeforeAggregate(t *testing.T) {
	r := newTestServer(t)
	proposal := ingest(t, r, proposalText, "")
	jobID := runJob(t, r, proposal.ProposalHash)

	w := doJSON(t, r, http.MethodGet, "/v1/jobs/"+jobID+"/evidence", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestVerify_Roundtrip(t *testing.T) {
	r := newTestServer(t)
	proposal := ingest(t, r, proposalText, "")
	jobID := runJob(t, r, proposal.ProposalHash)

	w := doJSON(t, r, http.MethodPost, "/v1/jobs/"+jobID+"/aggregate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	sealed := decode[datatypes.EvidenceBundle](t, w)

	w = doJSON(t, r, http.MethodPost, "/v1/verify", sealed)
	require.Equal(t, http.StatusOK, w.Code)
	verdict := decode[datatypes.VerifyResponse](t, w)
	assert.True(t, verdict.OK)
	assert.Empty(t, verdict.Errors)
}

func TestVerify_DetectsTamper(t *testing.T) {
	r := newTestServer(t)
	proposal := ingest(t, r, proposalText, "")
	jobID := runJob(t, r, proposal.ProposalHash)

	w := doJSON(t, r, http.MethodPost, "/v1/jobs/"+jobID+"/aggregate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	sealed := decode[datatypes.EvidenceBundle](t, w)
	sealed.OverallPoUWScore += 0.25

	w = doJSON(t, r, http.MethodPost, "/v1/verify", sealed)
	require.Equal(t, http.StatusOK, w.Code)
	verdict := decode[datatypes.VerifyResponse](t, w)
	assert.False(t, verdict.OK)
	require.NotEmpty(t, verdict.Errors)
	assert.Contains(t, verdict.Errors[0], "mismatch")
}

func TestVerify_MalformedBundle(t *testing.T) {
	r := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/v1/verify", bytes.NewReader([]byte("{not json")))
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "parse_error")
}

// =============================================================================
// Misc
// =============================================================================

func TestHealth(t *testing.T) {
	r := newTestServer(t)
	w := doJSON(t, r, http.MethodGet, "/v1/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
}

func TestListMiners(t *testing.T) {
	r := newTestServer(t)
	w := doJSON(t, r, http.MethodGet, "/v1/miners", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var listing struct {
		Miners []gateway.MinerDescriptor `json:"miners"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listing))
	assert.NotEmpty(t, listing.Miners)
}

func TestCancelJob_UnknownJob(t *testing.T) {
	r := newTestServer(t)
	w := doJSON(t, r, http.MethodPost, "/v1/jobs/ghost/cancel", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}
