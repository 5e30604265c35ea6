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
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/OracleFOSS/services/oracle/datatypes"
	"github.com/AleutianAI/OracleFOSS/services/oracle/versiongraph"
)

// HandleValidate queues a validation job for a registered version and
// starts it in the background.
//
// Scope: a first version validates every claim; a later version
// validates only the claims its diff marks added or modified. An edit
// that changes nothing yields an empty scope and the job settles
// completed immediately.
func (h *Handlers) HandleValidate() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.ValidateRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			h.abortError(c, fmt.Errorf("%w: %v", datatypes.ErrInvalidInput, err))
			return
		}
		if err := req.Validate(); err != nil {
			h.abortError(c, err)
			return
		}

		version, err := h.Graph.ByHash(c.Request.Context(), req.ProposalHash)
		if err != nil {
			h.abortError(c, err)
			return
		}

		scope, err := h.validationScope(c, version)
		if err != nil {
			h.abortError(c, err)
			return
		}

		cfg := h.Defaults
		if req.Config != nil {
			cfg = *req.Config
		}

		state, err := h.Orchestrator.CreateJob(c.Request.Context(), version, scope, cfg)
		if err != nil {
			h.abortError(c, err)
			return
		}
		h.Orchestrator.Start(state.JobID)

		h.Logger.Info("validation job queued",
			"job_id", state.JobID,
			"proposal_hash", version.ProposalHash,
			"claims", len(scope))
		c.JSON(http.StatusAccepted, datatypes.ValidateResponse{JobID: state.JobID})
	}
}

// validationScope derives the claim ids a job should validate.
func (h *Handlers) validationScope(c *gin.Context, version datatypes.ProposalVersion) ([]string, error) {
	if version.PreviousHash == "" {
		ids := make([]string, 0, len(version.Claims))
		for _, claim := range version.Claims {
			ids = append(ids, claim.ID)
		}
		return ids, nil
	}
	previous, err := h.Graph.ByHash(c.Request.Context(), version.PreviousHash)
	if err != nil {
		return nil, fmt.Errorf("previous version lookup: %w", err)
	}
	diff := versiongraph.Diff(previous.Claims, version.Claims)
	return diff.RevalidationSet(), nil
}

// HandleJobStatus reports the live counters of one job.
func (h *Handlers) HandleJobStatus() gin.HandlerFunc {
	return func(c *gin.Context) {
		state, err := h.Store.Job(c.Request.Context(), c.Param("jobID"))
		if err != nil {
			h.abortError(c, err)
			return
		}
		c.JSON(http.StatusOK, datatypes.StatusFromState(state))
	}
}

// HandleListJobs lists all known jobs.
func (h *Handlers) HandleListJobs() gin.HandlerFunc {
	return func(c *gin.Context) {
		states, err := h.Store.ListJobs(c.Request.Context())
		if err != nil {
			h.abortError(c, err)
			return
		}
		summaries := make([]datatypes.JobSummary, 0, len(states))
		for _, s := range states {
			summaries = append(summaries, datatypes.JobSummary{
				JobID:        s.JobID,
				ProposalHash: s.ProposalHash,
				Status:       s.Status,
			})
		}
		c.JSON(http.StatusOK, gin.H{"jobs": summaries})
	}
}

// HandleCancelJob cancels a running job. Already-terminal jobs are
// unaffected; the call is idempotent either way.
func (h *Handlers) HandleCancelJob() gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("jobID")
		if _, err := h.Store.Job(c.Request.Context(), jobID); err != nil {
			h.abortError(c, err)
			return
		}
		h.Orchestrator.Cancel(jobID)
		c.JSON(http.StatusAccepted, gin.H{"job_id": jobID})
	}
}
