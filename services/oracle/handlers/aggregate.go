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
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/OracleFOSS/services/oracle/aggregate"
	"github.com/AleutianAI/OracleFOSS/services/oracle/bundle"
	"github.com/AleutianAI/OracleFOSS/services/oracle/datatypes"
	"github.com/AleutianAI/OracleFOSS/services/oracle/versiongraph"
)

// HandleAggregate reduces a settled job's responses into a sealed
// evidence bundle, persists it, and hands it to the publisher.
//
// Idempotent: once a bundle is sealed for a job, later calls return the
// stored bundle without recomputing or republishing.
func (h *Handlers) HandleAggregate() gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("jobID")
		ctx := c.Request.Context()

		job, err := h.Store.Job(ctx, jobID)
		if err != nil {
			h.abortError(c, err)
			return
		}
		if !job.Status.Terminal() {
			h.abortError(c, fmt.Errorf("%w: job %s is %s, aggregate requires a settled job",
				datatypes.ErrInvalidInput, jobID, job.Status))
			return
		}

		if sealed, err := h.Store.Evidence(ctx, jobID); err == nil {
			c.JSON(http.StatusOK, sealed)
			return
		} else if !errors.Is(err, datatypes.ErrNotFound) {
			h.abortError(c, err)
			return
		}

		started := time.Now()
		version, err := h.Graph.ByHash(ctx, job.ProposalHash)
		if err != nil {
			h.abortError(c, err)
			return
		}
		buckets, err := h.Store.Buckets(ctx, jobID)
		if err != nil {
			h.abortError(c, err)
			return
		}

		scope := datatypes.ScopeFull
		var diff *datatypes.ClaimDiff
		if version.PreviousHash != "" {
			scope = datatypes.ScopeSelective
			if previous, err := h.Graph.ByHash(ctx, version.PreviousHash); err == nil {
				d := versiongraph.Diff(previous.Claims, version.Claims)
				diff = &d
			}
		}

		agg := aggregate.New(aggregate.Config{
			BootstrapSeed: job.Config.BootstrapSeed,
			MinerQuorum:   job.Config.MinerQuorum,
		})

		computed := make(map[string]datatypes.ClaimAggregate, len(job.ClaimIDs))
		for _, claimID := range job.ClaimIDs {
			claim := version.ClaimByID(claimID)
			if claim == nil {
				h.abortError(c, fmt.Errorf("%w: claim %s missing from version %s",
					datatypes.ErrInternal, claimID, job.ProposalHash))
				return
			}
			computed[claimID] = agg.AggregateClaim(*claim, buckets[claimID])
		}
		inherited := h.inheritedAggregates(ctx, scope, diff, version)

		// Merge in the version's claim order: revalidated claims carry
		// this job's aggregate, unchanged claims carry the previous
		// version's with was_revalidated=false.
		aggregates := make([]datatypes.ClaimAggregate, 0, len(version.Claims))
		for _, claim := range version.Claims {
			if ca, ok := computed[claim.ID]; ok {
				aggregates = append(aggregates, ca)
				continue
			}
			if prev, ok := inherited[claim.ID]; ok {
				aggregates = append(aggregates, prev)
			}
		}

		poi, pouw, ci := agg.Overall(aggregates, buckets)
		flags := agg.CriticalFlags(aggregates, buckets)

		sealed, err := bundle.Build(bundle.Input{
			Job:         job,
			Version:     version,
			Diff:        diff,
			Scope:       scope,
			Aggregates:  aggregates,
			OverallPoI:  poi,
			OverallPoUW: pouw,
			OverallCI:   ci,
			Flags:       flags,
		})
		if err != nil {
			h.abortError(c, err)
			return
		}

		if err := h.Store.SaveEvidence(ctx, jobID, sealed); err != nil {
			h.abortError(c, err)
			return
		}
		receipt, err := h.Publisher.Publish(ctx, sealed)
		if err != nil {
			// The sealed bundle is already durable; publishing can be
			// retried out of band.
			h.Logger.Warn("bundle publish failed",
				"job_id", jobID,
				"computation_hash", sealed.ComputationHash,
				"error", err)
		} else if receipt.CID != "" {
			h.Logger.Info("bundle published",
				"job_id", jobID,
				"cid", receipt.CID)
		}

		h.Metrics.RecordAggregation(time.Since(started).Seconds())
		h.Metrics.RecordBundle(string(scope))
		c.JSON(http.StatusOK, sealed)
	}
}

// inheritedAggregates maps unchanged claim ids to their prior aggregates
// for a selective job. Unchanged pairing is exact text, so the previous
// bundle's aggregate is found by text. A previous version with no sealed
// evidence degrades the bundle to its revalidated claims only.
func (h *Handlers) inheritedAggregates(ctx context.Context, scope datatypes.ValidationScope, diff *datatypes.ClaimDiff, version datatypes.ProposalVersion) map[string]datatypes.ClaimAggregate {
	if scope != datatypes.ScopeSelective || diff == nil || len(diff.Unchanged) == 0 {
		return nil
	}
	prior, err := h.Store.EvidenceByProposal(ctx, version.PreviousHash)
	if err != nil {
		h.Logger.Warn("previous version has no sealed evidence, unchanged claims not inherited",
			"previous_hash", version.PreviousHash,
			"error", err)
		return nil
	}
	byText := make(map[string]datatypes.ClaimAggregate, len(prior.Claims))
	for _, ca := range prior.Claims {
		byText[ca.Text] = ca
	}
	out := make(map[string]datatypes.ClaimAggregate, len(diff.Unchanged))
	for _, e := range diff.Unchanged {
		claim := version.ClaimByID(e.ClaimID)
		prev, ok := byText[e.Text]
		if !ok || claim == nil {
			continue
		}
		out[e.ClaimID] = aggregate.Inherit(prev, *claim)
	}
	return out
}

// HandleGetEvidence returns the sealed bundle of a job.
func (h *Handlers) HandleGetEvidence() gin.HandlerFunc {
	return func(c *gin.Context) {
		sealed, err := h.Store.Evidence(c.Request.Context(), c.Param("jobID"))
		if err != nil {
			h.abortError(c, err)
			return
		}
		c.JSON(http.StatusOK, sealed)
	}
}
