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
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/OracleFOSS/services/oracle/canonical"
	"github.com/AleutianAI/OracleFOSS/services/oracle/datatypes"
	"github.com/AleutianAI/OracleFOSS/services/oracle/versiongraph"
)

// fetchTimeout bounds source document retrieval at ingest.
const fetchTimeout = 15 * time.Second

// HandleIngest accepts a proposal by url or inline text, canonicalizes
// it, extracts claims, and registers the version in the graph.
//
// Idempotent: re-submitting unchanged content returns the already
// registered version with its original claim ids.
func (h *Handlers) HandleIngest() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.IngestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			h.abortError(c, fmt.Errorf("%w: %v", datatypes.ErrInvalidInput, err))
			return
		}
		if err := req.Validate(); err != nil {
			h.abortError(c, err)
			return
		}

		text, uri := req.Text, req.URL
		if text == "" {
			fetched, err := fetchSource(c.Request.Context(), req.URL)
			if err != nil {
				h.abortError(c, err)
				return
			}
			text = fetched
		}

		canonicalText := canonical.Canonicalize(text)
		if canonicalText == "" {
			h.abortError(c, fmt.Errorf("%w: no content after canonicalization", datatypes.ErrInvalidInput))
			return
		}

		hash, err := canonical.Hash(canonicalText, uri)
		if err != nil {
			h.abortError(c, err)
			return
		}

		claims, origin, err := h.Extractor.ExtractClaims(c.Request.Context(), canonicalText)
		if err != nil {
			h.abortError(c, err)
			return
		}

		version, previous, err := h.Graph.Register(c.Request.Context(),
			hash, uri, canonicalText, claims, req.PreviousProposalID)
		if err != nil {
			h.abortError(c, err)
			return
		}

		if err := h.Store.SaveProposal(c.Request.Context(), version); err != nil {
			h.abortError(c, err)
			return
		}

		resp := datatypes.IngestResponse{
			ProposalID:    version.ProposalID,
			VersionNumber: version.VersionNumber,
			ProposalHash:  version.ProposalHash,
			PreviousHash:  version.PreviousHash,
			CanonicalText: version.CanonicalText,
			Claims:        version.Claims,
		}
		scope := string(datatypes.ScopeFull)
		if previous != nil {
			diff := versiongraph.Diff(previous.Claims, version.Claims)
			resp.ClaimDiff = &diff
			scope = string(datatypes.ScopeSelective)
		}

		h.Metrics.RecordIngest(scope, origin, len(version.Claims))
		h.Logger.Info("proposal ingested",
			"proposal_id", version.ProposalID,
			"version", version.VersionNumber,
			"extractor", origin,
			"claims", len(version.Claims))
		c.JSON(http.StatusOK, resp)
	}
}

// HandleGetProposal returns a registered version by its content address.
func (h *Handlers) HandleGetProposal() gin.HandlerFunc {
	return func(c *gin.Context) {
		version, err := h.Graph.ByHash(c.Request.Context(), c.Param("proposalHash"))
		if err != nil {
			h.abortError(c, err)
			return
		}
		c.JSON(http.StatusOK, version)
	}
}

// fetchSource retrieves proposal text from a url, bounded by
// MaxProposalBytes and fetchTimeout.
func fetchSource(ctx context.Context, url string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", datatypes.ErrInvalidInput, err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: fetching %s", datatypes.ErrTimeout, url)
		}
		return "", fmt.Errorf("%w: fetching %s: %v", datatypes.ErrTransient, url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: fetching %s: status %d", datatypes.ErrTransient, url, resp.StatusCode)
	}

	// Read one byte past the cap to detect oversize without buffering it.
	body, err := io.ReadAll(io.LimitReader(resp.Body, datatypes.MaxProposalBytes+1))
	if err != nil {
		return "", fmt.Errorf("%w: reading %s: %v", datatypes.ErrTransient, url, err)
	}
	if len(body) > datatypes.MaxProposalBytes {
		return "", fmt.Errorf("%w: source document exceeds %d bytes", datatypes.ErrInvalidInput, datatypes.MaxProposalBytes)
	}
	return string(body), nil
}
