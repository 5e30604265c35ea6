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
	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers the oracle routes with the router.
//
// Description:
//
//	Registers all /v1/* endpoints with the given Gin router group. The
//	router group should already have any required middleware applied.
//
// Endpoints:
//
//	POST /v1/proposals - Ingest and register a proposal version
//	GET  /v1/proposals/:proposalHash - Fetch a registered version
//	POST /v1/jobs - Queue and start a validation job
//	GET  /v1/jobs - List jobs
//	GET  /v1/jobs/:jobID - Poll job status
//	GET  /v1/jobs/:jobID/ws - Stream job progress over websocket
//	POST /v1/jobs/:jobID/cancel - Cancel a running job
//	POST /v1/jobs/:jobID/aggregate - Seal the evidence bundle
//	GET  /v1/jobs/:jobID/evidence - Fetch the sealed bundle
//	POST /v1/verify - Offline bundle verification
//	GET  /v1/miners - List the miner roster
//	GET  /v1/health - Health check
func RegisterRoutes(rg *gin.RouterGroup, h *Handlers) {
	proposals := rg.Group("/proposals")
	{
		proposals.POST("", h.HandleIngest())
		proposals.GET("/:proposalHash", h.HandleGetProposal())
	}

	jobs := rg.Group("/jobs")
	{
		jobs.POST("", h.HandleValidate())
		jobs.GET("", h.HandleListJobs())
		jobs.GET("/:jobID", h.HandleJobStatus())
		jobs.GET("/:jobID/ws", h.HandleJobProgress())
		jobs.POST("/:jobID/cancel", h.HandleCancelJob())
		jobs.POST("/:jobID/aggregate", h.HandleAggregate())
		jobs.GET("/:jobID/evidence", h.HandleGetEvidence())
	}

	rg.POST("/verify", h.HandleVerify())
	rg.GET("/miners", h.HandleListMiners())
	rg.GET("/health", h.HandleHealth())
}
