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
	"net/http"

	"github.com/gin-gonic/gin"
)

// HandleHealth reports service liveness and router reachability.
// Always 200: a dead router degrades the service, it does not make the
// process unhealthy.
func (h *Handlers) HandleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"router": h.Gateway.Health(c.Request.Context()),
		})
	}
}

// HandleListMiners returns the known miner roster.
func (h *Handlers) HandleListMiners() gin.HandlerFunc {
	return func(c *gin.Context) {
		miners, err := h.Gateway.ListMiners(c.Request.Context())
		if err != nil {
			h.abortError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"miners": miners})
	}
}
