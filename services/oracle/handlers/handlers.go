// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers implements the driver API endpoints.
//
// Every handler is a method on Handlers so tests can assemble the full
// dependency set against in-memory storage and the mock gateway.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/OracleFOSS/services/oracle/bundle"
	"github.com/AleutianAI/OracleFOSS/services/oracle/canonical"
	"github.com/AleutianAI/OracleFOSS/services/oracle/datatypes"
	"github.com/AleutianAI/OracleFOSS/services/oracle/gateway"
	"github.com/AleutianAI/OracleFOSS/services/oracle/observability"
	"github.com/AleutianAI/OracleFOSS/services/oracle/orchestrator"
	"github.com/AleutianAI/OracleFOSS/services/oracle/store"
	"github.com/AleutianAI/OracleFOSS/services/oracle/versiongraph"
)

// =============================================================================
// Handlers
// =============================================================================

// Handlers carries the wired dependencies of the driver API.
type Handlers struct {
	Extractor    *canonical.Extractor
	Graph        *versiongraph.Graph
	Store        *store.Store
	Orchestrator *orchestrator.Orchestrator
	Gateway      gateway.Gateway
	Publisher    bundle.Publisher
	Metrics      *observability.Metrics
	Logger       *slog.Logger

	// Defaults is the system-wide job configuration, applied when a
	// validate request carries no override.
	Defaults datatypes.JobConfig
}

// New creates the handler set. Nil logger falls back to a discard
// logger; nil publisher falls back to NopPublisher.
func New(h Handlers) *Handlers {
	if h.Logger == nil {
		h.Logger = slog.New(slog.DiscardHandler)
	}
	if h.Publisher == nil {
		h.Publisher = bundle.NopPublisher{}
	}
	if h.Defaults == (datatypes.JobConfig{}) {
		h.Defaults = datatypes.DefaultJobConfig()
	}
	return &h
}

// =============================================================================
// Error Mapping
// =============================================================================

// httpStatus maps a taxonomy error to an HTTP status code.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, datatypes.ErrInvalidInput), errors.Is(err, datatypes.ErrParse):
		return http.StatusBadRequest
	case errors.Is(err, datatypes.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, datatypes.ErrAuthFailure):
		return http.StatusUnauthorized
	case errors.Is(err, datatypes.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, datatypes.ErrQuorumNotReached), errors.Is(err, datatypes.ErrTransient),
		errors.Is(err, datatypes.ErrExtractorUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, datatypes.ErrVerification):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// abortError writes the uniform error envelope and aborts the request.
func (h *Handlers) abortError(c *gin.Context, err error) {
	class := datatypes.ErrorClass(err)
	h.Logger.Warn("request failed",
		"path", c.FullPath(),
		"class", class,
		"error", err)
	c.AbortWithStatusJSON(httpStatus(err), gin.H{
		"error": err.Error(),
		"class": class,
	})
}
