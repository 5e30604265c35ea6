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
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/OracleFOSS/services/oracle/bundle"
	"github.com/AleutianAI/OracleFOSS/services/oracle/datatypes"
)

// HandleVerify recomputes the computation hash of an uploaded bundle.
//
// The check needs nothing but the bundle bytes: no storage lookups, no
// network. Malformed payloads are 400s; a well-formed bundle always gets
// a 200 with ok reporting whether the hash matched.
func (h *Handlers) HandleVerify() gin.HandlerFunc {
	return func(c *gin.Context) {
		raw, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, datatypes.MaxBundleBytes))
		if err != nil {
			h.Metrics.RecordVerify("rejected")
			h.abortError(c, fmt.Errorf("%w: reading bundle: %v", datatypes.ErrInvalidInput, err))
			return
		}

		result, err := bundle.Verify(raw)
		switch {
		case err == nil:
			h.Metrics.RecordVerify("ok")
		case errors.Is(err, datatypes.ErrVerification):
			h.Metrics.RecordVerify("mismatch")
		case errors.Is(err, datatypes.ErrParse):
			h.Metrics.RecordVerify("malformed")
			h.abortError(c, err)
			return
		default:
			h.Metrics.RecordVerify("error")
			h.abortError(c, err)
			return
		}

		verrs := result.Errors
		if verrs == nil {
			verrs = []string{}
		}
		c.JSON(http.StatusOK, datatypes.VerifyResponse{
			OK:     result.OK,
			Errors: verrs,
		})
	}
}
