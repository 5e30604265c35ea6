// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes provides data structures for the oracle service.
//
// This file contains request and response types for the driver API.
package datatypes

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// =============================================================================
// Limits
// =============================================================================

const (
	// MaxProposalBytes caps raw proposal text accepted at ingest.
	// Oversized payloads are rejected before canonicalization to bound
	// memory use.
	MaxProposalBytes = 512 * 1024

	// MaxBundleBytes caps an uploaded bundle on the verify endpoint.
	MaxBundleBytes = 8 * 1024 * 1024
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// apiValidate is the validator instance for driver API request types.
var apiValidate *validator.Validate

func init() {
	apiValidate = validator.New()
	_ = apiValidate.RegisterValidation("maxpropbytes", validateMaxProposalBytes)
}

// validateMaxProposalBytes enforces MaxProposalBytes on a string field.
// Byte length, not rune count, to bound allocation.
func validateMaxProposalBytes(fl validator.FieldLevel) bool {
	return len(fl.Field().String()) <= MaxProposalBytes
}

// =============================================================================
// Ingest
// =============================================================================

// IngestRequest submits raw proposal text for canonicalization, claim
// extraction, and version registration. Exactly one of URL or Text should
// carry the content; when both are set Text wins and URL is recorded as
// the source uri.
type IngestRequest struct {
	URL                string `json:"url,omitempty" validate:"omitempty,url"`
	Text               string `json:"text,omitempty" validate:"maxpropbytes"`
	PreviousProposalID string `json:"previous_proposal_id,omitempty"`
}

// Validate checks structural constraints on the request.
func (r *IngestRequest) Validate() error {
	if r.URL == "" && r.Text == "" {
		return fmt.Errorf("%w: ingest requires url or text", ErrInvalidInput)
	}
	if err := apiValidate.Struct(r); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return fmt.Errorf("%w: %s", ErrInvalidInput, verrs[0].Error())
		}
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// IngestResponse is what the driver gets back for an accepted proposal.
type IngestResponse struct {
	ProposalID    string     `json:"proposal_id"`
	VersionNumber int        `json:"version_number"`
	ProposalHash  string     `json:"proposal_hash"`
	PreviousHash  string     `json:"previous_hash,omitempty"`
	CanonicalText string     `json:"canonical_text"`
	Claims        []Claim    `json:"claims"`
	ClaimDiff     *ClaimDiff `json:"claim_diff,omitempty"`
}

// =============================================================================
// Validation Jobs
// =============================================================================

// ValidateRequest starts a validation job for a registered version.
type ValidateRequest struct {
	ProposalHash string `json:"proposal_hash" validate:"required"`

	// Config overrides the system defaults when present.
	Config *JobConfig `json:"config,omitempty"`
}

// Validate checks structural constraints on the request.
func (r *ValidateRequest) Validate() error {
	if err := apiValidate.Struct(r); err != nil {
		return fmt.Errorf("%w: proposal_hash is required", ErrInvalidInput)
	}
	if r.Config != nil {
		if err := r.Config.Validate(); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}
	return nil
}

// ValidateResponse acknowledges a queued job.
type ValidateResponse struct {
	JobID string `json:"job_id"`
}

// StatusResponse is the observable job state for pollers.
type StatusResponse struct {
	Status          JobStatus `json:"status"`
	ClaimsTotal     int       `json:"claims_total"`
	ClaimsValidated int       `json:"claims_validated"`
	MinersContacted int       `json:"miners_contacted"`
	MinersResponded int       `json:"miners_responded"`
	Error           string    `json:"error,omitempty"`
}

// StatusFromState projects a JobState onto the status wire shape.
func StatusFromState(s JobState) StatusResponse {
	return StatusResponse{
		Status:          s.Status,
		ClaimsTotal:     s.ClaimsTotal,
		ClaimsValidated: s.ClaimsValidated,
		MinersContacted: s.MinersContacted,
		MinersResponded: s.MinersResponded,
		Error:           s.Error,
	}
}

// JobSummary is one row in the job listing.
type JobSummary struct {
	JobID        string    `json:"job_id"`
	ProposalHash string    `json:"proposal_hash"`
	Status       JobStatus `json:"status"`
}

// =============================================================================
// Verification
// =============================================================================

// VerifyResponse reports offline bundle verification to the driver.
type VerifyResponse struct {
	OK     bool     `json:"ok"`
	Errors []string `json:"errors"`
}
