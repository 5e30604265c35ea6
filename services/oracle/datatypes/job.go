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
// This file contains the validation job state machine and its
// configuration.
package datatypes

import (
	"errors"
	"time"
)

// =============================================================================
// Job Status
// =============================================================================

// JobStatus is the lifecycle state of a validation job.
//
// Transitions: queued -> running -> (completed | partial | failed).
type JobStatus string

const (
	// JobQueued means the job is persisted but no work has started.
	JobQueued JobStatus = "queued"

	// JobRunning means at least one claim has been dispatched.
	JobRunning JobStatus = "running"

	// JobCompleted means every claim reached quorum within deadline.
	JobCompleted JobStatus = "completed"

	// JobPartial means at least one claim reached quorum and at least one
	// did not.
	JobPartial JobStatus = "partial"

	// JobFailed means zero claims reached quorum, the job was cancelled,
	// or a fatal configuration error occurred.
	JobFailed JobStatus = "failed"
)

// Terminal reports whether s is a settled state.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobPartial || s == JobFailed
}

// =============================================================================
// Job Configuration
// =============================================================================

// JobConfig controls fan-out, quorum, and deadlines for one job.
type JobConfig struct {
	// MinerCount is the redundancy k: delegations per claim.
	MinerCount int `json:"miner_count"`

	// MinerQuorum is the responses needed to accept a claim.
	MinerQuorum int `json:"miner_quorum"`

	// MinerTimeout is the per-claim wall clock budget. The configuration
	// surface exposes it as miner_timeout_seconds; persisted state keeps
	// the native duration.
	MinerTimeout time.Duration `json:"miner_timeout"`

	// MaxRetries is the per-request retry budget forwarded to the gateway.
	MaxRetries int `json:"max_retries"`

	// BootstrapSeed seeds the aggregator's resampling when non-nil, for
	// reproducible confidence intervals.
	BootstrapSeed *int64 `json:"bootstrap_seed,omitempty"`

	// MaxInFlight caps outstanding delegate calls across all claims.
	// Zero means MinerCount * claim count (no extra cap).
	MaxInFlight int `json:"max_in_flight,omitempty"`
}

// DefaultJobConfig returns the system-wide defaults.
func DefaultJobConfig() JobConfig {
	return JobConfig{
		MinerCount:   5,
		MinerQuorum:  3,
		MinerTimeout: 12 * time.Second,
		MaxRetries:   3,
	}
}

// Validate checks the configuration invariants.
func (c JobConfig) Validate() error {
	if c.MinerCount < 1 {
		return errors.New("miner_count must be at least 1")
	}
	if c.MinerQuorum < 1 {
		return errors.New("miner_quorum must be at least 1")
	}
	if c.MinerQuorum > c.MinerCount {
		return errors.New("miner_quorum must not exceed miner_count")
	}
	if c.MinerTimeout <= 0 {
		return errors.New("miner_timeout_seconds must be positive")
	}
	if c.MaxRetries < 0 {
		return errors.New("max_retries must be non-negative")
	}
	return nil
}

// =============================================================================
// Job State
// =============================================================================

// JobState is the observable state of one validation job.
//
// ClaimsValidated is monotonically nondecreasing; observers polling the
// status endpoint never see it move backwards.
type JobState struct {
	JobID         string    `json:"job_id"`
	ProposalHash  string    `json:"proposal_hash"`
	ProposalID    string    `json:"proposal_id"`
	VersionNumber int       `json:"version_number"`
	Status        JobStatus `json:"status"`
	Config        JobConfig `json:"config"`

	// ClaimIDs is the validation scope of this job.
	ClaimIDs []string `json:"claim_ids"`

	ClaimsTotal     int `json:"claims_total"`
	ClaimsValidated int `json:"claims_validated"`
	MinersContacted int `json:"miners_contacted"`
	MinersResponded int `json:"miners_responded"`

	// MissingMiners counts requested slots that produced no response.
	MissingMiners int `json:"missing_miners"`

	// ConfidenceAdjustment is min(1, responded/requested) in (0,1], set
	// when the job settles.
	ConfidenceAdjustment float64 `json:"confidence_adjustment_factor,omitempty"`

	// Error is the terminal error class for failed jobs.
	Error string `json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
