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
// This file contains the evidence bundle: the final, hashed, offline
// verifiable record of a validation job.
package datatypes

// ValidationScope distinguishes a full validation from a selective
// re-validation after a proposal edit.
type ValidationScope string

const (
	ScopeFull      ValidationScope = "full"
	ScopeSelective ValidationScope = "selective"
)

// ReplayVersion is the bundle format version stamped into every bundle.
// Bump it whenever the canonical serialization or the hashed field set
// changes, so old bundles keep verifying under their own rules.
const ReplayVersion = "1"

// EvidenceBundle is the canonical published artifact of a job.
//
// ComputationHash is the sha256 of the bundle's canonical JSON with the
// hash itself, Signature, and publisher fields excluded. The hash stays
// authoritative regardless of where the bundle is published.
type EvidenceBundle struct {
	ProposalHash  string `json:"proposal_hash"`
	JobID         string `json:"job_id"`
	ProposalID    string `json:"proposal_id"`
	VersionNumber int    `json:"version_number"`

	ClaimDiff *ClaimDiff `json:"claim_diff,omitempty"`

	ValidationScope   ValidationScope `json:"validation_scope"`
	RevalidatedClaims []string        `json:"revalidated_claims"`

	Claims []ClaimAggregate `json:"claims"`

	OverallPoIAgreement float64    `json:"overall_poi_agreement"`
	OverallPoUWScore    float64    `json:"overall_pouw_score"`
	OverallCI95         [2]float64 `json:"overall_ci_95"`

	CriticalFlags []string `json:"critical_flags"`

	RedundancyLevel      int     `json:"redundancy_level"`
	MinersRequested      int     `json:"miners_requested"`
	MinersResponded      int     `json:"miners_responded"`
	MissingMiners        int     `json:"missing_miners"`
	ConfidenceAdjustment float64 `json:"confidence_adjustment_factor"`

	// JobStatus labels partial bundles so consumers can tell a complete
	// validation from a degraded one.
	JobStatus JobStatus `json:"job_status"`

	// ComputationHash is excluded from its own preimage; omitempty keeps
	// the blanked field out of the canonical form entirely.
	ComputationHash string `json:"computation_hash,omitempty"`

	// Signature and publisher receipts are sink concerns, never hashed.
	Signature string `json:"signature,omitempty"`

	ReplayVersion string `json:"replay_version"`

	// Timestamp is UTC RFC 3339.
	Timestamp string `json:"timestamp"`
}

// PublishReceipt is what a Publisher returns for a sealed bundle.
type PublishReceipt struct {
	CID    string `json:"cid,omitempty"`
	TxHash string `json:"tx_hash,omitempty"`
}

// VerificationResult is the outcome of offline bundle verification.
type VerificationResult struct {
	OK           bool     `json:"ok"`
	ExpectedHash string   `json:"expected_hash,omitempty"`
	ComputedHash string   `json:"computed_hash,omitempty"`
	Errors       []string `json:"errors,omitempty"`
}
