// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gateway is the only module that talks to the decentralized
// inference router. Every other component sees the Gateway interface and
// the normalized reply shape; both the real router and the deterministic
// mock are parsed into that one shape at this boundary.
//
// Retry policy lives here and nowhere else: network errors and 5xx get
// exponential backoff with jitter up to the configured budget, 429 waits
// out Retry-After without consuming budget, and 401 aborts immediately
// with an auth failure that higher layers never retry.
package gateway

import (
	"context"

	"github.com/AleutianAI/OracleFOSS/services/oracle/datatypes"
)

// =============================================================================
// Interface
// =============================================================================

// Gateway is the inference network abstraction.
type Gateway interface {
	// Delegate fans one prompt out to k miners and returns their replies.
	// The context carries the end-to-end deadline; exceeding it yields an
	// error wrapping datatypes.ErrTimeout.
	Delegate(ctx context.Context, req DelegateRequest) (*DelegateResult, error)

	// Validate re-runs one miner result through k validators.
	Validate(ctx context.Context, req ValidateTaskRequest) (*ValidationResult, error)

	// Health reports router reachability.
	Health(ctx context.Context) bool

	// ListMiners enumerates the known miner roster.
	ListMiners(ctx context.Context) ([]MinerDescriptor, error)
}

// =============================================================================
// Requests
// =============================================================================

// DelegateRequest describes one redundant delegation.
type DelegateRequest struct {
	Prompt      string
	K           int
	MaxTokens   int
	Temperature float64

	// ClaimID keys the deterministic mock and is echoed into replies; the
	// real router ignores it.
	ClaimID string

	// ClaimHasExtracts tells the mock whether the claim carries canonical
	// numbers or addresses, which biases its verdict distribution.
	ClaimHasExtracts bool

	// MinerID pins the delegation to one miner. The orchestrator sets it
	// so redundant slots for a claim land on distinct miners.
	MinerID string
}

// ValidateTaskRequest asks validators to re-check one miner's result.
type ValidateTaskRequest struct {
	TaskID     string
	MinerID    string
	ResultText string
	K          int
}

// =============================================================================
// Normalized Replies
// =============================================================================

// MinerReply is one miner's normalized reply inside a DelegateResult.
//
// Assessment fields (Verdict, Scores, ...) are populated when the miner
// content parsed as a rubric assessment; otherwise Parsed is false and
// only the raw Content is meaningful.
type MinerReply struct {
	MinerID   string
	Content   string
	LatencyMs int64
	Model     string

	Parsed        bool
	Verdict       datatypes.Verdict
	Rationale     string
	EvidenceLinks []string
	Scores        datatypes.Scores
	Embedding     []float64
}

// Consensus is the router-reported agreement summary for a task.
type Consensus struct {
	Score          float64 `json:"score"`
	TotalMiners    int     `json:"total_miners"`
	AgreementCount int     `json:"agreement_count"`
	Majority       string  `json:"majority"`
}

// DelegateResult is the outcome of one redundant delegation.
type DelegateResult struct {
	TaskID         string
	MinerResponses []MinerReply
	Consensus      Consensus
}

// ValidationResult is the outcome of a validator re-run.
type ValidationResult struct {
	IsValid          bool    `json:"is_valid"`
	Confidence       float64 `json:"confidence"`
	KMinersValidated int     `json:"k_miners_validated"`
	Attestation      string  `json:"attestation,omitempty"`
}

// MinerDescriptor identifies one miner on the network.
type MinerDescriptor struct {
	MinerID string `json:"miner_id"`
	Model   string `json:"model,omitempty"`
	Address string `json:"address,omitempty"`
}
