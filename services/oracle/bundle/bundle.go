// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package bundle seals validation results into a deterministic,
// offline verifiable evidence artifact.
//
// The computation hash is sha256 over the bundle's canonical JSON with
// the hash itself, the signature, and any publisher receipts excluded.
// Anyone holding the bundle file can recompute the hash with no network
// access; the Verify function and the verify CLI are that replay path.
package bundle

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/AleutianAI/OracleFOSS/services/oracle/datatypes"
)

// Input carries everything the builder folds into a bundle.
type Input struct {
	Job        datatypes.JobState
	Version    datatypes.ProposalVersion
	Diff       *datatypes.ClaimDiff
	Scope      datatypes.ValidationScope
	Aggregates []datatypes.ClaimAggregate

	OverallPoI  float64
	OverallPoUW float64
	OverallCI   [2]float64
	Flags       []string
}

// Build assembles and hashes the evidence bundle for a settled job.
func Build(in Input) (datatypes.EvidenceBundle, error) {
	if !in.Job.Status.Terminal() {
		return datatypes.EvidenceBundle{}, fmt.Errorf("%w: job %s not settled", datatypes.ErrInternal, in.Job.JobID)
	}

	revalidated := in.Job.ClaimIDs
	if revalidated == nil {
		revalidated = []string{}
	}
	flags := in.Flags
	if flags == nil {
		flags = []string{}
	}
	aggregates := in.Aggregates
	if aggregates == nil {
		aggregates = []datatypes.ClaimAggregate{}
	}

	b := datatypes.EvidenceBundle{
		ProposalHash:  in.Job.ProposalHash,
		JobID:         in.Job.JobID,
		ProposalID:    in.Job.ProposalID,
		VersionNumber: in.Job.VersionNumber,

		ClaimDiff:         in.Diff,
		ValidationScope:   in.Scope,
		RevalidatedClaims: revalidated,

		Claims: aggregates,

		OverallPoIAgreement: in.OverallPoI,
		OverallPoUWScore:    in.OverallPoUW,
		OverallCI95:         in.OverallCI,
		CriticalFlags:       flags,

		RedundancyLevel:      in.Job.Config.MinerCount,
		MinersRequested:      in.Job.ClaimsTotal * in.Job.Config.MinerCount,
		MinersResponded:      in.Job.MinersResponded,
		MissingMiners:        in.Job.MissingMiners,
		ConfidenceAdjustment: in.Job.ConfidenceAdjustment,

		JobStatus:     in.Job.Status,
		ReplayVersion: datatypes.ReplayVersion,
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}

	hash, err := Hash(b)
	if err != nil {
		return datatypes.EvidenceBundle{}, err
	}
	b.ComputationHash = hash
	return b, nil
}

// Hash computes the computation hash of a bundle: sha256 hex over its
// canonical JSON with the excluded fields blanked. The stored hash and
// signature never influence the result, so Hash(b) is stable whether b
// is sealed or not.
func Hash(b datatypes.EvidenceBundle) (string, error) {
	b.ComputationHash = ""
	b.Signature = ""

	canonical, err := CanonicalJSON(b)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}
