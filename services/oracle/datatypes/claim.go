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
// All wire-visible shapes (driver API payloads, persisted JSON, evidence
// bundles) are derived from the closed structs in this package. Handlers
// and stores never pass untyped maps across package boundaries.
//
// This file contains claim types. For proposal/version types see
// proposal.go; for miner response and aggregate types see response.go and
// aggregate.go.
package datatypes

// ClaimType classifies an extracted claim.
type ClaimType string

const (
	// ClaimFactual is an assertion checkable against external sources.
	ClaimFactual ClaimType = "factual"

	// ClaimNumeric is an assertion whose substance is a quantity.
	ClaimNumeric ClaimType = "numeric"

	// ClaimNormative is a should/must statement about policy.
	ClaimNormative ClaimType = "normative"
)

// CanonicalExtracts holds the deterministic structured extracts of a claim.
//
// Two claims with equal Text must carry equal extracts; the extractor
// derives them from Text alone, never from surrounding context.
type CanonicalExtracts struct {
	// Numbers are parsed quantities. Percentages are stored as fractions
	// ("10%" -> 0.10), scale words are expanded ("1.5 million" -> 1500000).
	Numbers []float64 `json:"numbers"`

	// Addresses are 0x-prefixed 40-hex-digit strings, lowercased.
	Addresses []string `json:"addresses"`

	// URLs are normalized: scheme and host lowercased, trailing slash
	// removed from the path.
	URLs []string `json:"urls"`
}

// Claim is one atomic testable assertion extracted from a proposal.
type Claim struct {
	// ID is "c1", "c2", ... in extraction order, unique within a version.
	ID string `json:"id"`

	// Text is the human-readable sentence.
	Text string `json:"text"`

	// ParagraphIndex indexes into the canonical paragraphs.
	ParagraphIndex int `json:"paragraph_index"`

	// CharRange is the [start, end) byte offsets in the canonical text.
	CharRange [2]int `json:"char_range"`

	// Type classifies the claim.
	Type ClaimType `json:"type"`

	// Canonical holds the structured extracts.
	Canonical CanonicalExtracts `json:"canonical"`
}

// DiffEntry identifies one claim inside a ClaimDiff bucket.
type DiffEntry struct {
	ClaimID string `json:"claim_id"`
	Text    string `json:"text"`
}

// ClaimDiff is the claim-level difference between two proposal versions.
//
// Two claims are the same when their canonical Text matches character for
// character. Modified pairs are heuristic: same positional index first,
// then best token overlap among the leftovers.
type ClaimDiff struct {
	Added     []DiffEntry `json:"added"`
	Removed   []DiffEntry `json:"removed"`
	Modified  []DiffEntry `json:"modified"`
	Unchanged []DiffEntry `json:"unchanged"`
}

// RevalidationSet returns the claim ids that must be validated for the new
// version: added plus modified. Unchanged claims inherit prior aggregates
// and removed claims are dropped.
func (d ClaimDiff) RevalidationSet() []string {
	ids := make([]string, 0, len(d.Added)+len(d.Modified))
	for _, e := range d.Added {
		ids = append(ids, e.ClaimID)
	}
	for _, e := range d.Modified {
		ids = append(ids, e.ClaimID)
	}
	return ids
}
