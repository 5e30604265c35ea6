// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// ProposalVersion is one immutable registered version of a proposal.
//
// Content addressing: ProposalHash is "sha256:" + hex sha256 over
// uri + "|" + canonical text, so a given (canonical text, uri) pair always
// resolves to the same hash and the same stored claim set.
type ProposalVersion struct {
	// ProposalID is the opaque identity stable across edits. Minted only
	// when a version is registered without a previous id.
	ProposalID string `json:"proposal_id"`

	// VersionNumber is monotonically increasing per ProposalID, from 1.
	VersionNumber int `json:"version_number"`

	// ProposalHash is the content address of this version.
	ProposalHash string `json:"proposal_hash"`

	// PreviousHash is the hash of the preceding version, empty for v1.
	PreviousHash string `json:"previous_hash,omitempty"`

	// URI is the source location the text was fetched from, may be empty.
	URI string `json:"uri,omitempty"`

	// CanonicalText is the canonicalizer output this version was hashed on.
	CanonicalText string `json:"canonical_text"`

	// Claims is the ordered extracted claim set.
	Claims []Claim `json:"claims"`

	// RegisteredAt is when the version entered the graph.
	RegisteredAt time.Time `json:"registered_at"`
}

// ClaimByID returns the claim with the given id, or nil.
func (p *ProposalVersion) ClaimByID(id string) *Claim {
	for i := range p.Claims {
		if p.Claims[i].ID == id {
			return &p.Claims[i]
		}
	}
	return nil
}
