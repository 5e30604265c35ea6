// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package versiongraph

import (
	"strings"

	"github.com/AleutianAI/OracleFOSS/services/oracle/datatypes"
)

// jaccardThreshold is the minimum token overlap for pairing a leftover
// current claim with a leftover previous claim as "modified".
const jaccardThreshold = 0.5

// Diff computes the claim-level difference between two versions.
//
// Matching runs in three passes over the current claims:
//  1. exact text match against an unconsumed previous claim -> unchanged
//  2. same positional index, both sides unconsumed -> modified
//  3. best Jaccard token overlap >= 0.5 among leftovers -> modified
//
// Current claims left after all passes are added; previous claims never
// consumed are removed. Diff entries carry the CURRENT claim id for
// added/modified/unchanged and the previous id for removed.
func Diff(previous, current []datatypes.Claim) datatypes.ClaimDiff {
	diff := datatypes.ClaimDiff{
		Added:     []datatypes.DiffEntry{},
		Removed:   []datatypes.DiffEntry{},
		Modified:  []datatypes.DiffEntry{},
		Unchanged: []datatypes.DiffEntry{},
	}

	prevUsed := make([]bool, len(previous))
	curMatched := make([]bool, len(current))

	// Pass 1: exact text.
	prevByText := map[string][]int{}
	for i, p := range previous {
		prevByText[p.Text] = append(prevByText[p.Text], i)
	}
	for ci, c := range current {
		for _, pi := range prevByText[c.Text] {
			if !prevUsed[pi] {
				prevUsed[pi] = true
				curMatched[ci] = true
				diff.Unchanged = append(diff.Unchanged, entry(c))
				break
			}
		}
	}

	// Pass 2: positional pairing.
	for ci, c := range current {
		if curMatched[ci] || ci >= len(previous) || prevUsed[ci] {
			continue
		}
		prevUsed[ci] = true
		curMatched[ci] = true
		diff.Modified = append(diff.Modified, entry(c))
	}

	// Pass 3: token overlap among leftovers.
	for ci, c := range current {
		if curMatched[ci] {
			continue
		}
		bestIdx, bestScore := -1, 0.0
		curTokens := tokenSet(c.Text)
		for pi := range previous {
			if prevUsed[pi] {
				continue
			}
			score := jaccard(curTokens, tokenSet(previous[pi].Text))
			if score > bestScore {
				bestIdx, bestScore = pi, score
			}
		}
		if bestIdx >= 0 && bestScore >= jaccardThreshold {
			prevUsed[bestIdx] = true
			curMatched[ci] = true
			diff.Modified = append(diff.Modified, entry(c))
		}
	}

	for ci, c := range current {
		if !curMatched[ci] {
			diff.Added = append(diff.Added, entry(c))
		}
	}
	for pi, p := range previous {
		if !prevUsed[pi] {
			diff.Removed = append(diff.Removed, entry(p))
		}
	}
	return diff
}

func entry(c datatypes.Claim) datatypes.DiffEntry {
	return datatypes.DiffEntry{ClaimID: c.ID, Text: c.Text}
}

func tokenSet(text string) map[string]bool {
	set := map[string]bool{}
	for _, tok := range strings.Fields(strings.ToLower(text)) {
		tok = strings.Trim(tok, ".,;:!?()[]\"'")
		if tok != "" {
			set[tok] = true
		}
	}
	return set
}

func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	var inter int
	for tok := range a {
		if b[tok] {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
