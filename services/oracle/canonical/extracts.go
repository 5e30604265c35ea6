// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package canonical produces the deterministic canonical form and
// content-addressed hash of proposal text, and extracts claims from it.
//
// This file derives the structured extracts (numbers, addresses, urls)
// inside a claim. Extraction is a pure function of the claim text: two
// claims with equal text always carry equal extracts.
package canonical

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/AleutianAI/OracleFOSS/services/oracle/datatypes"
)

// =============================================================================
// Extraction Regexes
// =============================================================================

var (
	// addressRe over-matches so 41+ hex digit strings can be rejected
	// instead of truncated to a false 40-digit address.
	addressRe = regexp.MustCompile(`0x[0-9a-fA-F]{40,}`)

	urlRe = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9+.-]*://[^\s<>"')\]]+`)

	// numberRe: grouped thousands first so "1,000,000" is one token, then
	// plain decimals; optional unit suffix.
	numberRe = regexp.MustCompile(`(\d{1,3}(?:,\d{3})+(?:\.\d+)?|\d+(?:\.\d+)?)\s*(%|(?i:percent|million|billion|thousand)\b)?`)

	normativeRe = regexp.MustCompile(`(?i)\b(shall|must|should|is required|is prohibited|may not)\b`)
)

// =============================================================================
// Extracts
// =============================================================================

// Extracts derives the canonical structured extracts from claim text.
func Extracts(text string) datatypes.CanonicalExtracts {
	ex := datatypes.CanonicalExtracts{
		Numbers:   []float64{},
		Addresses: []string{},
		URLs:      []string{},
	}

	// Addresses first: their hex digits must never leak into Numbers.
	masked := []byte(text)
	for _, loc := range addressRe.FindAllStringIndex(text, -1) {
		raw := text[loc[0]:loc[1]]
		if len(raw) == 42 {
			ex.Addresses = appendUnique(ex.Addresses, strings.ToLower(raw))
		}
		maskRange(masked, loc[0], loc[1])
	}

	for _, loc := range urlRe.FindAllStringIndex(text, -1) {
		raw := strings.TrimRight(text[loc[0]:loc[1]], ".,;:")
		if norm, ok := normalizeURL(raw); ok {
			ex.URLs = appendUnique(ex.URLs, norm)
		}
		maskRange(masked, loc[0], loc[1])
	}

	ex.Numbers = extractNumbers(string(masked))
	return ex
}

// ClassifyClaim assigns a claim type from its text and extracts.
// Quantities dominate: a normative sentence about a number is still
// numerically testable.
func ClassifyClaim(text string, ex datatypes.CanonicalExtracts) datatypes.ClaimType {
	if len(ex.Numbers) > 0 {
		return datatypes.ClaimNumeric
	}
	if normativeRe.MatchString(text) {
		return datatypes.ClaimNormative
	}
	return datatypes.ClaimFactual
}

// =============================================================================
// Numbers
// =============================================================================

func extractNumbers(text string) []float64 {
	nums := []float64{}
	for _, m := range numberRe.FindAllStringSubmatchIndex(text, -1) {
		start := m[0]
		// Reject numbers glued to a word ("v2", "sha256") or to another
		// number fragment.
		if start > 0 && isWordByte(text[start-1]) {
			continue
		}
		digits := strings.ReplaceAll(text[m[2]:m[3]], ",", "")
		v, err := strconv.ParseFloat(digits, 64)
		if err != nil {
			continue
		}
		if m[4] >= 0 {
			switch strings.ToLower(text[m[4]:m[5]]) {
			case "%", "percent":
				v /= 100
			case "thousand":
				v *= 1e3
			case "million":
				v *= 1e6
			case "billion":
				v *= 1e9
			}
		}
		nums = append(nums, v)
	}
	return nums
}

func isWordByte(b byte) bool {
	return b == '_' || b == '.' ||
		(b >= '0' && b <= '9') ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z')
}

// =============================================================================
// URLs
// =============================================================================

// normalizeURL lowercases scheme and host and removes the trailing slash
// from the path. Unparseable candidates are dropped rather than guessed at.
func normalizeURL(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String(), true
}

func appendUnique(list []string, v string) []string {
	for _, have := range list {
		if have == v {
			return list
		}
	}
	return append(list, v)
}

func maskRange(b []byte, start, end int) {
	for i := start; i < end && i < len(b); i++ {
		b[i] = ' '
	}
}
