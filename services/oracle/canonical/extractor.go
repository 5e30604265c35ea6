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
// This file wraps the pluggable ClaimExtractor capability with a
// deterministic heuristic fallback. The heuristic is the reproducibility
// floor: identical canonical text always yields the identical claim set
// from it, and it never fails on non-empty input.
package canonical

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/OracleFOSS/services/oracle/datatypes"
)

// ClaimExtractor is the abstract claim extraction capability.
//
// Implementations may call an LLM; returning an error or an empty set is
// not fatal because the caller falls back to the heuristic extractor.
type ClaimExtractor interface {
	ExtractClaims(ctx context.Context, canonicalText string) ([]datatypes.Claim, error)
}

// Origins reported by Extractor.ExtractClaims alongside the claim set.
const (
	OriginLLM       = "llm"
	OriginHeuristic = "heuristic"
)

// Extractor runs the pluggable extractor with heuristic fallback.
type Extractor struct {
	llm    ClaimExtractor // may be nil
	logger *slog.Logger
}

// NewExtractor creates an extractor. llm may be nil to run heuristic-only.
func NewExtractor(llm ClaimExtractor, logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{llm: llm, logger: logger}
}

// ExtractClaims returns the claim set for canonical text and the origin
// that produced it, OriginLLM or OriginHeuristic.
//
// The LLM-backed extractor is tried first; on error or an empty result
// the heuristic takes over. Claim ids are reassigned "c1".."cN" in final
// order regardless of which extractor produced them, and extracts are
// recomputed from text so the determinism invariant holds even for
// LLM-produced claims.
func (e *Extractor) ExtractClaims(ctx context.Context, canonicalText string) ([]datatypes.Claim, string, error) {
	if canonicalText == "" {
		return nil, "", fmt.Errorf("%w: empty canonical text", datatypes.ErrInvalidInput)
	}

	if e.llm != nil {
		claims, err := e.llm.ExtractClaims(ctx, canonicalText)
		if err != nil {
			e.logger.Warn("llm claim extraction failed, using heuristic",
				"error", err.Error())
		} else if len(claims) > 0 {
			return finalizeClaims(claims), OriginLLM, nil
		} else {
			e.logger.Warn("llm claim extraction returned no claims, using heuristic")
		}
	}

	claims := HeuristicClaims(canonicalText)
	if len(claims) == 0 {
		return nil, "", fmt.Errorf("%w: heuristic produced no claims", datatypes.ErrExtractorUnavailable)
	}
	return claims, OriginHeuristic, nil
}

// finalizeClaims reassigns ids and recomputes extracts and types.
func finalizeClaims(claims []datatypes.Claim) []datatypes.Claim {
	out := make([]datatypes.Claim, len(claims))
	for i, c := range claims {
		c.ID = fmt.Sprintf("c%d", i+1)
		c.Canonical = Extracts(c.Text)
		c.Type = ClassifyClaim(c.Text, c.Canonical)
		out[i] = c
	}
	return out
}

// =============================================================================
// Heuristic Extractor
// =============================================================================

// HeuristicClaims deterministically extracts one claim per sentence of at
// least three words. Char ranges are byte offsets into the canonical text.
func HeuristicClaims(canonicalText string) []datatypes.Claim {
	var claims []datatypes.Claim
	for pi, para := range Paragraphs(canonicalText) {
		for _, s := range splitSentences(para.Text) {
			text := strings.TrimSpace(s.text)
			if wordCount(text) < 3 {
				continue
			}
			// Skip markdown headings: titles are labels, not assertions.
			if strings.HasPrefix(text, "#") {
				continue
			}
			start := para.Start + s.start + strings.Index(s.text, text)
			claims = append(claims, datatypes.Claim{
				Text:           text,
				ParagraphIndex: pi,
				CharRange:      [2]int{start, start + len(text)},
			})
		}
	}
	return finalizeClaims(claims)
}

type sentenceSpan struct {
	text  string
	start int
}

// splitSentences splits on terminal punctuation followed by whitespace or
// end of text. Decimal points and 0x-hex runs do not terminate a sentence.
func splitSentences(text string) []sentenceSpan {
	var spans []sentenceSpan
	start := 0
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if ch != '.' && ch != '!' && ch != '?' {
			continue
		}
		// A digit on both sides of '.' is a decimal, not a terminator.
		if ch == '.' && i+1 < len(text) && isDigit(text[i+1]) && i > 0 && isDigit(text[i-1]) {
			continue
		}
		end := i + 1
		if end < len(text) && !isSpaceByte(text[end]) {
			continue
		}
		if end > start {
			spans = append(spans, sentenceSpan{text[start:end], start})
		}
		for end < len(text) && isSpaceByte(text[end]) {
			end++
		}
		start = end
		i = end - 1
	}
	if start < len(text) && strings.TrimSpace(text[start:]) != "" {
		spans = append(spans, sentenceSpan{text[start:], start})
	}
	return spans
}

func wordCount(s string) int {
	return len(strings.Fields(s))
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

func isSpaceByte(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t'
}
