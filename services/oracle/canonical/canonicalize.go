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
// Canonicalize is pure and idempotent: Canonicalize(Canonicalize(t)) ==
// Canonicalize(t) for all t. The hash contract is
//
//	"sha256:" + hex(sha256(uri + "|" + canonical_text))
//
// so a given (canonical text, uri) pair always yields the same hash on any
// machine. Everything downstream (version graph, evidence bundles) keys on
// that hash.
package canonical

import (
	"regexp"
	"strings"
)

// =============================================================================
// Canonicalization
// =============================================================================

var (
	htmlCommentRe = regexp.MustCompile(`(?s)<!--.*?-->`)
	htmlTagRe     = regexp.MustCompile(`</?[a-zA-Z][^>]*>`)

	diffFileRe = regexp.MustCompile(`(?m)^(\+\+\+ |--- |@@ .*? @@).*$`)
	diffHunkRe = regexp.MustCompile(`(?m)^@@.*$`)

	quoteSigStartRe = regexp.MustCompile(`^>\s*--\s*$`)

	frontmatterRe = regexp.MustCompile(`(?s)\A---\n(.*?)\n---\n`)

	// Snapshot proposals start their body with a recognizable markdown
	// section heading. Presence of one of these alongside frontmatter
	// means the frontmatter is tooling metadata, not content.
	snapshotSectionRe = regexp.MustCompile(`(?mi)^#{1,4}\s*(abstract|summary|motivation|specification|rationale|proposal)\b`)
)

// Canonicalize normalizes raw proposal text into its canonical form.
//
// Rules, applied in order:
//
//  1. Strip HTML tags and <!-- --> comments.
//  2. Remove diff markers (+++/---/@@ lines; a leading +/- on changed
//     lines when the text is a diff).
//  3. Drop quoted signature blocks and the "> " quoting prefix.
//  4. Drop YAML frontmatter when Snapshot-style section markers are also
//     present.
//  5. Tabs to four spaces; CRLF/CR to LF.
//  6. Right-trim every line, collapse runs of blank lines, strip leading
//     and trailing blank lines.
func Canonicalize(raw string) string {
	text := raw

	// Rule 5 (line endings) has to come first so the line-oriented rules
	// below see one delimiter; it is order-independent with rules 1-4.
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	// Rule 1: HTML.
	text = htmlCommentRe.ReplaceAllString(text, "")
	text = htmlTagRe.ReplaceAllString(text, "")

	// Rule 4 before rule 2: the frontmatter delimiter is a bare "---"
	// line that the diff rules would otherwise eat.
	if m := frontmatterRe.FindString(text); m != "" {
		rest := text[len(m):]
		if snapshotSectionRe.MatchString(rest) {
			text = rest
		}
	}

	// Rule 2: diff markers. Leading +/- are stripped only when the text
	// actually looks like a diff, so markdown bullet lists survive.
	isDiff := diffHunkRe.MatchString(text) ||
		strings.HasPrefix(text, "+++ ") || strings.Contains(text, "\n+++ ")
	text = diffFileRe.ReplaceAllString(text, "")
	if isDiff {
		lines := strings.Split(text, "\n")
		for i, line := range lines {
			if strings.HasPrefix(line, "+") || strings.HasPrefix(line, "-") {
				lines[i] = line[1:]
			}
		}
		text = strings.Join(lines, "\n")
	}

	// Rule 3: quoted signatures and quote prefixes.
	text = dropQuotedSignatures(text)

	// Rule 5: tabs.
	text = strings.ReplaceAll(text, "\t", "    ")

	// Rule 6: whitespace normalization.
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	blankRun := 0
	for _, line := range lines {
		line = strings.TrimRight(line, " \t")
		if line == "" {
			blankRun++
			if blankRun > 1 {
				continue
			}
		} else {
			blankRun = 0
		}
		out = append(out, line)
	}
	for len(out) > 0 && out[0] == "" {
		out = out[1:]
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}

// dropQuotedSignatures removes "> --" signature blocks and unwraps the
// "> " quoting prefix from surviving quoted lines.
func dropQuotedSignatures(text string) string {
	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	inSig := false
	for _, line := range lines {
		isQuoted := strings.HasPrefix(line, ">")
		if inSig {
			if isQuoted {
				continue
			}
			inSig = false
		}
		if quoteSigStartRe.MatchString(line) {
			inSig = true
			continue
		}
		if isQuoted {
			line = strings.TrimPrefix(line, ">")
			line = strings.TrimPrefix(line, " ")
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// Paragraphs splits canonical text into paragraphs on blank lines,
// returning each paragraph with its starting byte offset.
func Paragraphs(canonical string) []ParagraphSpan {
	var spans []ParagraphSpan
	offset := 0
	for _, block := range strings.Split(canonical, "\n\n") {
		if strings.TrimSpace(block) != "" {
			spans = append(spans, ParagraphSpan{Text: block, Start: offset})
		}
		offset += len(block) + 2
	}
	return spans
}

// ParagraphSpan is one canonical paragraph and its byte offset.
type ParagraphSpan struct {
	Text  string
	Start int
}
