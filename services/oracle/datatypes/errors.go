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
// This file defines the error taxonomy surfaced through the driver API.
// Components wrap these sentinels with fmt.Errorf("...: %w", ...) so
// handlers can map them to HTTP statuses with errors.Is and the CLI can
// map them to exit codes.
package datatypes

import "errors"

var (
	// ErrInvalidInput means the canonicalizer received empty text, or an
	// ingest request supplied neither url nor text.
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound means an unknown proposal_hash or job_id.
	ErrNotFound = errors.New("not found")

	// ErrExtractorUnavailable means both the LLM extractor and the
	// heuristic fallback failed. The heuristic never fails on non-empty
	// input, so seeing this is an invariant violation.
	ErrExtractorUnavailable = errors.New("claim extractor unavailable")

	// ErrAuthFailure means the inference network rejected credentials.
	// Never retried.
	ErrAuthFailure = errors.New("inference network auth failure")

	// ErrTimeout means a per-claim or per-request deadline was exceeded.
	ErrTimeout = errors.New("deadline exceeded")

	// ErrQuorumNotReached means a claim collected fewer than quorum
	// responses before its deadline.
	ErrQuorumNotReached = errors.New("quorum not reached")

	// ErrTransient means a network or 5xx failure survived the retry
	// budget.
	ErrTransient = errors.New("transient inference network failure")

	// ErrVerification means a bundle hash mismatch.
	ErrVerification = errors.New("bundle verification failure")

	// ErrParse means an external response had an unrecognized shape.
	ErrParse = errors.New("unparseable inference response")

	// ErrInternal means an invariant violation.
	ErrInternal = errors.New("internal error")
)

// ErrorClass returns the taxonomy name for err, or "internal" when the
// error wraps none of the sentinels.
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrExtractorUnavailable):
		return "extractor_unavailable"
	case errors.Is(err, ErrAuthFailure):
		return "auth_failure"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrQuorumNotReached):
		return "quorum_not_reached"
	case errors.Is(err, ErrTransient):
		return "transient"
	case errors.Is(err, ErrVerification):
		return "verification_failure"
	case errors.Is(err, ErrParse):
		return "parse_error"
	default:
		return "internal"
	}
}
