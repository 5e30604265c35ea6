// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package bundle

import (
	"encoding/json"
	"fmt"

	"github.com/AleutianAI/OracleFOSS/services/oracle/datatypes"
)

// Verify replays a serialized bundle offline: parse, recompute the
// canonical hash, compare. It performs no network or filesystem I/O.
//
// Malformed input returns an error wrapping datatypes.ErrParse; a clean
// parse with a hash mismatch returns OK=false with an error wrapping
// datatypes.ErrVerification. The result carries both hashes either way.
func Verify(raw []byte) (datatypes.VerificationResult, error) {
	var b datatypes.EvidenceBundle
	if err := json.Unmarshal(raw, &b); err != nil {
		return datatypes.VerificationResult{
			OK:     false,
			Errors: []string{"malformed bundle: " + err.Error()},
		}, fmt.Errorf("%w: %s", datatypes.ErrParse, err)
	}
	if b.ComputationHash == "" {
		return datatypes.VerificationResult{
			OK:     false,
			Errors: []string{"bundle carries no computation_hash"},
		}, fmt.Errorf("%w: missing computation_hash", datatypes.ErrParse)
	}

	computed, err := Hash(b)
	if err != nil {
		return datatypes.VerificationResult{
			OK:           false,
			ExpectedHash: b.ComputationHash,
			Errors:       []string{"hash recomputation failed: " + err.Error()},
		}, fmt.Errorf("%w: %s", datatypes.ErrParse, err)
	}

	result := datatypes.VerificationResult{
		ExpectedHash: b.ComputationHash,
		ComputedHash: computed,
	}
	if computed != b.ComputationHash {
		result.Errors = []string{fmt.Sprintf(
			"computation hash mismatch: bundle says %s, canonical content hashes to %s",
			b.ComputationHash, computed)}
		return result, fmt.Errorf("%w: job %s", datatypes.ErrVerification, b.JobID)
	}
	result.OK = true
	return result, nil
}

// VerifyBundle replays an already-decoded bundle.
func VerifyBundle(b datatypes.EvidenceBundle) (datatypes.VerificationResult, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return datatypes.VerificationResult{}, fmt.Errorf("%w: %s", datatypes.ErrParse, err)
	}
	return Verify(raw)
}
