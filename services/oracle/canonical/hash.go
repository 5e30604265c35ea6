// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package canonical

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/AleutianAI/OracleFOSS/services/oracle/datatypes"
)

// HashPrefix marks a content-addressed proposal hash.
const HashPrefix = "sha256:"

// Hash content-addresses canonical text under its source uri.
//
// The preimage is uri + "|" + canonical. An empty uri is allowed (text-only
// ingest); empty canonical text is not.
func Hash(canonicalText, uri string) (string, error) {
	if canonicalText == "" {
		return "", fmt.Errorf("%w: empty canonical text", datatypes.ErrInvalidInput)
	}
	sum := sha256.Sum256([]byte(uri + "|" + canonicalText))
	return HashPrefix + hex.EncodeToString(sum[:]), nil
}
