// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command oracle is the command line driver for the verifiable
// inference oracle.
//
// Most subcommands talk to a running oracle server over its HTTP API:
//
//	oracle ingest --file proposal.md
//	oracle validate sha256:abc... --wait
//	oracle status <job-id>
//	oracle aggregate <job-id> --out bundle.json
//
// Verification is fully offline and needs no server:
//
//	oracle verify bundle.json
//
// Exit codes for verify: 0 the bundle is intact, 1 the hash does not
// match, 2 the file is not a bundle, 3 the file could not be read.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
