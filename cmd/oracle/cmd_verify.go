// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/OracleFOSS/services/oracle/bundle"
	"github.com/AleutianAI/OracleFOSS/services/oracle/datatypes"
)

// Verify exit codes. Scripts branch on these, so they are part of the
// command's contract.
const (
	verifyExitOK        = 0
	verifyExitMismatch  = 1
	verifyExitMalformed = 2
	verifyExitIO        = 3
)

// verifyCmd replays a bundle offline. No server, no network.
//
// # Examples
//
//	oracle verify bundle.json
//	oracle verify bundle.json --json
var verifyCmd = &cobra.Command{
	Use:   "verify <bundle-file>",
	Short: "Verify an evidence bundle's computation hash offline",
	Long: `Recomputes the computation hash from the bundle's canonical content
and compares it with the embedded hash. Runs entirely offline; anyone
holding the bundle file can perform the same check.

Exit codes: 0 intact, 1 hash mismatch, 2 not a bundle, 3 read error.`,
	Args: cobra.ExactArgs(1),
	Run:  runVerifyCommand,
}

func runVerifyCommand(cmd *cobra.Command, args []string) {
	raw, err := os.ReadFile(args[0])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", args[0], err)
		os.Exit(verifyExitIO)
	}

	result, verifyErr := bundle.Verify(raw)

	if jsonOutput {
		_ = json.NewEncoder(os.Stdout).Encode(result)
	} else {
		switch {
		case verifyErr == nil:
			fmt.Printf("OK: %s\n", result.ComputedHash)
		case errors.Is(verifyErr, datatypes.ErrVerification):
			fmt.Printf("MISMATCH: bundle says %s\n", result.ExpectedHash)
			fmt.Printf("  canonical content hashes to %s\n", result.ComputedHash)
		default:
			fmt.Printf("MALFORMED: %v\n", verifyErr)
		}
	}

	os.Exit(verifyExitCode(verifyErr))
}

// verifyExitCode maps a verification error to the documented exit code.
func verifyExitCode(err error) int {
	switch {
	case err == nil:
		return verifyExitOK
	case errors.Is(err, datatypes.ErrVerification):
		return verifyExitMismatch
	case errors.Is(err, datatypes.ErrParse):
		return verifyExitMalformed
	default:
		return verifyExitMalformed
	}
}
