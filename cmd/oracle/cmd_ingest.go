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
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/OracleFOSS/services/oracle/datatypes"
)

// =============================================================================
// COMMAND DEFINITION
// =============================================================================

// ingestCmd registers a proposal version with the oracle.
//
// # Examples
//
//	oracle ingest --file proposal.md
//	oracle ingest --url https://forum.example.org/proposal/42
//	oracle ingest --file proposal_v2.md --previous <proposal-id>
var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Canonicalize a proposal and register it for validation",
	Long: `Submits proposal text to the oracle server, which canonicalizes it,
extracts its falsifiable claims, and registers the version in the
proposal graph. Re-ingesting unchanged content is a no-op and returns
the already registered version.`,
	Run: runIngestCommand,
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestFile, "file", "f", "",
		"Read proposal text from a local file (- for stdin)")
	ingestCmd.Flags().StringVarP(&ingestURL, "url", "u", "",
		"Have the server fetch the proposal from this URL")
	ingestCmd.Flags().StringVar(&previousID, "previous", "",
		"Proposal id this submission is a new version of")
}

// =============================================================================
// COMMAND IMPLEMENTATION
// =============================================================================

func runIngestCommand(cmd *cobra.Command, args []string) {
	req := datatypes.IngestRequest{
		URL:                ingestURL,
		PreviousProposalID: previousID,
	}
	switch {
	case ingestFile == "" && ingestURL == "":
		fmt.Fprintln(os.Stderr, "Error: one of --file or --url is required")
		os.Exit(1)
	case ingestFile == "-":
		raw, err := io.ReadAll(os.Stdin)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading stdin: %v\n", err)
			os.Exit(3)
		}
		req.Text = string(raw)
	case ingestFile != "":
		raw, err := os.ReadFile(ingestFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error reading %s: %v\n", ingestFile, err)
			os.Exit(3)
		}
		req.Text = string(raw)
	}

	var resp datatypes.IngestResponse
	if err := newAPIClient().postJSON(cmd.Context(), "/v1/proposals", req, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if jsonOutput {
		_ = json.NewEncoder(os.Stdout).Encode(resp)
		return
	}

	fmt.Printf("Proposal %s registered as version %d\n", resp.ProposalID, resp.VersionNumber)
	fmt.Printf("  hash:   %s\n", resp.ProposalHash)
	fmt.Printf("  claims: %d\n", len(resp.Claims))
	if resp.ClaimDiff != nil {
		fmt.Printf("  diff:   %d added, %d modified, %d removed, %d unchanged\n",
			len(resp.ClaimDiff.Added), len(resp.ClaimDiff.Modified),
			len(resp.ClaimDiff.Removed), len(resp.ClaimDiff.Unchanged))
	}
}
