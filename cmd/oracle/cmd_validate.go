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
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/OracleFOSS/services/oracle/datatypes"
)

// =============================================================================
// COMMAND DEFINITIONS
// =============================================================================

// validateCmd starts a validation job for a registered version.
//
// # Examples
//
//	oracle validate sha256:abc...
//	oracle validate sha256:abc... --wait
//	oracle validate sha256:abc... --miners 7 --quorum 5
var validateCmd = &cobra.Command{
	Use:   "validate <proposal-hash>",
	Short: "Fan a registered proposal's claims out to the miner set",
	Args:  cobra.ExactArgs(1),
	Run:   runValidateCommand,
}

// statusCmd polls a job's observable state.
var statusCmd = &cobra.Command{
	Use:   "status <job-id>",
	Short: "Show the current state of a validation job",
	Args:  cobra.ExactArgs(1),
	Run:   runStatusCommand,
}

// minersCmd lists the miner roster known to the server.
var minersCmd = &cobra.Command{
	Use:   "miners",
	Short: "List the inference network miner roster",
	Run:   runMinersCommand,
}

func init() {
	validateCmd.Flags().BoolVarP(&waitForJob, "wait", "w", false,
		"Block until the job settles, printing progress")
	validateCmd.Flags().IntVar(&jobOverride.MinerCount, "miners", 0,
		"Override the redundancy level (delegations per claim)")
	validateCmd.Flags().IntVar(&jobOverride.MinerQuorum, "quorum", 0,
		"Override the per-claim quorum")
	validateCmd.Flags().IntVar(&jobOverride.TimeoutSecs, "timeout", 0,
		"Override the per-claim timeout in seconds")
	validateCmd.Flags().IntVar(&jobOverride.MaxRetries, "retries", -1,
		"Override the per-request retry budget")
	validateCmd.Flags().Int64Var(&jobOverride.BootstrapSeed, "seed", 0,
		"Seed the aggregation bootstrap for reproducible intervals")
}

// =============================================================================
// COMMAND IMPLEMENTATIONS
// =============================================================================

func runValidateCommand(cmd *cobra.Command, args []string) {
	req := datatypes.ValidateRequest{ProposalHash: args[0]}
	if cfg := overrideConfig(cmd); cfg != nil {
		req.Config = cfg
	}

	client := newAPIClient()
	var resp datatypes.ValidateResponse
	if err := client.postJSON(cmd.Context(), "/v1/jobs", req, &resp); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if !waitForJob {
		if jsonOutput {
			_ = json.NewEncoder(os.Stdout).Encode(resp)
		} else {
			fmt.Printf("Job %s queued\n", resp.JobID)
		}
		return
	}

	status := pollUntilTerminal(cmd, client, resp.JobID)
	if !jsonOutput {
		// End the \r progress line before the final report.
		fmt.Println()
	}
	printStatus(resp.JobID, status)
	if status.Status == datatypes.JobFailed {
		os.Exit(1)
	}
}

// overrideConfig builds a job config override from flags, or nil when no
// override flag was set. Partial overrides start from the hardcoded
// defaults so the result always passes validation.
func overrideConfig(cmd *cobra.Command) *datatypes.JobConfig {
	flags := cmd.Flags()
	touched := flags.Changed("miners") || flags.Changed("quorum") ||
		flags.Changed("timeout") || flags.Changed("retries") || flags.Changed("seed")
	if !touched {
		return nil
	}

	cfg := datatypes.DefaultJobConfig()
	if jobOverride.MinerCount > 0 {
		cfg.MinerCount = jobOverride.MinerCount
	}
	if jobOverride.MinerQuorum > 0 {
		cfg.MinerQuorum = jobOverride.MinerQuorum
	}
	if jobOverride.TimeoutSecs > 0 {
		cfg.MinerTimeout = time.Duration(jobOverride.TimeoutSecs) * time.Second
	}
	if jobOverride.MaxRetries >= 0 {
		cfg.MaxRetries = jobOverride.MaxRetries
	}
	if flags.Changed("seed") {
		seed := jobOverride.BootstrapSeed
		cfg.BootstrapSeed = &seed
	}
	return &cfg
}

func pollUntilTerminal(cmd *cobra.Command, client *apiClient, jobID string) datatypes.StatusResponse {
	var status datatypes.StatusResponse
	for {
		if err := client.getJSON(cmd.Context(), "/v1/jobs/"+jobID, &status); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		if status.Status.Terminal() {
			return status
		}
		if !jsonOutput {
			fmt.Printf("\r%s: %d/%d claims validated, %d miners responded",
				status.Status, status.ClaimsValidated, status.ClaimsTotal, status.MinersResponded)
		}
		select {
		case <-cmd.Context().Done():
			fmt.Fprintln(os.Stderr, "\nInterrupted")
			os.Exit(1)
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func runStatusCommand(cmd *cobra.Command, args []string) {
	var status datatypes.StatusResponse
	if err := newAPIClient().getJSON(cmd.Context(), "/v1/jobs/"+args[0], &status); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	printStatus(args[0], status)
}

func printStatus(jobID string, status datatypes.StatusResponse) {
	if jsonOutput {
		_ = json.NewEncoder(os.Stdout).Encode(status)
		return
	}
	fmt.Printf("Job %s: %s\n", jobID, status.Status)
	fmt.Printf("  claims:    %d/%d validated\n", status.ClaimsValidated, status.ClaimsTotal)
	fmt.Printf("  miners:    %d contacted, %d responded\n", status.MinersContacted, status.MinersResponded)
	if status.Error != "" {
		fmt.Printf("  error:     %s\n", status.Error)
	}
}

func runMinersCommand(cmd *cobra.Command, args []string) {
	var listing struct {
		Miners []struct {
			MinerID string `json:"miner_id"`
			Model   string `json:"model"`
			Address string `json:"address"`
		} `json:"miners"`
	}
	if err := newAPIClient().getJSON(cmd.Context(), "/v1/miners", &listing); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if jsonOutput {
		_ = json.NewEncoder(os.Stdout).Encode(listing)
		return
	}
	for _, m := range listing.Miners {
		fmt.Printf("%-12s %-28s %s\n", m.MinerID, m.Model, m.Address)
	}
}
