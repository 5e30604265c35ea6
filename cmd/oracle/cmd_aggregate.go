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

	"github.com/spf13/cobra"

	"github.com/AleutianAI/OracleFOSS/services/oracle/datatypes"
)

// aggregateCmd seals the evidence bundle of a settled job.
//
// # Examples
//
//	oracle aggregate <job-id>
//	oracle aggregate <job-id> --out bundle.json
var aggregateCmd = &cobra.Command{
	Use:   "aggregate <job-id>",
	Short: "Reduce a settled job's responses into a sealed evidence bundle",
	Long: `Aggregates miner responses into per-claim statistics, computes the
overall confidence interval, and seals everything under a computation
hash. Aggregating the same job twice returns the identical bundle.`,
	Args: cobra.ExactArgs(1),
	Run:  runAggregateCommand,
}

func init() {
	aggregateCmd.Flags().StringVarP(&outputPath, "out", "o", "",
		"Write the sealed bundle to this file instead of stdout")
}

func runAggregateCommand(cmd *cobra.Command, args []string) {
	var sealed datatypes.EvidenceBundle
	if err := newAPIClient().postJSON(cmd.Context(), "/v1/jobs/"+args[0]+"/aggregate", nil, &sealed); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	raw, err := json.MarshalIndent(sealed, "", "  ")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error encoding bundle: %v\n", err)
		os.Exit(1)
	}

	if outputPath != "" {
		if err := os.WriteFile(outputPath, raw, 0o644); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing %s: %v\n", outputPath, err)
			os.Exit(3)
		}
		fmt.Printf("Bundle sealed: %s\n", sealed.ComputationHash)
		fmt.Printf("  written to %s\n", outputPath)
		return
	}

	if jsonOutput {
		fmt.Println(string(raw))
		return
	}
	fmt.Printf("Bundle sealed: %s\n", sealed.ComputationHash)
	fmt.Printf("  job:        %s (%s)\n", sealed.JobID, sealed.JobStatus)
	fmt.Printf("  scope:      %s, %d claims\n", sealed.ValidationScope, len(sealed.Claims))
	fmt.Printf("  agreement:  %.3f\n", sealed.OverallPoIAgreement)
	fmt.Printf("  pouw:       %.3f  ci95 [%.3f, %.3f]\n",
		sealed.OverallPoUWScore, sealed.OverallCI95[0], sealed.OverallCI95[1])
	for _, flag := range sealed.CriticalFlags {
		fmt.Printf("  flag:       %s\n", flag)
	}
}
