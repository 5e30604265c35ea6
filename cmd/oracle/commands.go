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
	"os"

	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	serverURL   string
	authToken   string
	jsonOutput  bool
	ingestFile  string
	ingestURL   string
	previousID  string
	waitForJob  bool
	outputPath  string
	jobOverride jobFlags

	rootCmd = &cobra.Command{
		Use:   "oracle",
		Short: "Driver CLI for the verifiable inference oracle",
		Long: `Oracle ingests funding proposals, fans their claims out to a
redundant miner set, and seals the results into offline-verifiable
evidence bundles.`,
	}
)

// jobFlags carries per-job config overrides from the command line.
// Zero values mean "use the server's defaults".
type jobFlags struct {
	MinerCount    int
	MinerQuorum   int
	TimeoutSecs   int
	MaxRetries    int
	BootstrapSeed int64
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server",
		envOr("ORACLE_SERVER", "http://localhost:8090"), "Oracle server base URL")
	rootCmd.PersistentFlags().StringVar(&authToken, "token",
		os.Getenv("ORACLE_AUTH_TOKEN"), "Bearer token for the server API")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Output raw JSON for scripting")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(aggregateCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(minersCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
