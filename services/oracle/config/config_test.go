// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "oracle.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad_DefaultsOnly(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8090", cfg.HTTPAddr)
	assert.Equal(t, "/data", cfg.DataDir)
	assert.True(t, cfg.Router.MockMode)
	assert.Equal(t, 5, cfg.Jobs.MinerCount)
	assert.Equal(t, 3, cfg.Jobs.MinerQuorum)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := writeFile(t, `
http_addr: ":9000"
data_dir: /var/oracle
log_level: debug
jobs:
  miner_count: 7
  miner_quorum: 4
  miner_timeout_seconds: 30
  max_retries: 1
  bootstrap_seed: 42
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.HTTPAddr)
	assert.Equal(t, "/var/oracle", cfg.DataDir)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 7, cfg.Jobs.MinerCount)
	require.NotNil(t, cfg.Jobs.BootstrapSeed)
	assert.Equal(t, int64(42), *cfg.Jobs.BootstrapSeed)

	jc := cfg.JobConfig()
	assert.Equal(t, 30*time.Second, jc.MinerTimeout)
	assert.Equal(t, 1, jc.MaxRetries)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeFile(t, `
http_addr: ":9000"
router:
  mock_mode: true
`)
	t.Setenv("ORACLE_HTTP_ADDR", ":7777")
	t.Setenv("ORACLE_MOCK_MODE", "false")
	t.Setenv("ORACLE_ROUTER_URL", "https://router.example.com")
	t.Setenv("ORACLE_ROUTER_API_KEY", "secret")
	t.Setenv("ORACLE_SESSION_ID", "sess-1")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7777", cfg.HTTPAddr)
	assert.False(t, cfg.Router.MockMode)
	assert.Equal(t, "https://router.example.com", cfg.Router.URL)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestLoad_MalformedYAML(t *testing.T) {
	path := writeFile(t, "jobs: [not: a map")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate_NonMockRequiresCredentials(t *testing.T) {
	cfg := Default()
	cfg.Router.MockMode = false
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "router_url")

	cfg.Router.URL = "https://router.example.com"
	cfg.Router.APIKey = "secret"
	cfg.Router.SessionID = "sess-1"
	assert.NoError(t, cfg.Validate())
}

func TestValidate_QuorumBounds(t *testing.T) {
	cfg := Default()
	cfg.Jobs.MinerQuorum = cfg.Jobs.MinerCount + 1
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "miner_quorum")
}

func TestValidate_LogLevel(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"
	assert.Error(t, cfg.Validate())
}
