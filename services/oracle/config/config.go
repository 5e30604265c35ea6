// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the oracle service configuration.
//
// Precedence, lowest to highest: built-in defaults, the YAML file,
// ORACLE_* environment variables. Validation runs after all three are
// merged, so an env var can both break and fix a config file.
//
// Thread Safety: a loaded Config is read-only; share it freely.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/OracleFOSS/services/oracle/datatypes"
)

// MaxConfigFileSize caps the YAML file read (1MB).
const MaxConfigFileSize = 1024 * 1024

var validate = validator.New()

// RouterConfig is the inference network connection.
type RouterConfig struct {
	// URL is the router base URL. Required unless MockMode.
	URL string `yaml:"router_url"`

	// APIKey is the bearer token. Required unless MockMode.
	APIKey string `yaml:"router_api_key"`

	// SessionID scopes delegations on the router. Required unless
	// MockMode.
	SessionID string `yaml:"session_id"`

	// MockMode swaps the router for the deterministic in-process mock.
	MockMode bool `yaml:"mock_mode"`

	// MockSeed seeds the mock gateway.
	MockSeed int64 `yaml:"mock_seed"`

	// RequestsPerSecond rate-limits outbound calls. Zero disables.
	RequestsPerSecond float64 `yaml:"requests_per_second" validate:"gte=0"`
}

// JobDefaults are the system-wide fan-out defaults, overridable per job.
type JobDefaults struct {
	MinerCount          int    `yaml:"miner_count" validate:"min=1"`
	MinerQuorum         int    `yaml:"miner_quorum" validate:"min=1"`
	MinerTimeoutSeconds int    `yaml:"miner_timeout_seconds" validate:"min=1"`
	MaxRetries          int    `yaml:"max_retries" validate:"min=0"`
	BootstrapSeed       *int64 `yaml:"bootstrap_seed"`
}

// Config is the full service configuration.
type Config struct {
	// HTTPAddr is the listen address of the driver API.
	HTTPAddr string `yaml:"http_addr" validate:"required"`

	// DataDir is the persisted state root.
	DataDir string `yaml:"data_dir" validate:"required"`

	// AuthToken guards the driver API when non-empty.
	AuthToken string `yaml:"auth_token"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" validate:"oneof=debug info warn error"`

	// OTLPEndpoint enables trace export when non-empty (host:port).
	OTLPEndpoint string `yaml:"otlp_endpoint"`

	// PublishDir receives published bundles; empty means no publish sink.
	PublishDir string `yaml:"publish_dir"`

	Router RouterConfig `yaml:"router"`
	Jobs   JobDefaults  `yaml:"jobs"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		HTTPAddr: ":8090",
		DataDir:  "/data",
		LogLevel: "info",
		Router: RouterConfig{
			MockMode: true,
			MockSeed: 1,
		},
		Jobs: JobDefaults{
			MinerCount:          5,
			MinerQuorum:         3,
			MinerTimeoutSeconds: 12,
			MaxRetries:          3,
		},
	}
}

// Load reads path (optional), applies ORACLE_* env overrides, and
// validates. An empty path skips the file layer.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			return Config{}, fmt.Errorf("config file: %w", err)
		}
		if info.Size() > MaxConfigFileSize {
			return Config{}, fmt.Errorf("config file %s exceeds %d bytes", path, MaxConfigFileSize)
		}
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv merges ORACLE_* environment overrides.
func applyEnv(cfg *Config) {
	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setString("ORACLE_HTTP_ADDR", &cfg.HTTPAddr)
	setString("ORACLE_DATA_DIR", &cfg.DataDir)
	setString("ORACLE_AUTH_TOKEN", &cfg.AuthToken)
	setString("ORACLE_LOG_LEVEL", &cfg.LogLevel)
	setString("ORACLE_OTLP_ENDPOINT", &cfg.OTLPEndpoint)
	setString("ORACLE_PUBLISH_DIR", &cfg.PublishDir)
	setString("ORACLE_ROUTER_URL", &cfg.Router.URL)
	setString("ORACLE_ROUTER_API_KEY", &cfg.Router.APIKey)
	setString("ORACLE_SESSION_ID", &cfg.Router.SessionID)

	if v, ok := os.LookupEnv("ORACLE_MOCK_MODE"); ok {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.Router.MockMode = parsed
		}
	}
	if v, ok := os.LookupEnv("ORACLE_BOOTSTRAP_SEED"); ok {
		if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Jobs.BootstrapSeed = &parsed
		}
	}
}

// Validate checks structural rules and the mock/credentials cross rule.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Jobs.MinerQuorum > c.Jobs.MinerCount {
		return fmt.Errorf("invalid configuration: miner_quorum %d exceeds miner_count %d",
			c.Jobs.MinerQuorum, c.Jobs.MinerCount)
	}
	if !c.Router.MockMode {
		if c.Router.URL == "" || c.Router.APIKey == "" || c.Router.SessionID == "" {
			return fmt.Errorf("invalid configuration: router_url, router_api_key and session_id are required when mock_mode is off")
		}
	}
	return nil
}

// JobConfig converts the defaults into a per-job configuration.
func (c Config) JobConfig() datatypes.JobConfig {
	return datatypes.JobConfig{
		MinerCount:    c.Jobs.MinerCount,
		MinerQuorum:   c.Jobs.MinerQuorum,
		MinerTimeout:  time.Duration(c.Jobs.MinerTimeoutSeconds) * time.Second,
		MaxRetries:    c.Jobs.MaxRetries,
		BootstrapSeed: c.Jobs.BootstrapSeed,
	}
}
