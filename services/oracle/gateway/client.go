// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package gateway is the only module that talks to the decentralized
// inference router.
//
// This file implements the authenticated HTTP client against the router's
// completions endpoint.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/AleutianAI/OracleFOSS/services/oracle/datatypes"
	"golang.org/x/time/rate"
)

// =============================================================================
// Configuration
// =============================================================================

// ClientConfig configures the router client.
type ClientConfig struct {
	// RouterURL is the router base URL. Required.
	RouterURL string

	// APIKey is the bearer token. Required; absence is a configuration
	// error, never a runtime retry.
	APIKey string

	// SessionID is the delegation session. Required.
	SessionID string

	// RetryAttempts is the retry budget for transient failures.
	RetryAttempts int

	// RetryBackoff is the initial backoff between retries.
	RetryBackoff time.Duration

	// MaxRetryBackoff caps the exponential backoff.
	MaxRetryBackoff time.Duration

	// RetryJitter adds randomness to backoff (0.0-1.0).
	RetryJitter float64

	// RequestsPerSecond throttles outbound calls. Zero disables.
	RequestsPerSecond float64

	// Logger for request logging. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultClientConfig returns production defaults. RouterURL, APIKey and
// SessionID have no defaults and must be supplied.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		RetryAttempts:   3,
		RetryBackoff:    200 * time.Millisecond,
		MaxRetryBackoff: 5 * time.Second,
		RetryJitter:     0.25,
	}
}

// Validate checks the configuration invariants.
func (c *ClientConfig) Validate() error {
	if c.RouterURL == "" {
		return errors.New("router_url is required")
	}
	if c.APIKey == "" {
		return errors.New("router_api_key is required")
	}
	if c.SessionID == "" {
		return errors.New("session_id is required")
	}
	if c.RetryAttempts < 0 {
		return errors.New("max_retries must be non-negative")
	}
	if c.RetryJitter < 0 || c.RetryJitter > 1 {
		return errors.New("retry_jitter must be between 0 and 1")
	}
	return nil
}

func (c *ClientConfig) applyDefaults() {
	defaults := DefaultClientConfig()
	if c.RetryBackoff == 0 {
		c.RetryBackoff = defaults.RetryBackoff
	}
	if c.MaxRetryBackoff == 0 {
		c.MaxRetryBackoff = defaults.MaxRetryBackoff
	}
	if c.RetryJitter == 0 {
		c.RetryJitter = defaults.RetryJitter
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// =============================================================================
// Router Client
// =============================================================================

// RouterClient implements Gateway over HTTP.
//
// Thread Safety: safe for concurrent use.
type RouterClient struct {
	config     ClientConfig
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewRouterClient creates an authenticated router client.
func NewRouterClient(config ClientConfig) (*RouterClient, error) {
	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid gateway config: %w", err)
	}
	var limiter *rate.Limiter
	if config.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RequestsPerSecond), 1)
	}
	return &RouterClient{
		config:     config,
		httpClient: &http.Client{},
		limiter:    limiter,
		logger:     config.Logger.With(slog.String("component", "inference_gateway")),
	}, nil
}

// completionPayload is the outbound body of a delegation.
type completionPayload struct {
	Prompt             string             `json:"prompt"`
	SessionID          string             `json:"session_id"`
	MaxTokens          int                `json:"max_tokens"`
	Temperature        float64            `json:"temperature"`
	TopP               float64            `json:"top_p"`
	Stream             bool               `json:"stream"`
	ProofOfInference   bool               `json:"proof_of_inference"`
	ProofOfUsefulWork  bool               `json:"proof_of_useful_work"`
	PoUWRubric         map[string]float64 `json:"pouw_rubric"`
	RedundancyRequested int               `json:"redundancy,omitempty"`
}

// Delegate implements Gateway.
func (r *RouterClient) Delegate(ctx context.Context, req DelegateRequest) (*DelegateResult, error) {
	w := datatypes.DefaultScoreWeights()
	payload := completionPayload{
		Prompt:            req.Prompt,
		SessionID:         r.config.SessionID,
		MaxTokens:         req.MaxTokens,
		Temperature:       req.Temperature,
		TopP:              0.9,
		Stream:            false,
		ProofOfInference:  true,
		ProofOfUsefulWork: true,
		PoUWRubric: map[string]float64{
			"accuracy":             w.Accuracy,
			"omission_risk":        w.OmissionRisk,
			"evidence_quality":     w.EvidenceQuality,
			"governance_relevance": w.GovernanceRelevance,
		},
		RedundancyRequested: req.K,
	}
	body, err := r.post(ctx, "/api/v1/completions/"+r.config.SessionID, payload)
	if err != nil {
		return nil, err
	}
	return parseDelegateResult(body)
}

// Validate implements Gateway.
func (r *RouterClient) Validate(ctx context.Context, req ValidateTaskRequest) (*ValidationResult, error) {
	payload := map[string]any{
		"task_id":     req.TaskID,
		"miner_id":    req.MinerID,
		"result_text": req.ResultText,
		"k":           req.K,
		"session_id":  r.config.SessionID,
	}
	body, err := r.post(ctx, "/api/v1/validations/"+r.config.SessionID, payload)
	if err != nil {
		return nil, err
	}
	var result ValidationResult
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("%w: validation result: %v", datatypes.ErrParse, err)
	}
	return &result, nil
}

// Health implements Gateway.
func (r *RouterClient) Health(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.config.RouterURL+"/health", nil)
	if err != nil {
		return false
	}
	req.Header.Set("Authorization", "Bearer "+r.config.APIKey)
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// ListMiners implements Gateway.
func (r *RouterClient) ListMiners(ctx context.Context) ([]MinerDescriptor, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.config.RouterURL+"/api/v1/miners", nil)
	if err != nil {
		return nil, fmt.Errorf("build miners request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.config.APIKey)
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", datatypes.ErrTransient, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusUnauthorized {
		return nil, fmt.Errorf("%w: miner roster", datatypes.ErrAuthFailure)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: miner roster status %d", datatypes.ErrTransient, resp.StatusCode)
	}
	var out struct {
		Miners []MinerDescriptor `json:"miners"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: miner roster: %v", datatypes.ErrParse, err)
	}
	return out.Miners, nil
}

// =============================================================================
// Transport
// =============================================================================

// post sends one authenticated request with retry.
//
// Attempt accounting: transient failures (network error, 5xx) consume
// retry budget with exponential backoff and jitter; 429 honors Retry-After
// and does not consume budget; 401 and other 4xx abort immediately.
func (r *RouterClient) post(ctx context.Context, path string, payload any) ([]byte, error) {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal router payload: %w", err)
	}
	url := r.config.RouterURL + path

	var lastErr error
	for attempt := 0; attempt <= r.config.RetryAttempts; {
		if attempt > 0 {
			backoff := r.calculateBackoff(attempt)
			r.logger.Warn("retrying router request",
				"attempt", attempt, "backoff_ms", backoff.Milliseconds())
			select {
			case <-ctx.Done():
				return nil, wrapCtxErr(ctx.Err())
			case <-time.After(backoff):
			}
		}
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return nil, wrapCtxErr(err)
			}
		}

		body, retryAfter, rateLimited, err := r.doOnce(ctx, url, reqBody)
		if err == nil {
			return body, nil
		}
		if errors.Is(err, datatypes.ErrAuthFailure) || errors.Is(err, datatypes.ErrTimeout) ||
			errors.Is(err, datatypes.ErrParse) {
			return nil, err
		}
		if rateLimited {
			// Rate limited: wait it out without touching the budget.
			select {
			case <-ctx.Done():
				return nil, wrapCtxErr(ctx.Err())
			case <-time.After(retryAfter):
			}
			lastErr = err
			continue
		}
		lastErr = err
		attempt++
	}
	return nil, fmt.Errorf("%w: retry budget exhausted: %v", datatypes.ErrTransient, lastErr)
}

// doOnce performs a single request. rateLimited reports a 429 no matter
// what Retry-After parsed to, so the caller never charges rate limiting
// against the retry budget.
func (r *RouterClient) doOnce(ctx context.Context, url string, body []byte) (data []byte, retryAfter time.Duration, rateLimited bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, false, fmt.Errorf("build router request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+r.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, false, wrapCtxErr(ctx.Err())
		}
		return nil, 0, false, fmt.Errorf("router unreachable: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, 0, false, fmt.Errorf("%w: router rejected bearer token", datatypes.ErrAuthFailure)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, parseRetryAfter(resp.Header.Get("Retry-After")), true, fmt.Errorf("router rate limited")
	case resp.StatusCode >= 500:
		return nil, 0, false, fmt.Errorf("router status %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, 0, false, fmt.Errorf("%w: router status %d", datatypes.ErrParse, resp.StatusCode)
	}

	data, err = io.ReadAll(resp.Body)
	if err != nil {
		if ctx.Err() != nil {
			return nil, 0, false, wrapCtxErr(ctx.Err())
		}
		return nil, 0, false, fmt.Errorf("read router response: %w", err)
	}
	return data, 0, false, nil
}

// calculateBackoff returns exponential backoff with jitter.
func (r *RouterClient) calculateBackoff(attempt int) time.Duration {
	backoff := r.config.RetryBackoff * time.Duration(1<<attempt)
	if backoff > r.config.MaxRetryBackoff {
		backoff = r.config.MaxRetryBackoff
	}
	jitterRange := float64(backoff) * r.config.RetryJitter
	jitter := (rand.Float64()*2 - 1) * jitterRange
	backoff = time.Duration(float64(backoff) + jitter)
	if backoff < 0 {
		backoff = r.config.RetryBackoff
	}
	return backoff
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return time.Second
	}
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return time.Second
}

func wrapCtxErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", datatypes.ErrTimeout, err)
	}
	return err
}
