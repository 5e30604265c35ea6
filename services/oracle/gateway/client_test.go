// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/AleutianAI/OracleFOSS/services/oracle/datatypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(url string) ClientConfig {
	return ClientConfig{
		RouterURL:       url,
		APIKey:          "test-token",
		SessionID:       "sess-1",
		RetryAttempts:   3,
		RetryBackoff:    time.Millisecond,
		MaxRetryBackoff: 5 * time.Millisecond,
		RetryJitter:     0.1,
	}
}

func TestClientConfigValidate(t *testing.T) {
	cfg := testConfig("http://router")
	require.NoError(t, cfg.Validate())

	missing := []func(*ClientConfig){
		func(c *ClientConfig) { c.RouterURL = "" },
		func(c *ClientConfig) { c.APIKey = "" },
		func(c *ClientConfig) { c.SessionID = "" },
	}
	for _, mutate := range missing {
		bad := testConfig("http://router")
		mutate(&bad)
		assert.Error(t, bad.Validate())
	}
}

func TestDelegate_SendsAuthAndSession(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"task_id":"t1","text":"{\"verdict\":\"verified\",\"scores\":{\"accuracy\":0.9}}"}`))
	}))
	defer srv.Close()

	client, err := NewRouterClient(testConfig(srv.URL))
	require.NoError(t, err)

	result, err := client.Delegate(context.Background(), DelegateRequest{Prompt: "p", K: 1})
	require.NoError(t, err)
	assert.Equal(t, "Bearer test-token", gotAuth)
	assert.Equal(t, "/api/v1/completions/sess-1", gotPath)
	assert.Equal(t, "t1", result.TaskID)
	require.Len(t, result.MinerResponses, 1)
	assert.True(t, result.MinerResponses[0].Parsed)
	assert.Equal(t, datatypes.VerdictVerified, result.MinerResponses[0].Verdict)
}

func TestDelegate_AuthFailureNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client, err := NewRouterClient(testConfig(srv.URL))
	require.NoError(t, err)

	_, err = client.Delegate(context.Background(), DelegateRequest{Prompt: "p", K: 1})
	assert.ErrorIs(t, err, datatypes.ErrAuthFailure)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDelegate_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	client, err := NewRouterClient(testConfig(srv.URL))
	require.NoError(t, err)

	_, err = client.Delegate(context.Background(), DelegateRequest{Prompt: "p", K: 1})
	assert.ErrorIs(t, err, datatypes.ErrParse)
	assert.Equal(t, int32(1), calls.Load())
}

func TestDelegate_RetriesTransientThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte(`{"completion":"{\"verdict\":\"partial\"}"}`))
	}))
	defer srv.Close()

	client, err := NewRouterClient(testConfig(srv.URL))
	require.NoError(t, err)

	result, err := client.Delegate(context.Background(), DelegateRequest{Prompt: "p", K: 1})
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, datatypes.VerdictPartial, result.MinerResponses[0].Verdict)
}

func TestDelegate_ExhaustsRetryBudget(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client, err := NewRouterClient(testConfig(srv.URL))
	require.NoError(t, err)

	_, err = client.Delegate(context.Background(), DelegateRequest{Prompt: "p", K: 1})
	assert.ErrorIs(t, err, datatypes.ErrTransient)
	// initial attempt + RetryAttempts retries
	assert.Equal(t, int32(4), calls.Load())
}

func TestDelegate_RateLimitDoesNotConsumeBudget(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n <= 2 {
			w.Header().Set("Retry-After", "0")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		if n <= 5 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"text":"{\"verdict\":\"verified\"}"}`))
	}))
	defer srv.Close()

	client, err := NewRouterClient(testConfig(srv.URL))
	require.NoError(t, err)

	// 2 rate limits + 3 transient failures + success would exceed a
	// 3-retry budget if 429s counted against it.
	result, err := client.Delegate(context.Background(), DelegateRequest{Prompt: "p", K: 1})
	require.NoError(t, err)
	assert.Equal(t, int32(6), calls.Load())
	assert.True(t, result.MinerResponses[0].Parsed)
}

func TestDelegate_DeadlineYieldsTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	client, err := NewRouterClient(testConfig(srv.URL))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = client.Delegate(ctx, DelegateRequest{Prompt: "p", K: 1})
	assert.ErrorIs(t, err, datatypes.ErrTimeout)
}

func TestValidate_ParsesResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/validations/sess-1", r.URL.Path)
		_, _ = w.Write([]byte(`{"is_valid":true,"confidence":0.91,"k_miners_validated":3}`))
	}))
	defer srv.Close()

	client, err := NewRouterClient(testConfig(srv.URL))
	require.NoError(t, err)

	result, err := client.Validate(context.Background(), ValidateTaskRequest{TaskID: "t1", MinerID: "m1", K: 3})
	require.NoError(t, err)
	assert.True(t, result.IsValid)
	assert.InDelta(t, 0.91, result.Confidence, 1e-9)
	assert.Equal(t, 3, result.KMinersValidated)
}

func TestHealthAndListMiners(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusOK)
		case "/api/v1/miners":
			_, _ = w.Write([]byte(`{"miners":[{"miner_id":"m1","model":"llama-70b"}]}`))
		}
	}))
	defer srv.Close()

	client, err := NewRouterClient(testConfig(srv.URL))
	require.NoError(t, err)

	assert.True(t, client.Health(context.Background()))
	miners, err := client.ListMiners(context.Background())
	require.NoError(t, err)
	require.Len(t, miners, 1)
	assert.Equal(t, "m1", miners[0].MinerID)
}
