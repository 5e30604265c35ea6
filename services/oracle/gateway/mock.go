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
// This file implements the deterministic mock gateway. Replies are a pure
// function of (seed, task, claim, miner), so every test run and every
// machine sees identical verdicts, scores, and embeddings. Claims that
// carry canonical numbers or addresses are biased toward "verified" so
// aggregation statistics stay non-trivial under test.
package gateway

import (
	"context"
	"fmt"
	"hash/fnv"
	"math/rand"
	"time"

	"github.com/AleutianAI/OracleFOSS/services/oracle/datatypes"
)

// MockRosterSize is the number of miners the mock network advertises.
const MockRosterSize = 16

// MockGateway is a deterministic in-process Gateway.
type MockGateway struct {
	// Seed shifts the whole pseudo-random universe; the same seed always
	// reproduces the same replies.
	Seed int64

	// Delay, when set, is how long each delegation takes. Combined with a
	// short context deadline it simulates straggling miners.
	Delay time.Duration

	// FailMiners lists miner ids that never answer (delegations to them
	// return a transient error).
	FailMiners map[string]bool
}

// NewMockGateway creates a mock with the given seed.
func NewMockGateway(seed int64) *MockGateway {
	return &MockGateway{Seed: seed}
}

// Delegate implements Gateway.
func (m *MockGateway) Delegate(ctx context.Context, req DelegateRequest) (*DelegateResult, error) {
	if m.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, wrapCtxErr(ctx.Err())
		case <-time.After(m.Delay):
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, wrapCtxErr(err)
	}

	taskID := fmt.Sprintf("task-%016x", m.hash("task", req.ClaimID, req.Prompt))

	miners := m.minersFor(req)
	result := &DelegateResult{TaskID: taskID}
	agreement := map[datatypes.Verdict]int{}
	for _, minerID := range miners {
		if m.FailMiners[minerID] {
			return nil, fmt.Errorf("%w: miner %s unreachable", datatypes.ErrTransient, minerID)
		}
		reply := m.reply(taskID, req, minerID)
		agreement[reply.Verdict]++
		result.MinerResponses = append(result.MinerResponses, reply)
	}

	var mode datatypes.Verdict
	for _, v := range datatypes.VerdictTieOrder {
		if agreement[v] > agreement[mode] {
			mode = v
		}
	}
	result.Consensus = Consensus{
		Score:          float64(agreement[mode]) / float64(len(miners)),
		TotalMiners:    len(miners),
		AgreementCount: agreement[mode],
		Majority:       string(mode),
	}
	return result, nil
}

// Validate implements Gateway.
func (m *MockGateway) Validate(ctx context.Context, req ValidateTaskRequest) (*ValidationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, wrapCtxErr(err)
	}
	rng := rand.New(rand.NewSource(m.Seed ^ int64(m.hash("validate", req.TaskID, req.MinerID))))
	confidence := 0.7 + rng.Float64()*0.3
	return &ValidationResult{
		IsValid:          confidence >= 0.75,
		Confidence:       confidence,
		KMinersValidated: req.K,
		Attestation:      fmt.Sprintf("mock-attest-%08x", rng.Uint32()),
	}, nil
}

// Health implements Gateway.
func (m *MockGateway) Health(ctx context.Context) bool { return true }

// ListMiners implements Gateway.
func (m *MockGateway) ListMiners(ctx context.Context) ([]MinerDescriptor, error) {
	roster := make([]MinerDescriptor, MockRosterSize)
	for i := range roster {
		roster[i] = MinerDescriptor{
			MinerID: fmt.Sprintf("miner-%02d", i+1),
			Model:   "mock-8b",
		}
	}
	return roster, nil
}

// =============================================================================
// Deterministic Reply Generation
// =============================================================================

func (m *MockGateway) minersFor(req DelegateRequest) []string {
	if req.MinerID != "" {
		return []string{req.MinerID}
	}
	k := req.K
	if k < 1 {
		k = 1
	}
	if k > MockRosterSize {
		k = MockRosterSize
	}
	miners := make([]string, k)
	for i := range miners {
		miners[i] = fmt.Sprintf("miner-%02d", i+1)
	}
	return miners
}

// reply synthesizes one miner's assessment, seeded by (task, claim, miner).
func (m *MockGateway) reply(taskID string, req DelegateRequest, minerID string) MinerReply {
	rng := rand.New(rand.NewSource(m.Seed ^ int64(m.hash(taskID, req.ClaimID, minerID))))

	verdict := m.drawVerdict(req.ClaimID, minerID, req.ClaimHasExtracts)
	scores := m.drawScores(rng, verdict)
	embedding := m.drawEmbedding(rng, req.ClaimID, verdict)

	var links []string
	if verdict == datatypes.VerdictRefuted || rng.Float64() < 0.5 {
		links = []string{fmt.Sprintf("https://evidence.example/%s/%08x", verdict, rng.Uint32())}
	}

	return MinerReply{
		MinerID:       minerID,
		Content:       fmt.Sprintf("mock assessment of %s by %s", req.ClaimID, minerID),
		LatencyMs:     50 + int64(rng.Intn(450)),
		Model:         "mock-8b",
		Parsed:        true,
		Verdict:       verdict,
		Rationale:     fmt.Sprintf("mock rationale (%s)", verdict),
		EvidenceLinks: links,
		Scores:        scores,
		Embedding:     embedding,
	}
}

// Verdict quota patterns, rotated per (seed, claim). For claims with
// structured extracts every 5-wide window over the cycle contains at
// least three "verified", so quorum-sized samples always agree at 60%+
// regardless of seed.
var (
	extractVerdictCycle = []datatypes.Verdict{
		datatypes.VerdictVerified, datatypes.VerdictVerified, datatypes.VerdictVerified,
		datatypes.VerdictPartial, datatypes.VerdictVerified, datatypes.VerdictUnverifiable,
		datatypes.VerdictVerified, datatypes.VerdictVerified, datatypes.VerdictRefuted,
		datatypes.VerdictVerified,
	}
	plainVerdictCycle = []datatypes.Verdict{
		datatypes.VerdictVerified, datatypes.VerdictPartial, datatypes.VerdictUnverifiable,
		datatypes.VerdictVerified, datatypes.VerdictUnverifiable, datatypes.VerdictPartial,
		datatypes.VerdictVerified, datatypes.VerdictRefuted, datatypes.VerdictUnverifiable,
		datatypes.VerdictPartial,
	}
)

// drawVerdict reads the rotated quota cycle at this miner's slot.
func (m *MockGateway) drawVerdict(claimID, minerID string, hasExtracts bool) datatypes.Verdict {
	cycle := plainVerdictCycle
	if hasExtracts {
		cycle = extractVerdictCycle
	}
	offset := m.hash("offset", fmt.Sprintf("%d", m.Seed), claimID)
	idx := (offset + uint64(minerIndex(minerID))) % uint64(len(cycle))
	return cycle[idx]
}

// minerIndex extracts the roster position from ids like "miner-07" so
// consecutive roster miners read consecutive cycle slots.
func minerIndex(minerID string) int {
	idx, mul := 0, 1
	for i := len(minerID) - 1; i >= 0; i-- {
		c := minerID[i]
		if c < '0' || c > '9' {
			break
		}
		idx += int(c-'0') * mul
		mul *= 10
	}
	return idx
}

func (m *MockGateway) drawScores(rng *rand.Rand, verdict datatypes.Verdict) datatypes.Scores {
	var base float64
	switch verdict {
	case datatypes.VerdictVerified:
		base = 0.78
	case datatypes.VerdictPartial:
		base = 0.62
	case datatypes.VerdictUnverifiable:
		base = 0.48
	default:
		base = 0.35
	}
	draw := func() float64 {
		return clamp01(base + (rng.Float64()-0.5)*0.2)
	}
	s := datatypes.Scores{
		Accuracy:            draw(),
		OmissionRisk:        draw(),
		EvidenceQuality:     draw(),
		GovernanceRelevance: draw(),
	}
	s.Composite = datatypes.DefaultScoreWeights().Composite(s)
	return s
}

// drawEmbedding places same-verdict miners near a shared per-claim anchor
// so dispersion tracks disagreement.
func (m *MockGateway) drawEmbedding(rng *rand.Rand, claimID string, verdict datatypes.Verdict) []float64 {
	anchor := rand.New(rand.NewSource(m.Seed ^ int64(m.hash("anchor", claimID, string(verdict)))))
	emb := make([]float64, 32)
	for i := range emb {
		emb[i] = anchor.Float64()*2 - 1 + (rng.Float64()-0.5)*0.1
	}
	return emb
}

func (m *MockGateway) hash(parts ...string) uint64 {
	h := fnv.New64a()
	for _, p := range parts {
		_, _ = h.Write([]byte(p))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}
