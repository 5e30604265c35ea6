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
// This file normalizes every response shape the router family is known to
// produce into the one internal DelegateResult shape. Unknown shapes are a
// typed parse error, never a silent empty string.
package gateway

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AleutianAI/OracleFOSS/services/oracle/datatypes"
)

// =============================================================================
// Router Response Shapes
// =============================================================================

// routerEnvelope covers the union of observed router response shapes:
//
//	{ task_id, miners: [{miner_id, text|completion|content, latency_ms, model}], consensus }
//	{ choices: [{text}] }
//	{ text }
//	{ completion }
//
// The parser tries the multi-miner envelope first, then each single
// completion shape in order.
type routerEnvelope struct {
	TaskID    string          `json:"task_id"`
	Miners    []routerMiner   `json:"miners"`
	Consensus *Consensus      `json:"consensus"`
	Choices   []routerChoice  `json:"choices"`
	Text      string          `json:"text"`
	Completion string         `json:"completion"`
}

type routerChoice struct {
	Text string `json:"text"`
}

type routerMiner struct {
	MinerID    string `json:"miner_id"`
	Text       string `json:"text"`
	Completion string `json:"completion"`
	Content    string `json:"content"`
	LatencyMs  int64  `json:"latency_ms"`
	Model      string `json:"model"`
}

func (m routerMiner) content() string {
	switch {
	case m.Text != "":
		return m.Text
	case m.Completion != "":
		return m.Completion
	default:
		return m.Content
	}
}

// parseDelegateResult normalizes a raw router body.
func parseDelegateResult(body []byte) (*DelegateResult, error) {
	var env routerEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: router body: %v", datatypes.ErrParse, err)
	}

	result := &DelegateResult{TaskID: env.TaskID}
	if env.Consensus != nil {
		result.Consensus = *env.Consensus
	}

	switch {
	case len(env.Miners) > 0:
		for _, m := range env.Miners {
			result.MinerResponses = append(result.MinerResponses, normalizeReply(
				m.MinerID, m.content(), m.LatencyMs, m.Model))
		}
	case len(env.Choices) > 0:
		result.MinerResponses = append(result.MinerResponses, normalizeReply(
			"", env.Choices[0].Text, 0, ""))
	case env.Text != "":
		result.MinerResponses = append(result.MinerResponses, normalizeReply("", env.Text, 0, ""))
	case env.Completion != "":
		result.MinerResponses = append(result.MinerResponses, normalizeReply("", env.Completion, 0, ""))
	default:
		return nil, fmt.Errorf("%w: router body matches no known shape", datatypes.ErrParse)
	}
	return result, nil
}

// =============================================================================
// Assessment Parsing
// =============================================================================

// minerAssessment is the rubric JSON a proof-of-useful-work miner embeds
// in its completion text.
type minerAssessment struct {
	Verdict       string    `json:"verdict"`
	Rationale     string    `json:"rationale"`
	EvidenceLinks []string  `json:"evidence_links"`
	Scores        struct {
		Accuracy            float64 `json:"accuracy"`
		OmissionRisk        float64 `json:"omission_risk"`
		EvidenceQuality     float64 `json:"evidence_quality"`
		GovernanceRelevance float64 `json:"governance_relevance"`
		Composite           float64 `json:"composite"`
	} `json:"scores"`
	Embedding []float64 `json:"embedding"`
}

// normalizeReply builds a MinerReply, parsing the assessment out of the
// content when possible. A reply whose content is not a rubric assessment
// is still returned with Parsed=false; the orchestrator records it as a
// failed slot.
func normalizeReply(minerID, content string, latencyMs int64, model string) MinerReply {
	reply := MinerReply{
		MinerID:   minerID,
		Content:   content,
		LatencyMs: latencyMs,
		Model:     model,
	}
	assessment, ok := parseAssessment(content)
	if !ok {
		return reply
	}
	verdict := datatypes.Verdict(strings.ToLower(assessment.Verdict))
	if !datatypes.ValidVerdict(verdict) {
		return reply
	}
	reply.Parsed = true
	reply.Verdict = verdict
	reply.Rationale = assessment.Rationale
	reply.EvidenceLinks = assessment.EvidenceLinks
	reply.Scores = datatypes.Scores{
		Accuracy:            clamp01(assessment.Scores.Accuracy),
		OmissionRisk:        clamp01(assessment.Scores.OmissionRisk),
		EvidenceQuality:     clamp01(assessment.Scores.EvidenceQuality),
		GovernanceRelevance: clamp01(assessment.Scores.GovernanceRelevance),
		Composite:           clamp01(assessment.Scores.Composite),
	}
	reply.Embedding = assessment.Embedding
	return reply
}

// parseAssessment finds and parses the assessment JSON object inside
// completion text, tolerating surrounding prose and code fences.
func parseAssessment(content string) (*minerAssessment, bool) {
	content = strings.TrimSpace(content)
	start := strings.IndexByte(content, '{')
	end := strings.LastIndexByte(content, '}')
	if start < 0 || end <= start {
		return nil, false
	}
	var a minerAssessment
	if err := json.Unmarshal([]byte(content[start:end+1]), &a); err != nil {
		return nil, false
	}
	if a.Verdict == "" {
		return nil, false
	}
	return &a, true
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
