// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package canonical

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/AleutianAI/OracleFOSS/services/oracle/datatypes"
	"github.com/sashabaranov/go-openai"
)

const extractionPrompt = `Decompose the governance proposal below into atomic, independently verifiable claims.
Return a JSON array; each element: {"text": "<claim sentence>", "paragraph_index": <int>}.
Return only the JSON array, no prose.

Proposal:
%s`

// OpenAIExtractor implements ClaimExtractor against the OpenAI chat API.
type OpenAIExtractor struct {
	client *openai.Client
	model  string
}

// NewOpenAIExtractor reads OPENAI_API_KEY and OPENAI_MODEL from the
// environment. Returns an error when no key is configured; callers treat
// that as "run heuristic-only", not as a fatal condition.
func NewOpenAIExtractor() (*OpenAIExtractor, error) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable not set")
	}
	model := os.Getenv("OPENAI_MODEL")
	if model == "" {
		model = "gpt-4o-mini"
		slog.Warn("OPENAI_MODEL not set, defaulting to gpt-4o-mini")
	}
	return &OpenAIExtractor{client: openai.NewClient(apiKey), model: model}, nil
}

// ExtractClaims implements ClaimExtractor.
func (o *OpenAIExtractor) ExtractClaims(ctx context.Context, canonicalText string) ([]datatypes.Claim, error) {
	req := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: "You extract atomic testable claims from governance proposals."},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(extractionPrompt, canonicalText)},
		},
		Temperature: 0,
	}
	resp, err := o.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai claim extraction failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai returned no choices")
	}
	return parseExtractedClaims(resp.Choices[0].Message.Content, canonicalText)
}

type extractedClaim struct {
	Text           string `json:"text"`
	ParagraphIndex int    `json:"paragraph_index"`
}

// parseExtractedClaims parses the model output and anchors each claim in
// the canonical text. Claims whose text cannot be located get a zero char
// range rather than a guessed one.
func parseExtractedClaims(content, canonicalText string) ([]datatypes.Claim, error) {
	content = strings.TrimSpace(content)
	// Models wrap JSON in fences often enough to handle it here.
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var raw []extractedClaim
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &raw); err != nil {
		return nil, fmt.Errorf("%w: claim array: %v", datatypes.ErrParse, err)
	}

	claims := make([]datatypes.Claim, 0, len(raw))
	for _, rc := range raw {
		text := strings.TrimSpace(rc.Text)
		if text == "" {
			continue
		}
		c := datatypes.Claim{Text: text, ParagraphIndex: rc.ParagraphIndex}
		if idx := strings.Index(canonicalText, text); idx >= 0 {
			c.CharRange = [2]int{idx, idx + len(text)}
		}
		claims = append(claims, c)
	}
	return claims, nil
}
