// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package classifier

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"github.com/bcem/intake/internal/models"
)

const (
	DefaultModel = "gpt-4o-mini"

	// maxInputRunes bounds the text sent to the model.
	maxInputRunes = 12000
)

const systemPrompt = `You triage inbound emails for a building-maintenance company in Belgium.
Emails may be in French, Dutch or English and may include text extracted from attached documents.

Decide whether the email is a request for an intervention on a building:
- "MISSION": a concrete maintenance request (repair, leak, breakdown, inspection, quote request, work order).
- "NON_MISSION": anything else (invoices, newsletters, small talk, replies without a new request).
- "NEEDS_REVIEW": it looks like a request but you cannot tell what or where.

Respond with this exact JSON format and nothing else:
{
  "classification": "MISSION|NON_MISSION|NEEDS_REVIEW",
  "confidence": 0.0,
  "reasons": ["short reason"],
  "mission": {
    "title": "short title",
    "description": "what has to be done",
    "address": {"raw": "address as written", "street": "", "number": "", "postal_code": "", "city": "", "country": ""},
    "reference": "work order or file reference, if any",
    "contact_on_site": {"name": "", "phone": "", "email": ""},
    "syndic_name": ""
  }
}

Omit "mission" for NON_MISSION. Leave unknown fields empty; never invent an address.`

// OpenAIConfig configures the OpenAI backend.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string // optional, for OpenAI-compatible gateways
}

// OpenAI classifies messages with a chat completion in JSON mode.
type OpenAI struct {
	client *openai.Client
	model  string
}

// NewOpenAI creates an OpenAI-backed classifier.
func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	return &OpenAI{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
	}
}

// Classify implements Classifier.
func (c *OpenAI) Classify(ctx context.Context, text string) (*models.ExtractionResult, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Temperature: 0,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: systemPrompt,
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: truncate(text, maxInputRunes),
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("chat completion returned no choices")
	}

	return ParseExtraction(resp.Choices[0].Message.Content)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
