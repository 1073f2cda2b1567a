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
	"fmt"
	"strings"

	"github.com/goccy/go-json"

	"github.com/bcem/intake/internal/models"
)

// ParseExtraction decodes a model's JSON answer into an ExtractionResult.
// Markdown code fences are tolerated. An unknown classification is
// downgraded to NEEDS_REVIEW rather than rejected.
func ParseExtraction(raw string) (*models.ExtractionResult, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	if raw == "" {
		return nil, fmt.Errorf("empty extraction")
	}

	var res models.ExtractionResult
	if err := json.Unmarshal([]byte(raw), &res); err != nil {
		return nil, fmt.Errorf("decode extraction: %w", err)
	}

	res.Classification = models.Classification(strings.ToUpper(strings.TrimSpace(string(res.Classification))))
	if !res.Classification.Valid() {
		res.Reasons = append(res.Reasons, fmt.Sprintf("unknown classification %q", res.Classification))
		res.Classification = models.ClassificationNeedsReview
	}

	switch {
	case res.Confidence < 0:
		res.Confidence = 0
	case res.Confidence > 1:
		res.Confidence = 1
	}

	return &res, nil
}
