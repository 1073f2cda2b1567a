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

package pipeline

import "github.com/bcem/intake/internal/models"

// OutcomeKind tags the result of running one message through the stages.
type OutcomeKind int

const (
	OutcomeResolved OutcomeKind = iota
	OutcomeIgnored
	OutcomeNeedsReview
	OutcomeFailed
)

// Status maps the outcome to its log status.
func (k OutcomeKind) Status() models.LogStatus {
	switch k {
	case OutcomeResolved:
		return models.StatusProcessed
	case OutcomeIgnored:
		return models.StatusIgnored
	case OutcomeNeedsReview:
		return models.StatusNeedsReview
	default:
		return models.StatusError
	}
}

// Outcome is the terminal result for one message. Extraction is kept for
// every outcome reached after classification, including review outcomes
// where it is the only context a human gets.
type Outcome struct {
	Kind       OutcomeKind
	Reason     string
	Extraction *models.ExtractionResult

	// Set only when Kind is OutcomeResolved.
	Mission         *models.Mission
	Building        *models.Building
	BuildingCreated bool

	// Classifier attempts made, when the classifier was called.
	Attempts int
}

func ignored(reason string, ext *models.ExtractionResult) Outcome {
	return Outcome{Kind: OutcomeIgnored, Reason: reason, Extraction: ext}
}

func needsReview(reason string, ext *models.ExtractionResult) Outcome {
	return Outcome{Kind: OutcomeNeedsReview, Reason: reason, Extraction: ext}
}

func failed(reason string) Outcome {
	return Outcome{Kind: OutcomeFailed, Reason: reason}
}
