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

package models

import (
	"encoding/json"
	"time"
)

// LogStatus is the terminal status of one message's run through the pipeline.
type LogStatus string

const (
	StatusProcessed   LogStatus = "PROCESSED"
	StatusIgnored     LogStatus = "IGNORED"
	StatusNeedsReview LogStatus = "NEEDS_REVIEW"
	StatusError       LogStatus = "ERROR"
)

// IngestionLogEntry records the outcome for exactly one inbound message.
// Entries are append-only.
type IngestionLogEntry struct {
	ID                string          `json:"id"`
	MessageID         string          `json:"message_id"`
	Status            LogStatus       `json:"status"`
	Reason            string          `json:"reason"`
	ExtractedJSON     json.RawMessage `json:"extracted_json,omitempty"`
	CreatedMissionID  string          `json:"created_mission_id,omitempty"`
	CreatedBuildingID string          `json:"created_building_id,omitempty"`
	Attempts          int             `json:"attempts,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}
