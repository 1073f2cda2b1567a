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

// Classification is the classifier's ternary verdict for a message.
type Classification string

const (
	ClassificationMission     Classification = "MISSION"
	ClassificationNonMission  Classification = "NON_MISSION"
	ClassificationNeedsReview Classification = "NEEDS_REVIEW"
)

// Valid reports whether c is one of the known classifications.
func (c Classification) Valid() bool {
	switch c {
	case ClassificationMission, ClassificationNonMission, ClassificationNeedsReview:
		return true
	}
	return false
}

// ExtractedAddress is an address as read from a message. Raw is the text as
// found; the split fields are best-effort.
type ExtractedAddress struct {
	Raw        string `json:"raw"`
	Street     string `json:"street,omitempty"`
	Number     string `json:"number,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	City       string `json:"city,omitempty"`
	Country    string `json:"country,omitempty"`
}

// Contact is a person to reach on site.
type Contact struct {
	Name  string `json:"name,omitempty"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// ExtractedMission is the structured payload the classifier pulls out of a
// message. Every field is optional.
type ExtractedMission struct {
	Title         string            `json:"title,omitempty"`
	Description   string            `json:"description,omitempty"`
	Address       *ExtractedAddress `json:"address,omitempty"`
	Reference     string            `json:"reference,omitempty"`
	ContactOnSite *Contact          `json:"contact_on_site,omitempty"`
	SyndicName    string            `json:"syndic_name,omitempty"`
}

// RawAddress returns the extracted raw address, or "" when none was found.
func (e *ExtractedMission) RawAddress() string {
	if e == nil || e.Address == nil {
		return ""
	}
	return e.Address.Raw
}

// ExtractionResult is produced once per message by a classifier and never
// mutated afterwards.
type ExtractionResult struct {
	Classification Classification    `json:"classification"`
	Confidence     float64           `json:"confidence"`
	Reasons        []string          `json:"reasons,omitempty"`
	Mission        *ExtractedMission `json:"mission,omitempty"`
}
