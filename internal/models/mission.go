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

import "time"

// Mission status, source and sector values written by the intake pipeline.
const (
	MissionStatusPending = "PENDING"
	SourceTypeEmail      = "EMAIL"
	SectorUnclassified   = "AUTRE"
)

// Building is a managed property missions are attached to.
type Building struct {
	ID                    string    `json:"id"`
	Address               string    `json:"address"`
	City                  string    `json:"city"`
	LinkedSyndicID        string    `json:"linked_syndic_id,omitempty"`
	LinkedProfessionalIDs []string  `json:"linked_professional_ids"`
	AdminNote             string    `json:"admin_note,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
}

// SourceDetails records where a mission came from.
type SourceDetails struct {
	From       string    `json:"from"`
	Subject    string    `json:"subject"`
	ReceivedAt time.Time `json:"received_at"`
}

// Mission is a maintenance request created from an inbound message.
type Mission struct {
	ID                 string        `json:"id"`
	BuildingID         string        `json:"building_id"`
	Title              string        `json:"title"`
	Description        string        `json:"description"`
	Sector             string        `json:"sector"`
	Status             string        `json:"status"`
	SourceType         string        `json:"source_type"`
	SourceMessageID    string        `json:"source_message_id"`
	SourceDetails      SourceDetails `json:"source_details"`
	InterventionNumber string        `json:"intervention_number,omitempty"`
	OnSiteContactName  string        `json:"on_site_contact_name,omitempty"`
	OnSiteContactPhone string        `json:"on_site_contact_phone,omitempty"`
	OnSiteContactEmail string        `json:"on_site_contact_email,omitempty"`
	SyndicName         string        `json:"syndic_name,omitempty"`
	CreatedAt          time.Time     `json:"created_at"`
}

// Intervention is a pre-existing work record. The pipeline never creates
// one, but its reference and source take part in deduplication.
type Intervention struct {
	ID            string         `json:"id"`
	Reference     string         `json:"reference,omitempty"`
	Title         string         `json:"title"`
	BuildingID    string         `json:"building_id,omitempty"`
	SourceDetails *SourceDetails `json:"source_details,omitempty"`
}
