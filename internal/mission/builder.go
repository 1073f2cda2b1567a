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

// Package mission assembles the Mission record for a resolved message.
package mission

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bcem/intake/internal/models"
)

// Builder constructs missions. It performs no I/O.
type Builder struct {
	newID func() string
	now   func() time.Time
}

// NewBuilder creates a builder that assigns UUIDs.
func NewBuilder() *Builder {
	return &Builder{
		newID: uuid.NewString,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Build creates the pending mission for msg attached to building. Missing
// title and description fall back to the message subject and full content.
func (b *Builder) Build(extraction *models.ExtractionResult, building models.Building, msg models.InboundMessage) models.Mission {
	var ext models.ExtractedMission
	if extraction != nil && extraction.Mission != nil {
		ext = *extraction.Mission
	}

	m := models.Mission{
		ID:          b.newID(),
		BuildingID:  building.ID,
		Title:       firstNonEmpty(ext.Title, msg.Subject),
		Description: firstNonEmpty(ext.Description, msg.Content()),
		Sector:      models.SectorUnclassified,
		Status:      models.MissionStatusPending,
		SourceType:  models.SourceTypeEmail,

		SourceMessageID: msg.MessageID,
		SourceDetails: models.SourceDetails{
			From:       msg.From,
			Subject:    msg.Subject,
			ReceivedAt: msg.ReceivedAt,
		},
		InterventionNumber: strings.TrimSpace(ext.Reference),
		SyndicName:         strings.TrimSpace(ext.SyndicName),
		CreatedAt:          b.now(),
	}

	if c := ext.ContactOnSite; c != nil {
		m.OnSiteContactName = strings.TrimSpace(c.Name)
		m.OnSiteContactPhone = strings.TrimSpace(c.Phone)
		m.OnSiteContactEmail = strings.TrimSpace(c.Email)
	}

	return m
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
