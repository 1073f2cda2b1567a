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

package mission

import (
	"strings"
	"testing"
	"time"

	"github.com/bcem/intake/internal/models"
)

func newTestBuilder() *Builder {
	return &Builder{
		newID: func() string { return "mission-1" },
		now:   func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) },
	}
}

var testMessage = models.InboundMessage{
	MessageID:  "msg-42",
	From:       "gestion@syndic.be",
	Subject:    "Ordre de service #4451",
	Body:       "Merci d'intervenir rapidement.",
	ReceivedAt: time.Date(2026, 2, 28, 17, 30, 0, 0, time.UTC),
	Attachments: []models.Attachment{
		{Filename: "os.pdf", MimeType: "application/pdf", ExtractedText: "Référence : OS-2024-99"},
	},
}

// TestBuild_FromExtraction verifies every extracted field lands on the mission.
func TestBuild_FromExtraction(t *testing.T) {
	ext := &models.ExtractionResult{
		Classification: models.ClassificationMission,
		Mission: &models.ExtractedMission{
			Title:         "Fuite en cave",
			Description:   "Fuite sur la colonne principale.",
			Reference:     " OS-2024-99 ",
			SyndicName:    "Syndic Dupont",
			ContactOnSite: &models.Contact{Name: "M. Dubuc", Phone: "0470 12 34 56"},
		},
	}

	m := newTestBuilder().Build(ext, models.Building{ID: "bld-1"}, testMessage)

	if m.ID != "mission-1" || m.BuildingID != "bld-1" {
		t.Errorf("ids = %q/%q", m.ID, m.BuildingID)
	}
	if m.Title != "Fuite en cave" {
		t.Errorf("Title = %q", m.Title)
	}
	if m.Description != "Fuite sur la colonne principale." {
		t.Errorf("Description = %q", m.Description)
	}
	if m.Sector != models.SectorUnclassified || m.Status != models.MissionStatusPending || m.SourceType != models.SourceTypeEmail {
		t.Errorf("sector/status/source = %q/%q/%q", m.Sector, m.Status, m.SourceType)
	}
	if m.InterventionNumber != "OS-2024-99" {
		t.Errorf("InterventionNumber = %q, want OS-2024-99", m.InterventionNumber)
	}
	if m.OnSiteContactName != "M. Dubuc" || m.OnSiteContactPhone != "0470 12 34 56" {
		t.Errorf("contact = %q/%q", m.OnSiteContactName, m.OnSiteContactPhone)
	}
	if m.SourceMessageID != "msg-42" || m.SourceDetails.Subject != testMessage.Subject || !m.SourceDetails.ReceivedAt.Equal(testMessage.ReceivedAt) {
		t.Errorf("source = %+v", m.SourceDetails)
	}
}

// TestBuild_Fallbacks verifies subject and full content are used when the
// extraction has no title or description.
func TestBuild_Fallbacks(t *testing.T) {
	m := newTestBuilder().Build(&models.ExtractionResult{}, models.Building{ID: "bld-1"}, testMessage)

	if m.Title != "Ordre de service #4451" {
		t.Errorf("Title = %q, want subject", m.Title)
	}
	if !strings.Contains(m.Description, "Merci d'intervenir") || !strings.Contains(m.Description, "OS-2024-99") {
		t.Errorf("Description = %q, want full content", m.Description)
	}
	if m.InterventionNumber != "" || m.OnSiteContactName != "" {
		t.Errorf("unexpected extracted fields: %+v", m)
	}
}
