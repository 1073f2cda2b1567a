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
	"regexp"
	"strings"

	"github.com/bcem/intake/internal/models"
	"github.com/bcem/intake/internal/textutil"
)

// Labelled fields as they appear in work orders ("Référence : OS-1").
var (
	referenceField   = regexp.MustCompile(`(?im)^[ \t]*(?:r[ée]f[ée]rence|referentie|reference|r[ée]f\.?|n[°o]\s*(?:de\s+)?dossier|dossiernummer|work order)[ \t]*[:#][ \t]*(\S.*?)[ \t]*$`)
	addressField     = regexp.MustCompile(`(?im)^[ \t]*(?:adresse(?:\s+du\s+bien)?|adres|address|lieu(?:\s+d'intervention)?)[ \t]*:[ \t]*(\S.*?)[ \t]*$`)
	contactField     = regexp.MustCompile(`(?im)^[ \t]*(?:contact\s+sur\s+place|contact\s+ter\s+plaatse|contactpersoon|on-?site\s+contact|personne\s+de\s+contact)[ \t]*:[ \t]*(\S.*?)[ \t]*$`)
	syndicField      = regexp.MustCompile(`(?im)^[ \t]*(?:syndic|syndicus|property\s+manager)[ \t]*:[ \t]*(\S.*?)[ \t]*$`)
	titleField       = regexp.MustCompile(`(?im)^[ \t]*(?:objet|onderwerp|subject)[ \t]*:[ \t]*(\S.*?)[ \t]*$`)
	descriptionField = regexp.MustCompile(`(?im)^[ \t]*(?:description|omschrijving|probl[èe]me|probleem)[ \t]*:[ \t]*(\S.*?)[ \t]*$`)

	phonePattern = regexp.MustCompile(`\+?\d[\d .\-/]{6,}\d`)
	emptyParens  = regexp.MustCompile(`[(\[<]\s*[)\]>]`)
	emailPattern = regexp.MustCompile(`[\w.+\-]+@[\w\-]+(?:\.[\w\-]+)+`)
)

// Terms that mark administrative mail rather than a work request.
var nonMissionTerms = []string{"facture", "factuur", "invoice", "rappel de paiement", "betalingsherinnering", "payment reminder"}

// Heuristic is a deterministic, offline classifier that reads labelled
// fields out of structured work orders. It is used when no model backend is
// configured.
type Heuristic struct{}

// NewHeuristic returns a Heuristic classifier.
func NewHeuristic() *Heuristic { return &Heuristic{} }

// Classify implements Classifier.
func (h *Heuristic) Classify(ctx context.Context, text string) (*models.ExtractionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ext := &models.ExtractedMission{
		Title:       firstMatch(titleField, text),
		Description: firstMatch(descriptionField, text),
		Reference:   firstMatch(referenceField, text),
		SyndicName:  firstMatch(syndicField, text),
	}
	if ext.Title == "" {
		ext.Title = firstLine(text)
	}
	if raw := firstMatch(addressField, text); raw != "" {
		ext.Address = &models.ExtractedAddress{Raw: raw}
	}
	if raw := firstMatch(contactField, text); raw != "" {
		ext.ContactOnSite = parseContact(raw)
	}

	res := &models.ExtractionResult{Mission: ext, Confidence: 0.4}
	if ext.Address != nil {
		res.Confidence += 0.3
		res.Reasons = append(res.Reasons, "address field found")
	}
	if ext.Reference != "" {
		res.Confidence += 0.2
		res.Reasons = append(res.Reasons, "reference field found")
	}
	if ext.ContactOnSite != nil {
		res.Confidence += 0.05
	}

	switch {
	case ext.Address != nil || ext.Reference != "":
		res.Classification = models.ClassificationMission
	case isAdministrative(text):
		res.Classification = models.ClassificationNonMission
		res.Mission = nil
		res.Reasons = append(res.Reasons, "administrative message without work details")
	default:
		res.Classification = models.ClassificationNeedsReview
		res.Reasons = append(res.Reasons, "no labelled address or reference")
	}

	return res, nil
}

func firstMatch(re *regexp.Regexp, text string) string {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return ""
	}
	return strings.TrimSpace(m[1])
}

func firstLine(text string) string {
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return ""
}

// parseContact splits "M. Dubuc (0470 12 34 56)" into name and phone.
func parseContact(raw string) *models.Contact {
	c := &models.Contact{}
	rest := raw

	if email := emailPattern.FindString(rest); email != "" {
		c.Email = email
		rest = strings.Replace(rest, email, "", 1)
	}
	if phone := phonePattern.FindString(rest); phone != "" {
		c.Phone = strings.TrimSpace(phone)
		rest = strings.Replace(rest, phone, "", 1)
	}

	c.Name = strings.Trim(emptyParens.ReplaceAllString(rest, ""), "-,:;/ \t")
	return c
}

func isAdministrative(text string) bool {
	_, ok := textutil.ContainsAny(textutil.Fold(text), nonMissionTerms)
	return ok
}
