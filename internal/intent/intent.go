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

// Package intent checks whether a message talks about building work at all,
// so the classifier is only called for plausible requests.
package intent

import (
	"fmt"
	"strings"

	"github.com/bcem/intake/internal/textutil"
)

// NoKeywordsReason is the reason recorded when no vocabulary term matches.
const NoKeywordsReason = "No intervention-related keywords found."

// vocabulary holds intervention terms in French, Dutch and English, already
// folded (lowercase, no diacritics).
var vocabulary = []string{
	// leak
	"fuite", "infiltration", "degat des eaux", "lek", "lekkage", "waterschade", "leak", "water damage",
	// repair
	"repar", "depannage", "herstel", "repair", "fix",
	// urgency
	"urgent", "urgence", "dringend", "spoed", "emergency",
	// maintenance
	"entretien", "maintenance", "onderhoud",
	// elevator
	"ascenseur", "lift", "elevator",
	// heating
	"chauffage", "chaudiere", "verwarming", "ketel", "heating", "boiler",
	// electricity
	"electricite", "electrique", "elektriciteit", "elektrisch", "electricity", "electrical",
	// quote
	"devis", "offerte", "prijsofferte", "quote", "quotation", "estimate",
	// inspection
	"inspection", "controle", "keuring", "inspectie",
	// work orders
	"intervention", "ordre de service", "bon de commande", "werkbon", "work order", "panne", "defect",
}

// Verdict is the outcome of intent detection.
type Verdict struct {
	Pass    bool
	Reason  string
	Keyword string
}

// Detector matches text against the fixed vocabulary plus any configured
// extra keywords.
type Detector struct {
	terms []string
}

// NewDetector creates a detector. Extra keywords are folded before use.
func NewDetector(extra []string) *Detector {
	terms := make([]string, 0, len(vocabulary)+len(extra))
	terms = append(terms, vocabulary...)
	for _, kw := range extra {
		if kw = strings.TrimSpace(textutil.Fold(kw)); kw != "" {
			terms = append(terms, kw)
		}
	}
	return &Detector{terms: terms}
}

// Detect runs a case- and accent-insensitive substring search over text.
func (d *Detector) Detect(text string) Verdict {
	kw, ok := textutil.ContainsAny(textutil.Fold(text), d.terms)
	if !ok {
		return Verdict{Pass: false, Reason: NoKeywordsReason}
	}
	return Verdict{
		Pass:    true,
		Reason:  fmt.Sprintf("Matched intervention keyword %q.", kw),
		Keyword: kw,
	}
}
