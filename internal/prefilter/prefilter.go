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

// Package prefilter drops obvious marketing and newsletter traffic before
// any expensive work is done. Urgent technical wording always wins over the
// marketing heuristic.
package prefilter

import (
	"fmt"
	"regexp"

	"github.com/bcem/intake/internal/models"
	"github.com/bcem/intake/internal/textutil"
)

// urgencyWindow is how many leading body runes are scanned for urgency terms.
const urgencyWindow = 200

// Patterns run against folded text (lowercase, no diacritics).
var (
	marketingPattern = regexp.MustCompile(`\b(?:promo(?:tion(?:al|s)?|s)?|newsletters?|nieuwsbrie(?:f|ven)|offers?|offres?|unsubscribe|desinscri(?:re|ption)|uitschrijven|afmelden|campa(?:ign|gne|gnes)|campagne|marketing|mailing|black friday|cyber monday|soldes|korting|aanbieding(?:en)?|special offers?|exclusive offers?|offres? speciales?|deals?|noreply-news|webinar|special price|prix special)\b`)

	urgencyPattern = regexp.MustCompile(`\b(?:urgen(?:t|te|ce|cy)|dringend|spoed|emergency|fuites?|leak(?:s|ing|age)?|lek(?:kage)?|pannes?|breakdown|broken down|defect|defekt|en panne|degats? des eaux|water damage|waterschade|inondation|flood(?:ing)?|overstroming)\b`)
)

// Verdict is the outcome of the pre-filter for one message.
type Verdict struct {
	Pass   bool
	Reason string
}

// Filter decides whether msg continues down the pipeline.
func Filter(msg models.InboundMessage) Verdict {
	sender := textutil.Fold(msg.From)
	subject := textutil.Fold(msg.Subject)

	hit := marketingPattern.FindString(sender)
	if hit == "" {
		hit = marketingPattern.FindString(subject)
	}
	if hit == "" {
		return Verdict{Pass: true}
	}

	window := subject + "\n" + textutil.Fold(textutil.Head(msg.Body, urgencyWindow))
	if urgent := urgencyPattern.FindString(window); urgent != "" {
		return Verdict{
			Pass:   true,
			Reason: fmt.Sprintf("Marketing pattern %q overridden by urgency term %q.", hit, urgent),
		}
	}

	return Verdict{
		Pass:   false,
		Reason: fmt.Sprintf("Marketing or newsletter content detected (matched %q).", hit),
	}
}
