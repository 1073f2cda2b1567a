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

// Package dedup detects repeated maintenance requests by comparing derived
// signatures. A signature is either reference based ("REF:<ref>") or content
// based ("CONTENT:<subject>|<sender>"). The index is built from persisted
// missions and interventions and grows as a batch creates new missions, so
// an initial email and its follow-up in the same run collapse into one.
package dedup

import (
	"strings"

	"github.com/bcem/intake/internal/models"
)

const (
	refPrefix     = "REF:"
	contentPrefix = "CONTENT:"
)

// Candidate carries the fields signatures are derived from.
type Candidate struct {
	Reference string
	Subject   string
	Sender    string
}

// Signatures returns the candidate's signatures, reference first. A
// candidate with neither a reference nor a full subject+sender pair has none.
func Signatures(c Candidate) []string {
	var sigs []string
	if ref := strings.ToLower(strings.TrimSpace(c.Reference)); ref != "" {
		sigs = append(sigs, refPrefix+ref)
	}
	subject := strings.ToLower(strings.TrimSpace(c.Subject))
	sender := strings.ToLower(strings.TrimSpace(c.Sender))
	if subject != "" && sender != "" {
		sigs = append(sigs, contentPrefix+subject+"|"+sender)
	}
	return sigs
}

// FromMessage builds a candidate from an inbound message and the reference
// the classifier extracted (may be empty).
func FromMessage(msg models.InboundMessage, reference string) Candidate {
	return Candidate{Reference: reference, Subject: msg.Subject, Sender: msg.From}
}

// FromMission builds a candidate from a persisted or newly created mission.
func FromMission(m models.Mission) Candidate {
	return Candidate{
		Reference: m.InterventionNumber,
		Subject:   m.SourceDetails.Subject,
		Sender:    m.SourceDetails.From,
	}
}

// FromIntervention builds a candidate from an existing intervention.
func FromIntervention(i models.Intervention) Candidate {
	c := Candidate{Reference: i.Reference}
	if i.SourceDetails != nil {
		c.Subject = i.SourceDetails.Subject
		c.Sender = i.SourceDetails.From
	}
	return c
}

// Index is a set of known signatures. It is not safe for concurrent use;
// the orchestrator owns one per batch.
type Index struct {
	sigs map[string]struct{}
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{sigs: make(map[string]struct{})}
}

// BuildIndex derives the signature set from existing records.
func BuildIndex(missions []models.Mission, interventions []models.Intervention) *Index {
	ix := NewIndex()
	for _, m := range missions {
		ix.Add(FromMission(m))
	}
	for _, i := range interventions {
		ix.Add(FromIntervention(i))
	}
	return ix
}

// Match returns the first of the candidate's signatures already present.
func (ix *Index) Match(c Candidate) (string, bool) {
	for _, sig := range Signatures(c) {
		if _, ok := ix.sigs[sig]; ok {
			return sig, true
		}
	}
	return "", false
}

// Add records every signature of c.
func (ix *Index) Add(c Candidate) {
	for _, sig := range Signatures(c) {
		ix.sigs[sig] = struct{}{}
	}
}

// Len returns the number of distinct signatures.
func (ix *Index) Len() int { return len(ix.sigs) }
