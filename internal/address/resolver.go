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

// Package address resolves a free-text address from a message to a known
// building, reusing buildings created earlier in the same batch and creating
// a new one only when the address looks like a real street address.
package address

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/bcem/intake/internal/models"
	"github.com/bcem/intake/internal/textutil"
)

// minAddressLen is the shortest trimmed raw address worth resolving.
const minAddressLen = 5

// UnknownCity is used when no postal code + city can be read from the address.
const UnknownCity = "Unknown"

var (
	// ErrAddressTooVague is returned for a missing or very short address.
	ErrAddressTooVague = errors.New("address missing or too vague")

	// ErrUnresolvable is returned when nothing matched and the address has no
	// street number to justify creating a building.
	ErrUnresolvable = errors.New("could not match or create building")
)

// UnresolvableReason is the review reason logged for ErrUnresolvable.
const UnresolvableReason = "valid address found but could not match or create building."

// Belgian format: 4-digit postal code followed by the locality.
var postalCityPattern = regexp.MustCompile(`\b\d{4}\s+(\p{L}[\p{L}'\-]*)`)

// Resolution is a successfully resolved building.
type Resolution struct {
	Building models.Building
	Created  bool
}

// Resolver matches or creates buildings.
type Resolver struct {
	newID func() string
	now   func() time.Time
}

// NewResolver creates a resolver that assigns UUIDs to new buildings.
func NewResolver() *Resolver {
	return &Resolver{
		newID: uuid.NewString,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// Request is the input for one resolution.
type Request struct {
	RawAddress string
	// Content is the full message text; a known building whose address
	// appears verbatim in it is a match.
	Content   string
	MessageID string
}

// Resolve returns the building the request refers to. known holds the
// persisted buildings; batchCreated holds the buildings created earlier in
// the same run and is only consulted before creating a new one.
func (r *Resolver) Resolve(req Request, known, batchCreated []models.Building) (Resolution, error) {
	raw := strings.TrimSpace(req.RawAddress)
	if utf8.RuneCountInString(raw) < minAddressLen {
		return Resolution{}, ErrAddressTooVague
	}

	normRaw := textutil.Normalize(raw)
	content := strings.ToLower(req.Content)

	for _, b := range known {
		addr := strings.TrimSpace(b.Address)
		if addr == "" {
			continue
		}
		if strings.Contains(content, strings.ToLower(addr)) || textutil.Normalize(addr) == normRaw {
			return Resolution{Building: b}, nil
		}
	}

	if !LooksLikeStreetAddress(raw) {
		return Resolution{}, ErrUnresolvable
	}

	for _, b := range batchCreated {
		if textutil.Normalize(b.Address) == normRaw {
			return Resolution{Building: b}, nil
		}
	}

	return Resolution{
		Building: models.Building{
			ID:                    r.newID(),
			Address:               raw,
			City:                  CityFromAddress(raw),
			LinkedProfessionalIDs: []string{},
			AdminNote:             fmt.Sprintf("Created automatically from email ingestion (message %s).", req.MessageID),
			CreatedAt:             r.now(),
		},
		Created: true,
	}, nil
}

// LooksLikeStreetAddress is the stand-in for real address validation: an
// address with at least one digit is assumed to carry a street number.
func LooksLikeStreetAddress(raw string) bool {
	return strings.IndexFunc(raw, unicode.IsDigit) >= 0
}

// CityFromAddress reads the locality following a 4-digit postal code.
func CityFromAddress(raw string) string {
	m := postalCityPattern.FindStringSubmatch(raw)
	if m == nil {
		return UnknownCity
	}
	return m[1]
}
