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

package runner

import (
	"context"

	"github.com/bcem/intake/internal/models"
)

// StaticSource serves a fixed set of messages, e.g. loaded from a file.
type StaticSource struct {
	Messages []models.InboundMessage
}

// Fetch implements Source.
func (s StaticSource) Fetch(context.Context) ([]models.InboundMessage, error) {
	out := make([]models.InboundMessage, len(s.Messages))
	copy(out, s.Messages)
	return out, nil
}
