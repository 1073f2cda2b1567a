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

package pipeline

import "github.com/bcem/intake/internal/models"

// ReplayIDs returns copies of messages with ids derived from suffix, so an
// already processed set can be run again in demo or replay mode.
func ReplayIDs(messages []models.InboundMessage, suffix string) []models.InboundMessage {
	out := make([]models.InboundMessage, len(messages))
	for i, msg := range messages {
		msg.MessageID = msg.MessageID + "-replay-" + suffix
		out[i] = msg
	}
	return out
}
