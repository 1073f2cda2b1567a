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

package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/bcem/intake/internal/models"
	"github.com/redis/go-redis/v9"
)

// Inbox stores submitted messages in a Redis hash keyed by message ID, so a
// resubmission overwrites rather than duplicates. Entries stay until acked.
type Inbox struct {
	rdb *redis.Client
	key string
}

// NewInbox creates an inbox stored under the given hash key.
func NewInbox(rdb *redis.Client, key string) *Inbox {
	return &Inbox{rdb: rdb, key: key}
}

// Enqueue stores messages in the inbox.
func (in *Inbox) Enqueue(ctx context.Context, msgs ...models.InboundMessage) error {
	if len(msgs) == 0 {
		return nil
	}

	values := make(map[string]interface{}, len(msgs))
	for _, msg := range msgs {
		raw, err := json.Marshal(msg)
		if err != nil {
			return fmt.Errorf("marshal message %s: %w", msg.MessageID, err)
		}
		values[msg.MessageID] = string(raw)
	}

	if err := in.rdb.HSet(ctx, in.key, values).Err(); err != nil {
		return fmt.Errorf("redis HSET: %w", err)
	}

	slog.Info("messages enqueued", "count", len(msgs), "inbox", in.key)
	return nil
}

// Fetch returns every pending message ordered by receipt time, then ID.
// Entries that fail to decode are logged and skipped.
func (in *Inbox) Fetch(ctx context.Context) ([]models.InboundMessage, error) {
	entries, err := in.rdb.HGetAll(ctx, in.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis HGETALL: %w", err)
	}

	msgs := make([]models.InboundMessage, 0, len(entries))
	for id, raw := range entries {
		var msg models.InboundMessage
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			slog.Warn("skipping undecodable inbox entry", "message_id", id, "error", err)
			continue
		}
		msgs = append(msgs, msg)
	}

	SortMessages(msgs)
	return msgs, nil
}

// Ack removes handled messages from the inbox.
func (in *Inbox) Ack(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := in.rdb.HDel(ctx, in.key, ids...).Err(); err != nil {
		return fmt.Errorf("redis HDEL: %w", err)
	}
	return nil
}

// Len returns the number of pending messages.
func (in *Inbox) Len(ctx context.Context) (int64, error) {
	return in.rdb.HLen(ctx, in.key).Result()
}

// SortMessages orders messages oldest first, breaking ties by ID.
func SortMessages(msgs []models.InboundMessage) {
	sort.SliceStable(msgs, func(i, j int) bool {
		if !msgs[i].ReceivedAt.Equal(msgs[j].ReceivedAt) {
			return msgs[i].ReceivedAt.Before(msgs[j].ReceivedAt)
		}
		return msgs[i].MessageID < msgs[j].MessageID
	})
}
