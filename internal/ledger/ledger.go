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

// Package ledger records which inbound message IDs have been handled, using
// Redis keys with a TTL. A message is marked processed once its outcome is
// final; transient failures are counted so a poison message is eventually
// given up on instead of being retried forever.
package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long a processed message ID is remembered. It must
	// outlive the mailbox lookback window.
	DefaultTTL = 30 * 24 * time.Hour

	processedPrefix = "intake:processed:"
	failuresPrefix  = "intake:failures:"
)

// Ledger tracks processed and failing message IDs.
type Ledger struct {
	rdb *redis.Client
	ttl time.Duration
}

// New creates a ledger backed by Redis. A non-positive ttl selects DefaultTTL.
func New(rdb *redis.Client, ttl time.Duration) *Ledger {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Ledger{rdb: rdb, ttl: ttl}
}

// IsProcessed reports whether the message ID has a final outcome.
func (l *Ledger) IsProcessed(ctx context.Context, messageID string) (bool, error) {
	n, err := l.rdb.Exists(ctx, processedPrefix+messageID).Result()
	if err != nil {
		return false, fmt.Errorf("ledger EXISTS: %w", err)
	}
	return n > 0, nil
}

// MarkProcessed records a final outcome and clears the failure counter.
func (l *Ledger) MarkProcessed(ctx context.Context, messageID string) error {
	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, processedPrefix+messageID, time.Now().UTC().Format(time.RFC3339), l.ttl)
		pipe.Del(ctx, failuresPrefix+messageID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ledger mark processed: %w", err)
	}
	return nil
}

// RecordFailure increments the failure counter for a message and returns
// the new count.
func (l *Ledger) RecordFailure(ctx context.Context, messageID string) (int, error) {
	key := failuresPrefix + messageID

	var incr *redis.IntCmd
	_, err := l.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, l.ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("ledger INCR: %w", err)
	}
	return int(incr.Val()), nil
}
