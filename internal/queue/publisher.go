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

// Package queue holds the Redis-backed inbox that webhook submissions land
// in, and the publisher that hands NEEDS_REVIEW messages to human triage.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/bcem/intake/internal/models"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ReviewPublisher pushes review requests onto a Redis list.
type ReviewPublisher struct {
	rdb       *redis.Client
	queueName string
}

// NewReviewPublisher creates a publisher targeting the specified list.
func NewReviewPublisher(rdb *redis.Client, queueName string) *ReviewPublisher {
	return &ReviewPublisher{
		rdb:       rdb,
		queueName: queueName,
	}
}

// ReviewRequest is the envelope consumers of the review queue read.
type ReviewRequest struct {
	ID         string          `json:"id"`
	Type       string          `json:"type"`
	MessageID  string          `json:"message_id"`
	Reason     string          `json:"reason"`
	Extraction json.RawMessage `json:"extraction,omitempty"`
	Subject    string          `json:"subject"`
	From       string          `json:"from"`
	CreatedAt  time.Time       `json:"created_at"`
}

// NewReviewRequest builds the envelope for a NEEDS_REVIEW log entry.
func NewReviewRequest(msg models.InboundMessage, entry models.IngestionLogEntry) ReviewRequest {
	return ReviewRequest{
		ID:         uuid.New().String(),
		Type:       "needs_review",
		MessageID:  entry.MessageID,
		Reason:     entry.Reason,
		Extraction: entry.ExtractedJSON,
		Subject:    msg.Subject,
		From:       msg.From,
		CreatedAt:  time.Now().UTC(),
	}
}

// PublishReview serialises the request and pushes it to the review list.
func (p *ReviewPublisher) PublishReview(ctx context.Context, msg models.InboundMessage, entry models.IngestionLogEntry) error {
	req := NewReviewRequest(msg, entry)

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal review request: %w", err)
	}

	if err := p.rdb.LPush(ctx, p.queueName, string(body)).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}

	slog.Info("published review request",
		"request_id", req.ID,
		"message_id", req.MessageID,
		"queue", p.queueName,
	)

	return nil
}

// Ping checks the Redis connection.
func (p *ReviewPublisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}
