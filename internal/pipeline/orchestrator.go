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

// Package pipeline drives inbound messages through pre-filtering, intent
// detection, classification, deduplication, address resolution and mission
// building. A batch is processed strictly in order: each message sees the
// signatures and buildings created by every message before it.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/bcem/intake/internal/address"
	"github.com/bcem/intake/internal/classifier"
	"github.com/bcem/intake/internal/dedup"
	"github.com/bcem/intake/internal/intent"
	"github.com/bcem/intake/internal/mission"
	"github.com/bcem/intake/internal/models"
	"github.com/bcem/intake/internal/prefilter"
)

// Result is everything a batch produced. The caller persists it.
type Result struct {
	CreatedBuildings []models.Building          `json:"created_buildings"`
	CreatedMissions  []models.Mission           `json:"created_missions"`
	Logs             []models.IngestionLogEntry `json:"logs"`
}

// Orchestrator runs batches. It holds no state between batches.
type Orchestrator struct {
	classifier classifier.Classifier
	intent     *intent.Detector
	resolver   *address.Resolver
	builder    *mission.Builder

	newID func() string
	now   func() time.Time
}

// Config holds the orchestrator's collaborators.
type Config struct {
	Classifier    classifier.Classifier
	ExtraKeywords []string
}

// New creates an orchestrator.
func New(cfg Config) *Orchestrator {
	return &Orchestrator{
		classifier: cfg.Classifier,
		intent:     intent.NewDetector(cfg.ExtraKeywords),
		resolver:   address.NewResolver(),
		builder:    mission.NewBuilder(),
		newID:      uuid.NewString,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// batch is the cross-message state of one run.
type batch struct {
	index   *dedup.Index
	known   []models.Building
	created []models.Building
}

// RunIngestion processes messages in order against a snapshot of the store.
// It never fails as a whole: every message gets exactly one log entry, and a
// failing message only affects its own entry. If ctx is cancelled the
// remaining messages are logged as errors.
func (o *Orchestrator) RunIngestion(
	ctx context.Context,
	messages []models.InboundMessage,
	knownBuildings []models.Building,
	knownMissions []models.Mission,
	knownInterventions []models.Intervention,
) Result {
	b := &batch{
		index: dedup.BuildIndex(knownMissions, knownInterventions),
		known: knownBuildings,
	}

	res := Result{
		CreatedBuildings: []models.Building{},
		CreatedMissions:  []models.Mission{},
		Logs:             make([]models.IngestionLogEntry, 0, len(messages)),
	}

	for _, msg := range messages {
		var out Outcome
		if err := ctx.Err(); err != nil {
			out = failed(fmt.Sprintf("batch cancelled before processing: %v", err))
		} else {
			out = o.process(ctx, b, msg)
		}

		if out.Kind == OutcomeResolved {
			if out.BuildingCreated {
				b.created = append(b.created, *out.Building)
				res.CreatedBuildings = append(res.CreatedBuildings, *out.Building)
			}
			res.CreatedMissions = append(res.CreatedMissions, *out.Mission)
			b.index.Add(dedup.FromMission(*out.Mission))
		}

		entry := o.logEntry(msg, out)
		res.Logs = append(res.Logs, entry)

		slog.Info("message ingested",
			"message_id", msg.MessageID,
			"status", entry.Status,
			"reason", entry.Reason,
			"mission_id", entry.CreatedMissionID,
		)
	}

	return res
}

// process runs the stages for one message. A panic in any stage becomes a
// failed outcome for this message only.
func (o *Orchestrator) process(ctx context.Context, b *batch, msg models.InboundMessage) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("panic while processing message", "message_id", msg.MessageID, "panic", r)
			out = failed(fmt.Sprintf("internal error: %v", r))
		}
	}()

	if v := prefilter.Filter(msg); !v.Pass {
		return ignored(v.Reason, nil)
	}

	content := msg.Content()
	if v := o.intent.Detect(content); !v.Pass {
		return ignored(v.Reason, nil)
	}

	if sig, dup := b.index.Match(dedup.FromMessage(msg, "")); dup {
		return ignored(duplicateReason(sig), nil)
	}

	ext, attempts, err := o.classify(ctx, content)
	if err != nil {
		out := failed(err.Error())
		out.Attempts = attempts
		return out
	}

	out = o.resolve(b, msg, content, ext)
	out.Attempts = attempts
	return out
}

func (o *Orchestrator) classify(ctx context.Context, content string) (*models.ExtractionResult, int, error) {
	if o.classifier == nil {
		return nil, 0, errors.New("no classifier configured")
	}

	ext, err := o.classifier.Classify(ctx, content)
	if err != nil {
		var exhausted *classifier.ExhaustedError
		if errors.As(err, &exhausted) {
			return nil, exhausted.Attempts, err
		}
		return nil, 1, err
	}
	if ext == nil {
		return nil, 1, errors.New("classifier returned no result")
	}
	return ext, 0, nil
}

// resolve takes a classified message to its terminal outcome.
func (o *Orchestrator) resolve(b *batch, msg models.InboundMessage, content string, ext *models.ExtractionResult) Outcome {
	switch ext.Classification {
	case models.ClassificationNonMission:
		return ignored(withReasons("Classified as not a maintenance request.", ext.Reasons), ext)
	case models.ClassificationMission:
	default:
		return needsReview(withReasons("Classifier flagged the message for review.", ext.Reasons), ext)
	}

	reference := ""
	if ext.Mission != nil {
		reference = ext.Mission.Reference
	}
	if sig, dup := b.index.Match(dedup.FromMessage(msg, reference)); dup {
		return ignored(duplicateReason(sig), ext)
	}

	resolution, err := o.resolver.Resolve(address.Request{
		RawAddress: ext.Mission.RawAddress(),
		Content:    content,
		MessageID:  msg.MessageID,
	}, b.known, b.created)
	switch {
	case errors.Is(err, address.ErrAddressTooVague):
		return needsReview("No usable address found in the message.", ext)
	case errors.Is(err, address.ErrUnresolvable):
		return needsReview(address.UnresolvableReason, ext)
	case err != nil:
		return failed(fmt.Sprintf("resolve address: %v", err))
	}

	m := o.builder.Build(ext, resolution.Building, msg)
	building := resolution.Building

	return Outcome{
		Kind:            OutcomeResolved,
		Reason:          processedReason(resolution),
		Extraction:      ext,
		Mission:         &m,
		Building:        &building,
		BuildingCreated: resolution.Created,
	}
}

func (o *Orchestrator) logEntry(msg models.InboundMessage, out Outcome) models.IngestionLogEntry {
	entry := models.IngestionLogEntry{
		ID:        o.newID(),
		MessageID: msg.MessageID,
		Status:    out.Kind.Status(),
		Reason:    out.Reason,
		Attempts:  out.Attempts,
		CreatedAt: o.now(),
	}

	if out.Extraction != nil {
		if raw, err := json.Marshal(out.Extraction); err == nil {
			entry.ExtractedJSON = raw
		}
	}
	if out.Mission != nil {
		entry.CreatedMissionID = out.Mission.ID
	}
	if out.BuildingCreated && out.Building != nil {
		entry.CreatedBuildingID = out.Building.ID
	}

	return entry
}

func duplicateReason(sig string) string {
	return fmt.Sprintf("Duplicate of an existing mission or intervention (signature %s).", sig)
}

func processedReason(r address.Resolution) string {
	if r.Created {
		return fmt.Sprintf("Mission created for new building %s.", r.Building.ID)
	}
	return fmt.Sprintf("Mission created for building %s.", r.Building.ID)
}

func withReasons(base string, reasons []string) string {
	if len(reasons) == 0 {
		return base
	}
	return base + " " + strings.Join(reasons, "; ")
}
