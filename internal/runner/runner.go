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

// Package runner drives ingestion batches: it collects unprocessed messages
// from its sources, runs them through the pipeline against a snapshot of the
// store, persists the results and records each message in the ledger.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bcem/intake/internal/models"
	"github.com/bcem/intake/internal/pipeline"
)

// DefaultMaxErrorAttempts is how many failed runs a message gets before it
// is given up on.
const DefaultMaxErrorAttempts = 3

// Source supplies inbound messages.
type Source interface {
	Fetch(ctx context.Context) ([]models.InboundMessage, error)
}

// Acker is implemented by sources that hold messages until told they are
// handled.
type Acker interface {
	Ack(ctx context.Context, ids ...string) error
}

// Store is the persistence the runner snapshots and writes to.
type Store interface {
	ListBuildings(ctx context.Context) ([]models.Building, error)
	ListMissions(ctx context.Context) ([]models.Mission, error)
	ListInterventions(ctx context.Context) ([]models.Intervention, error)
	CreateBuilding(ctx context.Context, b models.Building) (string, error)
	CreateMission(ctx context.Context, m models.Mission) (bool, error)
	AppendLog(ctx context.Context, e models.IngestionLogEntry) error
}

// Ledger records which messages have a final outcome.
type Ledger interface {
	IsProcessed(ctx context.Context, messageID string) (bool, error)
	MarkProcessed(ctx context.Context, messageID string) error
	RecordFailure(ctx context.Context, messageID string) (int, error)
}

// ReviewPublisher hands NEEDS_REVIEW messages to human triage.
type ReviewPublisher interface {
	PublishReview(ctx context.Context, msg models.InboundMessage, entry models.IngestionLogEntry) error
}

// Config controls batch scheduling and retry policy.
type Config struct {
	Interval         time.Duration
	Replay           bool
	MaxErrorAttempts int
}

// Summary describes one batch.
type Summary struct {
	Fetched          int                        `json:"fetched"`
	Skipped          int                        `json:"skipped"`
	Replayed         bool                       `json:"replayed"`
	Processed        int                        `json:"processed"`
	Ignored          int                        `json:"ignored"`
	NeedsReview      int                        `json:"needs_review"`
	Errors           int                        `json:"errors"`
	GaveUp           int                        `json:"gave_up"`
	BuildingsCreated int                        `json:"buildings_created"`
	MissionsCreated  int                        `json:"missions_created"`
	Logs             []models.IngestionLogEntry `json:"logs"`
	Elapsed          time.Duration              `json:"elapsed_ns"`
}

// Runner serialises ingestion batches.
type Runner struct {
	orchestrator *pipeline.Orchestrator
	sources      []Source
	store        Store
	ledger       Ledger
	review       ReviewPublisher
	cfg          Config

	mu      sync.Mutex
	trigger chan struct{}
	now     func() time.Time
}

// New creates a runner. review may be nil.
func New(orchestrator *pipeline.Orchestrator, store Store, ledger Ledger, review ReviewPublisher, cfg Config, sources ...Source) *Runner {
	if cfg.MaxErrorAttempts <= 0 {
		cfg.MaxErrorAttempts = DefaultMaxErrorAttempts
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Runner{
		orchestrator: orchestrator,
		sources:      sources,
		store:        store,
		ledger:       ledger,
		review:       review,
		cfg:          cfg,
		trigger:      make(chan struct{}, 1),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Trigger requests a batch as soon as the loop is free. It never blocks;
// requests made while one is pending collapse into it.
func (r *Runner) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Run starts the batch loop. It blocks until the context is cancelled.
func (r *Runner) Run(ctx context.Context) {
	slog.Info("ingestion runner starting",
		"interval", r.cfg.Interval,
		"sources", len(r.sources),
		"replay", r.cfg.Replay,
	)

	// Do an initial batch immediately
	r.tick(ctx)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("ingestion runner stopping")
			return
		case <-ticker.C:
			r.tick(ctx)
		case <-r.trigger:
			r.tick(ctx)
		}
	}
}

func (r *Runner) tick(ctx context.Context) {
	if _, err := r.RunOnce(ctx); err != nil {
		slog.Error("ingestion batch failed", "error", err)
	}
}

// RunOnce runs a single batch. Errors are returned only when the batch could
// not run at all; per-message failures are reported in the summary.
func (r *Runner) RunOnce(ctx context.Context) (*Summary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	start := time.Now()
	sum := &Summary{}

	fetched, owners, err := r.collect(ctx)
	if err != nil {
		return nil, err
	}
	sum.Fetched = len(fetched)

	pending, err := r.unprocessed(ctx, fetched, owners)
	if err != nil {
		return nil, err
	}
	sum.Skipped = len(fetched) - len(pending)

	if len(pending) == 0 && r.cfg.Replay && len(fetched) > 0 {
		pending = pipeline.ReplayIDs(fetched, r.now().Format("20060102T150405"))
		sum.Replayed = true
		slog.Info("no unprocessed messages, replaying", "count", len(pending))
	}
	if len(pending) == 0 {
		slog.Debug("no messages to ingest")
		return sum, nil
	}

	buildings, err := r.store.ListBuildings(ctx)
	if err != nil {
		return nil, fmt.Errorf("list buildings: %w", err)
	}
	missions, err := r.store.ListMissions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list missions: %w", err)
	}
	interventions, err := r.store.ListInterventions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list interventions: %w", err)
	}

	res := r.orchestrator.RunIngestion(ctx, pending, buildings, missions, interventions)

	logs := r.persist(ctx, res, sum)

	byID := make(map[string]models.InboundMessage, len(pending))
	for _, msg := range pending {
		byID[msg.MessageID] = msg
	}
	for i := range logs {
		r.record(ctx, byID[logs[i].MessageID], &logs[i], owners, sum)
	}

	sum.Logs = logs
	sum.Elapsed = time.Since(start)

	slog.Info("ingestion batch complete",
		"fetched", sum.Fetched,
		"skipped", sum.Skipped,
		"replayed", sum.Replayed,
		"processed", sum.Processed,
		"ignored", sum.Ignored,
		"needs_review", sum.NeedsReview,
		"errors", sum.Errors,
		"gave_up", sum.GaveUp,
		"buildings_created", sum.BuildingsCreated,
		"missions_created", sum.MissionsCreated,
		"elapsed", sum.Elapsed,
	)

	return sum, nil
}

// collect fetches from every source, keeping the first copy of each ID.
// It fails only when every source failed.
func (r *Runner) collect(ctx context.Context) ([]models.InboundMessage, map[string]Source, error) {
	var (
		msgs     []models.InboundMessage
		owners   = make(map[string]Source)
		failures int
		lastErr  error
	)

	for _, src := range r.sources {
		batch, err := src.Fetch(ctx)
		if err != nil {
			failures++
			lastErr = err
			slog.Error("failed to fetch messages", "error", err)
			continue
		}
		for _, msg := range batch {
			if msg.MessageID == "" {
				slog.Warn("dropping message without id", "subject", msg.Subject)
				continue
			}
			if _, seen := owners[msg.MessageID]; seen {
				continue
			}
			owners[msg.MessageID] = src
			msgs = append(msgs, msg)
		}
	}

	if failures > 0 && failures == len(r.sources) {
		return nil, nil, fmt.Errorf("fetch messages: %w", lastErr)
	}
	return msgs, owners, nil
}

// unprocessed drops messages the ledger already has. Those still held by a
// source are acked so they stop coming back.
func (r *Runner) unprocessed(ctx context.Context, msgs []models.InboundMessage, owners map[string]Source) ([]models.InboundMessage, error) {
	pending := make([]models.InboundMessage, 0, len(msgs))
	for _, msg := range msgs {
		done, err := r.ledger.IsProcessed(ctx, msg.MessageID)
		if err != nil {
			return nil, fmt.Errorf("check ledger: %w", err)
		}
		if done {
			r.ack(ctx, owners[msg.MessageID], msg.MessageID)
			continue
		}
		pending = append(pending, msg)
	}
	return pending, nil
}

// persist writes created buildings and missions. A building that already
// exists under another ID is re-linked; a message whose records could not be
// written is downgraded to ERROR. A message that already has a mission keeps
// its status but references no new mission.
func (r *Runner) persist(ctx context.Context, res pipeline.Result, sum *Summary) []models.IngestionLogEntry {
	remapped := make(map[string]string)
	buildingErrs := make(map[string]error)

	for _, b := range res.CreatedBuildings {
		id, err := r.store.CreateBuilding(ctx, b)
		if err != nil {
			slog.Error("failed to persist building", "building_id", b.ID, "error", err)
			buildingErrs[b.ID] = err
			continue
		}
		if id != b.ID {
			slog.Info("building already exists, re-linking", "building_id", b.ID, "existing_id", id)
			remapped[b.ID] = id
			continue
		}
		sum.BuildingsCreated++
	}

	failedMsgs := make(map[string]error)
	existing := make(map[string]bool)
	for _, m := range res.CreatedMissions {
		if err, ok := buildingErrs[m.BuildingID]; ok {
			failedMsgs[m.SourceMessageID] = fmt.Errorf("persist building: %w", err)
			continue
		}
		if id, ok := remapped[m.BuildingID]; ok {
			m.BuildingID = id
		}
		created, err := r.store.CreateMission(ctx, m)
		if err != nil {
			slog.Error("failed to persist mission", "mission_id", m.ID, "message_id", m.SourceMessageID, "error", err)
			failedMsgs[m.SourceMessageID] = fmt.Errorf("persist mission: %w", err)
			continue
		}
		if !created {
			slog.Warn("mission for message already exists", "message_id", m.SourceMessageID)
			existing[m.SourceMessageID] = true
			continue
		}
		sum.MissionsCreated++
	}

	logs := make([]models.IngestionLogEntry, len(res.Logs))
	copy(logs, res.Logs)
	for i := range logs {
		e := &logs[i]
		if err, ok := failedMsgs[e.MessageID]; ok {
			e.Status = models.StatusError
			e.Reason = err.Error()
			e.CreatedMissionID = ""
			e.CreatedBuildingID = ""
			continue
		}
		if _, ok := remapped[e.CreatedBuildingID]; ok {
			e.CreatedBuildingID = ""
		}
		if existing[e.MessageID] {
			e.CreatedMissionID = ""
			e.Reason = "Mission for this message already exists."
		}
	}
	return logs
}

// record appends the log entry and settles the message in the ledger.
func (r *Runner) record(ctx context.Context, msg models.InboundMessage, e *models.IngestionLogEntry, owners map[string]Source, sum *Summary) {
	final := true

	switch e.Status {
	case models.StatusProcessed:
		sum.Processed++
	case models.StatusIgnored:
		sum.Ignored++
	case models.StatusNeedsReview:
		sum.NeedsReview++
	case models.StatusError:
		sum.Errors++
		n, err := r.ledger.RecordFailure(ctx, e.MessageID)
		if err != nil {
			slog.Error("failed to record failure", "message_id", e.MessageID, "error", err)
		}
		if n >= r.cfg.MaxErrorAttempts {
			e.Reason = fmt.Sprintf("%s (giving up after %d failed runs)", e.Reason, n)
			sum.GaveUp++
		} else {
			final = false
		}
	}

	if err := r.store.AppendLog(ctx, *e); err != nil {
		slog.Error("failed to append ingestion log", "message_id", e.MessageID, "error", err)
		return
	}

	if e.Status == models.StatusNeedsReview && r.review != nil {
		if err := r.review.PublishReview(ctx, msg, *e); err != nil {
			slog.Error("failed to publish review request", "message_id", e.MessageID, "error", err)
		}
	}

	if !final {
		return
	}
	if err := r.ledger.MarkProcessed(ctx, e.MessageID); err != nil {
		slog.Error("failed to mark message processed", "message_id", e.MessageID, "error", err)
		return
	}
	r.ack(ctx, owners[msg.MessageID], msg.MessageID)
}

func (r *Runner) ack(ctx context.Context, src Source, id string) {
	acker, ok := src.(Acker)
	if !ok {
		return
	}
	if err := acker.Ack(ctx, id); err != nil {
		slog.Error("failed to ack message", "message_id", id, "error", err)
	}
}
