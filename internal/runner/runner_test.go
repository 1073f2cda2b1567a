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
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bcem/intake/internal/classifier"
	"github.com/bcem/intake/internal/models"
	"github.com/bcem/intake/internal/pipeline"
	"github.com/bcem/intake/internal/textutil"
)

// --- Fakes ---

type fakeStore struct {
	mu            sync.Mutex
	buildings     []models.Building
	missions      []models.Mission
	interventions []models.Intervention
	logs          []models.IngestionLogEntry

	// hidden holds buildings written by another process after the snapshot,
	// keyed by normalized address.
	hidden      map[string]string
	missionErr  error
	buildingErr error
}

func (s *fakeStore) ListBuildings(context.Context) ([]models.Building, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Building(nil), s.buildings...), nil
}

func (s *fakeStore) ListMissions(context.Context) ([]models.Mission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Mission(nil), s.missions...), nil
}

func (s *fakeStore) ListInterventions(context.Context) ([]models.Intervention, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Intervention(nil), s.interventions...), nil
}

func (s *fakeStore) CreateBuilding(_ context.Context, b models.Building) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buildingErr != nil {
		return "", s.buildingErr
	}
	if id, ok := s.hidden[textutil.Normalize(b.Address)]; ok {
		return id, nil
	}
	s.buildings = append(s.buildings, b)
	return b.ID, nil
}

func (s *fakeStore) CreateMission(_ context.Context, m models.Mission) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.missionErr != nil {
		return false, s.missionErr
	}
	for _, existing := range s.missions {
		if existing.SourceMessageID == m.SourceMessageID {
			return false, nil
		}
	}
	s.missions = append(s.missions, m)
	return true, nil
}

func (s *fakeStore) AppendLog(_ context.Context, e models.IngestionLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, e)
	return nil
}

type fakeLedger struct {
	mu        sync.Mutex
	processed map[string]bool
	failures  map[string]int
}

func newFakeLedger(done ...string) *fakeLedger {
	l := &fakeLedger{processed: make(map[string]bool), failures: make(map[string]int)}
	for _, id := range done {
		l.processed[id] = true
	}
	return l
}

func (l *fakeLedger) IsProcessed(_ context.Context, id string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.processed[id], nil
}

func (l *fakeLedger) MarkProcessed(_ context.Context, id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.processed[id] = true
	delete(l.failures, id)
	return nil
}

func (l *fakeLedger) RecordFailure(_ context.Context, id string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures[id]++
	return l.failures[id], nil
}

func (l *fakeLedger) isProcessed(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.processed[id]
}

type fakeInbox struct {
	mu    sync.Mutex
	msgs  []models.InboundMessage
	acked []string
	err   error
}

func (in *fakeInbox) Fetch(context.Context) ([]models.InboundMessage, error) {
	in.mu.Lock()
	defer in.mu.Unlock()
	if in.err != nil {
		return nil, in.err
	}
	return append([]models.InboundMessage(nil), in.msgs...), nil
}

func (in *fakeInbox) Ack(_ context.Context, ids ...string) error {
	in.mu.Lock()
	defer in.mu.Unlock()
	in.acked = append(in.acked, ids...)
	kept := in.msgs[:0]
	for _, msg := range in.msgs {
		if !contains(ids, msg.MessageID) {
			kept = append(kept, msg)
		}
	}
	in.msgs = kept
	return nil
}

type fakeReview struct {
	mu        sync.Mutex
	published []models.IngestionLogEntry
}

func (r *fakeReview) PublishReview(_ context.Context, _ models.InboundMessage, e models.IngestionLogEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.published = append(r.published, e)
	return nil
}

// --- Helpers ---

func contains(ids []string, id string) bool {
	for _, x := range ids {
		if x == id {
			return true
		}
	}
	return false
}

// byAddress classifies every message as a mission at the address found
// after "addr=" in the text.
func byAddress() classifier.Classifier {
	return classifier.Func(func(_ context.Context, text string) (*models.ExtractionResult, error) {
		i := strings.Index(text, "addr=")
		if i < 0 {
			return &models.ExtractionResult{Classification: models.ClassificationNeedsReview, Reasons: []string{"no address"}}, nil
		}
		raw := strings.TrimSpace(text[i+len("addr="):])
		return &models.ExtractionResult{
			Classification: models.ClassificationMission,
			Confidence:     0.9,
			Mission:        &models.ExtractedMission{Address: &models.ExtractedAddress{Raw: raw}},
		}, nil
	})
}

func msg(id, subject, body string) models.InboundMessage {
	return models.InboundMessage{
		MessageID:  id,
		From:       id + "@syndic.be",
		Subject:    subject,
		Body:       body,
		ReceivedAt: time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
	}
}

func newRunner(c classifier.Classifier, st *fakeStore, l *fakeLedger, rv ReviewPublisher, cfg Config, sources ...Source) *Runner {
	return New(pipeline.New(pipeline.Config{Classifier: c}), st, l, rv, cfg, sources...)
}

// --- Tests ---

// TestRunOnce_PersistsBatch verifies buildings, missions and logs are written
// and handled messages are marked and acked.
func TestRunOnce_PersistsBatch(t *testing.T) {
	st := &fakeStore{}
	l := newFakeLedger()
	inbox := &fakeInbox{msgs: []models.InboundMessage{
		msg("m1", "Fuite cave", "Fuite. addr=Rue Haute 10, 1000 Bruxelles"),
		msg("m2", "Hello", "How are you?"),
	}}

	r := newRunner(byAddress(), st, l, nil, Config{}, inbox)
	sum, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if sum.Processed != 1 || sum.Ignored != 1 {
		t.Errorf("processed/ignored = %d/%d, want 1/1", sum.Processed, sum.Ignored)
	}
	if sum.BuildingsCreated != 1 || sum.MissionsCreated != 1 {
		t.Errorf("buildings/missions = %d/%d, want 1/1", sum.BuildingsCreated, sum.MissionsCreated)
	}
	if len(st.logs) != 2 {
		t.Errorf("logs = %d, want 2", len(st.logs))
	}
	if st.missions[0].BuildingID != st.buildings[0].ID {
		t.Errorf("mission building = %q, want %q", st.missions[0].BuildingID, st.buildings[0].ID)
	}
	for _, id := range []string{"m1", "m2"} {
		if !l.isProcessed(id) {
			t.Errorf("%s should be marked processed", id)
		}
		if !contains(inbox.acked, id) {
			t.Errorf("%s should be acked", id)
		}
	}
}

// TestRunOnce_SkipsProcessed verifies ledger hits are acked without a log.
func TestRunOnce_SkipsProcessed(t *testing.T) {
	st := &fakeStore{}
	inbox := &fakeInbox{msgs: []models.InboundMessage{msg("m1", "Fuite", "Fuite. addr=Rue Haute 10, 1000 Bruxelles")}}

	r := newRunner(byAddress(), st, newFakeLedger("m1"), nil, Config{}, inbox)
	sum, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if sum.Skipped != 1 || len(st.logs) != 0 {
		t.Errorf("skipped = %d, logs = %d, want 1 and 0", sum.Skipped, len(st.logs))
	}
	if !contains(inbox.acked, "m1") {
		t.Error("processed message should be acked")
	}
}

// TestRunOnce_ErrorRetryCap verifies ERROR messages stay pending until the
// failure cap is reached.
func TestRunOnce_ErrorRetryCap(t *testing.T) {
	failing := classifier.Func(func(context.Context, string) (*models.ExtractionResult, error) {
		return nil, errors.New("backend down")
	})

	st := &fakeStore{}
	l := newFakeLedger()
	inbox := &fakeInbox{msgs: []models.InboundMessage{msg("m1", "Fuite", "Fuite au 1er.")}}

	r := newRunner(failing, st, l, nil, Config{MaxErrorAttempts: 3}, inbox)

	for run := 1; run <= 3; run++ {
		sum, err := r.RunOnce(context.Background())
		if err != nil {
			t.Fatalf("run %d: %v", run, err)
		}
		if sum.Errors != 1 {
			t.Fatalf("run %d errors = %d, want 1", run, sum.Errors)
		}
		if run < 3 && l.isProcessed("m1") {
			t.Fatalf("run %d: message marked processed before the cap", run)
		}
	}

	if !l.isProcessed("m1") {
		t.Error("message should be given up on after 3 runs")
	}
	if len(st.logs) != 3 {
		t.Fatalf("logs = %d, want one per run", len(st.logs))
	}
	if !strings.Contains(st.logs[2].Reason, "giving up after 3 failed runs") {
		t.Errorf("final reason = %q", st.logs[2].Reason)
	}
	if !contains(inbox.acked, "m1") {
		t.Error("given-up message should be acked")
	}
}

// TestRunOnce_PublishesReview verifies NEEDS_REVIEW entries reach the
// review queue.
func TestRunOnce_PublishesReview(t *testing.T) {
	rv := &fakeReview{}
	inbox := &fakeInbox{msgs: []models.InboundMessage{msg("m1", "Panne", "Panne quelque part.")}}

	r := newRunner(byAddress(), &fakeStore{}, newFakeLedger(), rv, Config{}, inbox)
	sum, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if sum.NeedsReview != 1 {
		t.Fatalf("needs review = %d, want 1", sum.NeedsReview)
	}
	if len(rv.published) != 1 || rv.published[0].MessageID != "m1" {
		t.Errorf("published = %+v, want m1", rv.published)
	}
}

// TestRunOnce_RelinksExistingBuilding verifies a building written by another
// process after the snapshot is reused instead of duplicated.
func TestRunOnce_RelinksExistingBuilding(t *testing.T) {
	st := &fakeStore{hidden: map[string]string{
		textutil.Normalize("Rue Haute 10, 1000 Bruxelles"): "bld-existing",
	}}
	inbox := &fakeInbox{msgs: []models.InboundMessage{msg("m1", "Fuite", "Fuite. addr=Rue Haute 10, 1000 Bruxelles")}}

	r := newRunner(byAddress(), st, newFakeLedger(), nil, Config{}, inbox)
	sum, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if sum.BuildingsCreated != 0 {
		t.Errorf("buildings created = %d, want 0", sum.BuildingsCreated)
	}
	if len(st.missions) != 1 || st.missions[0].BuildingID != "bld-existing" {
		t.Fatalf("missions = %+v, want one on bld-existing", st.missions)
	}
	if st.logs[0].CreatedBuildingID != "" {
		t.Errorf("CreatedBuildingID = %q, want empty", st.logs[0].CreatedBuildingID)
	}
}

// TestRunOnce_PersistFailure verifies a write failure turns the entry into
// ERROR and leaves the message pending.
func TestRunOnce_PersistFailure(t *testing.T) {
	st := &fakeStore{missionErr: errors.New("connection reset")}
	l := newFakeLedger()
	inbox := &fakeInbox{msgs: []models.InboundMessage{msg("m1", "Fuite", "Fuite. addr=Rue Haute 10, 1000 Bruxelles")}}

	r := newRunner(byAddress(), st, l, nil, Config{}, inbox)
	if _, err := r.RunOnce(context.Background()); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	log := st.logs[0]
	if log.Status != models.StatusError || !strings.Contains(log.Reason, "connection reset") {
		t.Errorf("log = %s %q, want ERROR with cause", log.Status, log.Reason)
	}
	if log.CreatedMissionID != "" {
		t.Error("failed entry should not reference a mission")
	}
	if l.isProcessed("m1") || contains(inbox.acked, "m1") {
		t.Error("message should stay pending")
	}
}

// TestRunOnce_ExistingMission verifies a message whose mission was already
// written does not reference the id that was never inserted.
func TestRunOnce_ExistingMission(t *testing.T) {
	st := &fakeStore{missions: []models.Mission{{
		ID:              "mission-earlier",
		SourceMessageID: "m1",
		SourceDetails:   models.SourceDetails{From: "other@syndic.be", Subject: "Autre sujet"},
	}}}
	l := newFakeLedger()
	inbox := &fakeInbox{msgs: []models.InboundMessage{msg("m1", "Fuite", "Fuite. addr=Rue Haute 10, 1000 Bruxelles")}}

	r := newRunner(byAddress(), st, l, nil, Config{}, inbox)
	sum, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if sum.MissionsCreated != 0 || len(st.missions) != 1 {
		t.Errorf("missions created = %d, stored = %d, want 0 and 1", sum.MissionsCreated, len(st.missions))
	}
	entry := st.logs[0]
	if entry.Status != models.StatusProcessed || entry.CreatedMissionID != "" {
		t.Errorf("log = %s mission %q, want PROCESSED without mission id", entry.Status, entry.CreatedMissionID)
	}
	if !l.isProcessed("m1") {
		t.Error("message should be marked processed")
	}
}

// TestRunOnce_Replay verifies processed messages are replayed under new ids
// when replay is on.
func TestRunOnce_Replay(t *testing.T) {
	st := &fakeStore{}
	src := StaticSource{Messages: []models.InboundMessage{msg("m1", "Fuite", "Fuite. addr=Rue Haute 10, 1000 Bruxelles")}}

	r := newRunner(byAddress(), st, newFakeLedger("m1"), nil, Config{Replay: true}, src)
	sum, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if !sum.Replayed {
		t.Fatal("expected replay")
	}
	if len(st.logs) != 1 || !strings.HasPrefix(st.logs[0].MessageID, "m1-replay-") {
		t.Errorf("logs = %+v, want one replayed entry", st.logs)
	}
}

// TestRunOnce_DeduplicatesSources verifies the same id from two sources is
// ingested once, and one failing source does not stop the batch.
func TestRunOnce_DeduplicatesSources(t *testing.T) {
	st := &fakeStore{}
	m := msg("m1", "Fuite", "Fuite. addr=Rue Haute 10, 1000 Bruxelles")
	broken := &fakeInbox{err: errors.New("unreachable")}

	r := newRunner(byAddress(), st, newFakeLedger(), nil, Config{},
		StaticSource{Messages: []models.InboundMessage{m}},
		&fakeInbox{msgs: []models.InboundMessage{m}},
		broken,
	)
	sum, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if sum.Fetched != 1 || len(st.logs) != 1 {
		t.Errorf("fetched = %d, logs = %d, want 1 and 1", sum.Fetched, len(st.logs))
	}
}

// TestRunOnce_AllSourcesFail verifies the batch reports an error.
func TestRunOnce_AllSourcesFail(t *testing.T) {
	r := newRunner(byAddress(), &fakeStore{}, newFakeLedger(), nil, Config{}, &fakeInbox{err: errors.New("unreachable")})
	if _, err := r.RunOnce(context.Background()); err == nil {
		t.Error("expected error when every source fails")
	}
}

// TestRun_StopsOnCancel verifies the loop runs an initial batch and exits.
func TestRun_StopsOnCancel(t *testing.T) {
	st := &fakeStore{}
	inbox := &fakeInbox{msgs: []models.InboundMessage{msg("m1", "Hello", "How are you?")}}
	r := newRunner(byAddress(), st, newFakeLedger(), nil, Config{Interval: time.Hour}, inbox)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		st.mu.Lock()
		n := len(st.logs)
		st.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("initial batch did not run")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
