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

// Package store provides the Postgres-backed persistence the ingestion run
// reads its snapshot from and writes its results to: buildings, missions,
// interventions and the ingestion audit log.
package store

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bcem/intake/internal/models"
	"github.com/bcem/intake/internal/textutil"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides read and append operations on the intake tables.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a store backed by the given Postgres pool.
// It ensures the tables exist on creation.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure intake schema: %w", err)
	}
	slog.Info("intake store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS buildings (
			id                      TEXT PRIMARY KEY,
			address                 TEXT NOT NULL,
			normalized_address      TEXT NOT NULL UNIQUE,
			city                    TEXT NOT NULL DEFAULT '',
			linked_syndic_id        TEXT DEFAULT '',
			linked_professional_ids TEXT[] NOT NULL DEFAULT '{}',
			admin_note              TEXT DEFAULT '',
			created_at              TIMESTAMPTZ DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS missions (
			id                    TEXT PRIMARY KEY,
			building_id           TEXT NOT NULL REFERENCES buildings(id),
			title                 TEXT NOT NULL,
			description           TEXT DEFAULT '',
			sector                TEXT NOT NULL,
			status                TEXT NOT NULL,
			source_type           TEXT NOT NULL,
			source_message_id     TEXT NOT NULL UNIQUE,
			source_from           TEXT DEFAULT '',
			source_subject        TEXT DEFAULT '',
			source_received_at    TIMESTAMPTZ,
			intervention_number   TEXT DEFAULT '',
			on_site_contact_name  TEXT DEFAULT '',
			on_site_contact_phone TEXT DEFAULT '',
			on_site_contact_email TEXT DEFAULT '',
			syndic_name           TEXT DEFAULT '',
			created_at            TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_missions_building ON missions(building_id);

		CREATE TABLE IF NOT EXISTS interventions (
			id                 TEXT PRIMARY KEY,
			reference          TEXT DEFAULT '',
			title              TEXT NOT NULL DEFAULT '',
			building_id        TEXT DEFAULT '',
			source_from        TEXT,
			source_subject     TEXT,
			source_received_at TIMESTAMPTZ
		);

		CREATE TABLE IF NOT EXISTS ingestion_logs (
			id                  TEXT PRIMARY KEY,
			message_id          TEXT NOT NULL,
			status              TEXT NOT NULL,
			reason              TEXT NOT NULL DEFAULT '',
			extracted_json      JSONB,
			created_mission_id  TEXT DEFAULT '',
			created_building_id TEXT DEFAULT '',
			attempts            INT NOT NULL DEFAULT 0,
			created_at          TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_logs_message ON ingestion_logs(message_id);
		CREATE INDEX IF NOT EXISTS idx_logs_status ON ingestion_logs(status);
	`)
	return err
}

// ListBuildings returns every building, oldest first.
func (s *Store) ListBuildings(ctx context.Context) ([]models.Building, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, address, city, linked_syndic_id, linked_professional_ids,
		       admin_note, created_at
		FROM buildings
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Building
	for rows.Next() {
		var b models.Building
		if err := rows.Scan(
			&b.ID, &b.Address, &b.City, &b.LinkedSyndicID, &b.LinkedProfessionalIDs,
			&b.AdminNote, &b.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// CreateBuilding inserts a building and returns the ID it is stored under.
// When a building with the same normalized address already exists, that
// building's ID is returned and nothing is inserted.
func (s *Store) CreateBuilding(ctx context.Context, b models.Building) (string, error) {
	professionals := b.LinkedProfessionalIDs
	if professionals == nil {
		professionals = []string{}
	}

	var id string
	err := s.pool.QueryRow(ctx, `
		INSERT INTO buildings
			(id, address, normalized_address, city, linked_syndic_id,
			 linked_professional_ids, admin_note, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (normalized_address) DO UPDATE SET
			normalized_address = EXCLUDED.normalized_address
		RETURNING id
	`, b.ID, b.Address, textutil.Normalize(b.Address), b.City, b.LinkedSyndicID,
		professionals, b.AdminNote, b.CreatedAt).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("insert building: %w", err)
	}
	return id, nil
}

// ListMissions returns every mission, oldest first.
func (s *Store) ListMissions(ctx context.Context) ([]models.Mission, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, building_id, title, description, sector, status, source_type,
		       source_message_id, source_from, source_subject, source_received_at,
		       intervention_number, on_site_contact_name, on_site_contact_phone,
		       on_site_contact_email, syndic_name, created_at
		FROM missions
		ORDER BY created_at, id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMissions(rows)
}

// CreateMission inserts a mission. It reports false without error when a
// mission for the same source message already exists.
func (s *Store) CreateMission(ctx context.Context, m models.Mission) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO missions
			(id, building_id, title, description, sector, status, source_type,
			 source_message_id, source_from, source_subject, source_received_at,
			 intervention_number, on_site_contact_name, on_site_contact_phone,
			 on_site_contact_email, syndic_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (source_message_id) DO NOTHING
	`, m.ID, m.BuildingID, m.Title, m.Description, m.Sector, m.Status, m.SourceType,
		m.SourceMessageID, m.SourceDetails.From, m.SourceDetails.Subject, nullTime(m.SourceDetails.ReceivedAt),
		m.InterventionNumber, m.OnSiteContactName, m.OnSiteContactPhone,
		m.OnSiteContactEmail, m.SyndicName, m.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert mission: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListInterventions returns every pre-existing intervention.
func (s *Store) ListInterventions(ctx context.Context) ([]models.Intervention, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, COALESCE(reference, ''), COALESCE(title, ''), COALESCE(building_id, ''),
		       source_from, source_subject, source_received_at
		FROM interventions
		ORDER BY id
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Intervention
	for rows.Next() {
		var (
			i          models.Intervention
			from       *string
			subject    *string
			receivedAt *time.Time
		)
		if err := rows.Scan(&i.ID, &i.Reference, &i.Title, &i.BuildingID, &from, &subject, &receivedAt); err != nil {
			return nil, err
		}
		if from != nil || subject != nil {
			i.SourceDetails = &models.SourceDetails{From: deref(from), Subject: deref(subject)}
			if receivedAt != nil {
				i.SourceDetails.ReceivedAt = *receivedAt
			}
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// AppendLog writes an audit entry. Entries are never updated.
func (s *Store) AppendLog(ctx context.Context, e models.IngestionLogEntry) error {
	var extracted interface{}
	if len(e.ExtractedJSON) > 0 {
		extracted = string(e.ExtractedJSON)
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO ingestion_logs
			(id, message_id, status, reason, extracted_json,
			 created_mission_id, created_building_id, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8, $9)
	`, e.ID, e.MessageID, string(e.Status), e.Reason, extracted,
		e.CreatedMissionID, e.CreatedBuildingID, e.Attempts, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert ingestion log: %w", err)
	}
	return nil
}

// LogsForMessage returns the audit trail of one message, oldest first.
func (s *Store) LogsForMessage(ctx context.Context, messageID string) ([]models.IngestionLogEntry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, message_id, status, reason, extracted_json,
		       created_mission_id, created_building_id, attempts, created_at
		FROM ingestion_logs
		WHERE message_id = $1
		ORDER BY created_at, id
	`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.IngestionLogEntry
	for rows.Next() {
		var (
			e         models.IngestionLogEntry
			status    string
			extracted []byte
		)
		if err := rows.Scan(
			&e.ID, &e.MessageID, &status, &e.Reason, &extracted,
			&e.CreatedMissionID, &e.CreatedBuildingID, &e.Attempts, &e.CreatedAt,
		); err != nil {
			return nil, err
		}
		e.Status = models.LogStatus(status)
		e.ExtractedJSON = extracted
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetMissionByMessage returns the mission created from a message, or nil.
func (s *Store) GetMissionByMessage(ctx context.Context, messageID string) (*models.Mission, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, building_id, title, description, sector, status, source_type,
		       source_message_id, source_from, source_subject, source_received_at,
		       intervention_number, on_site_contact_name, on_site_contact_phone,
		       on_site_contact_email, syndic_name, created_at
		FROM missions
		WHERE source_message_id = $1
	`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	missions, err := collectMissions(rows)
	if err != nil {
		return nil, err
	}
	if len(missions) == 0 {
		return nil, nil
	}
	return &missions[0], nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}

// collectMissions scans multiple rows into a slice of Missions.
func collectMissions(rows pgx.Rows) ([]models.Mission, error) {
	var missions []models.Mission
	for rows.Next() {
		var (
			m          models.Mission
			receivedAt *time.Time
		)
		if err := rows.Scan(
			&m.ID, &m.BuildingID, &m.Title, &m.Description, &m.Sector, &m.Status, &m.SourceType,
			&m.SourceMessageID, &m.SourceDetails.From, &m.SourceDetails.Subject, &receivedAt,
			&m.InterventionNumber, &m.OnSiteContactName, &m.OnSiteContactPhone,
			&m.OnSiteContactEmail, &m.SyndicName, &m.CreatedAt,
		); err != nil {
			return nil, err
		}
		if receivedAt != nil {
			m.SourceDetails.ReceivedAt = *receivedAt
		}
		missions = append(missions, m)
	}
	return missions, rows.Err()
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
