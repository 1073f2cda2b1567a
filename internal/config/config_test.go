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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeConfig writes a config file into a temp dir and returns its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// clearEnv blanks every variable Load falls back to.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DATABASE_URL", "REDIS_URL", "INBOX_KEY", "REVIEW_QUEUE", "LEDGER_TTL",
		"CLASSIFIER_PROVIDER", "OPENAI_API_KEY", "OPENAI_MODEL", "OPENAI_BASE_URL",
		"CLASSIFIER_TIMEOUT", "CLASSIFIER_ATTEMPTS", "CLASSIFIER_BACKOFF", "CLASSIFIER_BREAKER",
		"MAILBOX_TENANT_ID", "MAILBOX_CLIENT_ID", "MAILBOX_CLIENT_SECRET", "MAILBOX_USER",
		"MAILBOX_LOOKBACK", "MAILBOX_CLIENT_STATE", "MAILBOX_NOTIFICATION_URL",
		"INGESTION_INTERVAL", "INGESTION_REPLAY", "MAX_ERROR_ATTEMPTS", "PORT",
	} {
		t.Setenv(key, "")
	}
}

// TestLoadFile_FullConfig verifies every section is read and ${VAR}
// references are expanded.
func TestLoadFile_FullConfig(t *testing.T) {
	clearEnv(t)
	t.Setenv("TEST_MAILBOX_SECRET", "s3cret")

	path := writeConfig(t, `
database:
  url: postgres://u:p@db:5432/intake
redis:
  url: redis://cache:6379/1
  queues:
    inbox: custom:inbox
    review: custom:review
  ledger_ttl: 72h
classifier:
  provider: openai
  api_key: sk-test
  model: gpt-4o
  timeout: 20s
  attempts: 1
  backoff: 500ms
  breaker: false
mailbox:
  tenant_id: tenant-1
  client_id: client-1
  client_secret: ${TEST_MAILBOX_SECRET}
  user: interventions@bcem.be
  lookback: 6h
  notification_url: https://intake.bcem.be
ingestion:
  interval: 30s
  replay: true
  max_error_attempts: 5
  extra_keywords: ["toiture", "dak"]
port: 9090
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.DatabaseURL != "postgres://u:p@db:5432/intake" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}
	if cfg.RedisURL != "redis://cache:6379/1" || cfg.InboxKey != "custom:inbox" || cfg.ReviewQueue != "custom:review" {
		t.Errorf("redis = %q %q %q", cfg.RedisURL, cfg.InboxKey, cfg.ReviewQueue)
	}
	if cfg.LedgerTTL != 72*time.Hour {
		t.Errorf("LedgerTTL = %v, want 72h", cfg.LedgerTTL)
	}

	c := cfg.Classifier
	if c.Provider != ProviderOpenAI || c.APIKey != "sk-test" || c.Model != "gpt-4o" {
		t.Errorf("classifier = %+v", c)
	}
	if c.Timeout != 20*time.Second || c.Attempts != 1 || c.Backoff != 500*time.Millisecond || c.Breaker {
		t.Errorf("classifier tuning = %+v", c)
	}

	if cfg.Mailbox.ClientSecret != "s3cret" {
		t.Errorf("ClientSecret = %q, want expanded value", cfg.Mailbox.ClientSecret)
	}
	if !cfg.Mailbox.Enabled() || cfg.Mailbox.Lookback != 6*time.Hour {
		t.Errorf("mailbox = %+v", cfg.Mailbox)
	}
	if cfg.Mailbox.NotificationURL != "https://intake.bcem.be" {
		t.Errorf("NotificationURL = %q", cfg.Mailbox.NotificationURL)
	}

	if cfg.Interval != 30*time.Second || !cfg.Replay || cfg.MaxErrorAttempts != 5 {
		t.Errorf("ingestion = %v %v %d", cfg.Interval, cfg.Replay, cfg.MaxErrorAttempts)
	}
	if len(cfg.ExtraKeywords) != 2 || cfg.ExtraKeywords[1] != "dak" {
		t.Errorf("ExtraKeywords = %v", cfg.ExtraKeywords)
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if !cfg.UseOpenAI() {
		t.Error("UseOpenAI should be true")
	}
}

// TestLoadFile_Defaults verifies an empty file yields working defaults.
func TestLoadFile_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := LoadFile(writeConfig(t, "{}\n"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.InboxKey != "intake:inbox" || cfg.ReviewQueue != "intake:review" {
		t.Errorf("queues = %q %q", cfg.InboxKey, cfg.ReviewQueue)
	}
	if cfg.Classifier.Provider != ProviderAuto || cfg.Classifier.Attempts != 2 {
		t.Errorf("classifier = %+v", cfg.Classifier)
	}
	if cfg.Classifier.Timeout != 15*time.Second || cfg.Classifier.Backoff != time.Second || !cfg.Classifier.Breaker {
		t.Errorf("classifier tuning = %+v", cfg.Classifier)
	}
	if cfg.MaxErrorAttempts != 3 || cfg.Interval != time.Minute || cfg.Replay {
		t.Errorf("ingestion = %d %v %v", cfg.MaxErrorAttempts, cfg.Interval, cfg.Replay)
	}
	if cfg.Mailbox.Enabled() {
		t.Error("mailbox should be disabled")
	}
	if cfg.UseOpenAI() {
		t.Error("auto provider without key should use the heuristic")
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
}

// TestLoadFile_EnvFallback verifies env vars fill values the YAML leaves out.
func TestLoadFile_EnvFallback(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("INGESTION_INTERVAL", "5m")
	t.Setenv("PORT", "7070")

	cfg, err := LoadFile(writeConfig(t, "redis:\n  url: redis://yaml:6379/0\n"))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}

	if cfg.RedisURL != "redis://yaml:6379/0" {
		t.Errorf("RedisURL = %q, YAML should win", cfg.RedisURL)
	}
	if cfg.Classifier.APIKey != "sk-env" || !cfg.UseOpenAI() {
		t.Errorf("APIKey = %q, want env value and openai in auto mode", cfg.Classifier.APIKey)
	}
	if cfg.Interval != 5*time.Minute || cfg.Port != 7070 {
		t.Errorf("interval/port = %v/%d", cfg.Interval, cfg.Port)
	}
}

// TestLoadFile_Invalid verifies validation failures are reported.
func TestLoadFile_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"unknown provider", "classifier:\n  provider: bard\n", "unknown classifier.provider"},
		{"openai without key", "classifier:\n  provider: openai\n", "api_key is required"},
		{"partial mailbox", "mailbox:\n  tenant_id: t1\n", "mailbox requires"},
		{"notification url without mailbox", "mailbox:\n  notification_url: https://intake.bcem.be\n", "notification_url requires"},
		{"too many attempts", "classifier:\n  attempts: 5\n", "classifier.attempts"},
		{"bad duration", "ingestion:\n  interval: soon\n", "ingestion.interval"},
		{"negative interval", "ingestion:\n  interval: -1m\n", "must be positive"},
		{"bad yaml", "redis: [\n", "parse config YAML"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			_, err := LoadFile(writeConfig(t, tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %q, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

// TestLoadFile_Missing verifies a missing file is an error.
func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
