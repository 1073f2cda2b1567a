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

// Mission Intake — One-shot Ingestion Command
//
// Runs a single ingestion batch and prints the outcome as JSON. Without
// --persist the batch runs against the snapshot given by --known and nothing
// is written, which is useful for checking how a set of messages would be
// handled. With --persist the batch goes through the same runner, store and
// ledger as the service.
//
// Usage:
//
//	go run ./cmd/ingest/ --input messages.json [--known snapshot.json] [--replay]
//	go run ./cmd/ingest/ --persist [--input messages.json] [--mailbox] [--replay]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/bcem/intake/internal/classifier"
	"github.com/bcem/intake/internal/config"
	"github.com/bcem/intake/internal/graph"
	"github.com/bcem/intake/internal/ledger"
	"github.com/bcem/intake/internal/models"
	"github.com/bcem/intake/internal/pipeline"
	"github.com/bcem/intake/internal/queue"
	"github.com/bcem/intake/internal/runner"
	"github.com/bcem/intake/internal/store"
)

// snapshot is the --known file format.
type snapshot struct {
	Buildings     []models.Building     `json:"buildings"`
	Missions      []models.Mission      `json:"missions"`
	Interventions []models.Intervention `json:"interventions"`
}

func main() {
	// Structured JSON logging on stderr; stdout carries the result
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}

	// --- CLI Flags ---
	inputFlag := flag.String("input", "", "JSON file with an array of messages (\"-\" for stdin)")
	knownFlag := flag.String("known", "", "JSON snapshot of existing buildings, missions and interventions (dry run only)")
	persistFlag := flag.Bool("persist", false, "Write results to Postgres and the ledger")
	mailboxFlag := flag.Bool("mailbox", false, "Also fetch from the configured mailbox (requires --persist)")
	replayFlag := flag.Bool("replay", false, "Re-ingest already processed messages under fresh ids")
	heuristicFlag := flag.Bool("heuristic", false, "Use the offline heuristic classifier")
	flag.Parse()

	if *inputFlag == "" && !*mailboxFlag {
		fmt.Fprintf(os.Stderr, "Error: --input or --mailbox is required\n\n")
		flag.Usage()
		os.Exit(1)
	}
	if *mailboxFlag && !*persistFlag {
		fmt.Fprintf(os.Stderr, "Error: --mailbox requires --persist\n\n")
		os.Exit(1)
	}

	var msgs []models.InboundMessage
	if *inputFlag != "" {
		if err := readJSON(*inputFlag, &msgs); err != nil {
			slog.Error("failed to read messages", "error", err)
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		if *persistFlag {
			slog.Error("failed to load configuration", "error", err)
			os.Exit(1)
		}
		slog.Warn("no usable configuration, using the heuristic classifier", "error", err)
	}

	cls := newClassifier(cfg, *heuristicFlag)
	var keywords []string
	if cfg != nil {
		keywords = cfg.ExtraKeywords
	}
	orch := pipeline.New(pipeline.Config{Classifier: cls, ExtraKeywords: keywords})

	var out interface{}
	if *persistFlag {
		out, err = runPersisted(ctx, cfg, orch, msgs, *mailboxFlag, *replayFlag)
	} else {
		out, err = runDry(ctx, orch, msgs, *knownFlag, *replayFlag)
	}
	if err != nil {
		slog.Error("ingestion failed", "error", err)
		os.Exit(1)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		slog.Error("failed to write result", "error", err)
		os.Exit(1)
	}
}

// runDry runs the pipeline against a file snapshot without side effects.
func runDry(ctx context.Context, orch *pipeline.Orchestrator, msgs []models.InboundMessage, knownPath string, replay bool) (*pipeline.Result, error) {
	var known snapshot
	if knownPath != "" {
		if err := readJSON(knownPath, &known); err != nil {
			return nil, fmt.Errorf("read snapshot: %w", err)
		}
	}

	queue.SortMessages(msgs)
	if replay {
		msgs = pipeline.ReplayIDs(msgs, time.Now().UTC().Format("20060102T150405"))
	}

	res := orch.RunIngestion(ctx, msgs, known.Buildings, known.Missions, known.Interventions)
	return &res, nil
}

// runPersisted runs one batch through the runner against the real store.
func runPersisted(ctx context.Context, cfg *config.Config, orch *pipeline.Orchestrator, msgs []models.InboundMessage, mailbox, replay bool) (*runner.Summary, error) {
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("create Postgres pool: %w", err)
	}
	defer pgPool.Close()

	st, err := store.New(ctx, pgPool)
	if err != nil {
		return nil, err
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	review := queue.NewReviewPublisher(rdb, cfg.ReviewQueue)
	if err := review.Ping(ctx); err != nil {
		return nil, fmt.Errorf("connect to Redis: %w", err)
	}

	queue.SortMessages(msgs)
	sources := []runner.Source{runner.StaticSource{Messages: msgs}}
	if mailbox {
		if !cfg.Mailbox.Enabled() {
			return nil, fmt.Errorf("mailbox is not configured")
		}
		sources = append(sources, graph.NewFetcher(graph.FetcherConfig{
			HTTPClient: graph.NewClient(ctx, cfg.Mailbox.TenantID, cfg.Mailbox.ClientID, cfg.Mailbox.ClientSecret),
			Mailbox:    cfg.Mailbox.User,
			Lookback:   cfg.Mailbox.Lookback,
		}))
	}

	run := runner.New(orch, st, ledger.New(rdb, cfg.LedgerTTL), review, runner.Config{
		Replay:           replay || cfg.Replay,
		MaxErrorAttempts: cfg.MaxErrorAttempts,
	}, sources...)

	return run.RunOnce(ctx)
}

// newClassifier mirrors the service's backend selection. cfg may be nil.
func newClassifier(cfg *config.Config, forceHeuristic bool) classifier.Classifier {
	if cfg == nil {
		return classifier.NewRetrying(classifier.NewHeuristic(), classifier.RetryConfig{})
	}

	var backend classifier.Classifier = classifier.NewHeuristic()
	if cfg.UseOpenAI() && !forceHeuristic {
		backend = classifier.NewOpenAI(classifier.OpenAIConfig{
			APIKey:  cfg.Classifier.APIKey,
			Model:   cfg.Classifier.Model,
			BaseURL: cfg.Classifier.BaseURL,
		})
	}

	return classifier.NewRetrying(backend, classifier.RetryConfig{
		Attempts: cfg.Classifier.Attempts,
		Timeout:  cfg.Classifier.Timeout,
		Backoff:  cfg.Classifier.Backoff,
		Breaker:  cfg.Classifier.Breaker,
	})
}

func readJSON(path string, v interface{}) error {
	var r io.Reader = os.Stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		r = f
	}
	return json.NewDecoder(r).Decode(v)
}
