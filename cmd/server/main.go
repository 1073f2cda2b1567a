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

// Mission Intake — Ingestion Service
//
// Entry point for the long-running intake service. It:
//  1. Loads configuration from config.yaml (and .env in development)
//  2. Connects to PostgreSQL and Redis
//  3. Builds the classifier (OpenAI when configured, heuristic otherwise)
//  4. Serves the intake endpoints and a health check
//  5. Runs ingestion batches over the inbox and the watched mailbox
//  6. Keeps a Graph subscription alive so new mail triggers a batch early
//  7. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"log/slog"
	"net/http"
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
	"github.com/bcem/intake/internal/pipeline"
	"github.com/bcem/intake/internal/queue"
	"github.com/bcem/intake/internal/runner"
	"github.com/bcem/intake/internal/store"
	"github.com/bcem/intake/internal/webhook"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load .env file if exists (for local development)
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file found, using environment variables")
	}

	slog.Info("starting mission intake service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"interval", cfg.Interval,
		"mailbox", cfg.Mailbox.Enabled(),
		"openai", cfg.UseOpenAI(),
		"replay", cfg.Replay,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

	st, err := store.New(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise intake store", "error", err)
		os.Exit(1)
	}

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	review := queue.NewReviewPublisher(rdb, cfg.ReviewQueue)
	if err := review.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	inbox := queue.NewInbox(rdb, cfg.InboxKey)
	led := ledger.New(rdb, cfg.LedgerTTL)

	// --- Pipeline ---
	orch := pipeline.New(pipeline.Config{
		Classifier:    newClassifier(cfg),
		ExtraKeywords: cfg.ExtraKeywords,
	})

	sources := []runner.Source{inbox}
	if cfg.Mailbox.Enabled() {
		sources = append(sources, graph.NewFetcher(graph.FetcherConfig{
			HTTPClient: graph.NewClient(ctx, cfg.Mailbox.TenantID, cfg.Mailbox.ClientID, cfg.Mailbox.ClientSecret),
			Mailbox:    cfg.Mailbox.User,
			Lookback:   cfg.Mailbox.Lookback,
		}))
		slog.Info("mailbox source enabled", "mailbox", cfg.Mailbox.User)
	}

	run := runner.New(orch, st, led, review, runner.Config{
		Interval:         cfg.Interval,
		Replay:           cfg.Replay,
		MaxErrorAttempts: cfg.MaxErrorAttempts,
	}, sources...)

	// --- Push notifications for the watched mailbox ---
	var sub *graph.Subscriber
	clientState := cfg.Mailbox.ClientState
	if cfg.Mailbox.Enabled() && cfg.Mailbox.NotificationURL != "" {
		if clientState == "" {
			clientState = graph.GenerateClientState()
		}
		sub = graph.NewSubscriber(graph.SubscriberConfig{
			// Outlives ctx so Close can still fetch a token during shutdown.
			HTTPClient:      graph.NewClient(context.Background(), cfg.Mailbox.TenantID, cfg.Mailbox.ClientID, cfg.Mailbox.ClientSecret),
			Mailbox:         cfg.Mailbox.User,
			NotificationURL: graph.NotificationURL(cfg.Mailbox.NotificationURL),
			ClientState:     clientState,
		})
		sub.OnCreated = run.Trigger
	}

	// --- HTTP server: intake endpoints + health check ---
	handler := webhook.NewHandler(inbox, clientState, run.Trigger)
	ready, err := webhook.Serve(ctx, cfg.Port, handler, func(mux *http.ServeMux) {
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			// Check Redis
			if err := review.Ping(r.Context()); err != nil {
				http.Error(w, "redis unhealthy", http.StatusServiceUnavailable)
				return
			}
			// Check Postgres
			if err := st.Ping(r.Context()); err != nil {
				http.Error(w, "postgres unhealthy", http.StatusServiceUnavailable)
				return
			}
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status": "healthy"}`))
		})
	})
	if err != nil {
		slog.Error("failed to start intake server", "error", err)
		os.Exit(1)
	}
	<-ready

	// --- Ingestion loop ---
	done := make(chan struct{})
	go func() {
		run.Run(ctx)
		close(done)
	}()

	// Graph validates the notification URL on creation, so the server
	// must be listening first.
	if sub != nil {
		go sub.Run(ctx)
	}

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh

	slog.Info("received shutdown signal", "signal", sig)
	cancel() // Stop the server and the runner

	select {
	case <-done:
	case <-time.After(30 * time.Second):
		slog.Warn("ingestion batch did not finish before shutdown timeout")
	}

	if sub != nil {
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		sub.Close(closeCtx)
		closeCancel()
	}

	slog.Info("mission intake service stopped")
}

// newClassifier builds the configured backend wrapped with timeout, retry
// and circuit breaker.
func newClassifier(cfg *config.Config) classifier.Classifier {
	var backend classifier.Classifier = classifier.NewHeuristic()
	if cfg.UseOpenAI() {
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
