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

package graph

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Maximum subscription lifetime for messages is 4230 minutes (~2.94 days).
const maxSubscriptionMinutes = 4230

// SubscriberConfig holds the configuration for the mailbox subscriber.
type SubscriberConfig struct {
	HTTPClient      *http.Client
	GraphBaseURL    string
	Mailbox         string
	NotificationURL string // public URL of the /graph/notifications endpoint
	ClientState     string
	RenewEvery      time.Duration
}

// Subscriber keeps a Graph change-notification subscription alive for the
// watched mailbox, so new mail triggers a batch without waiting for the
// next tick.
type Subscriber struct {
	httpClient      *http.Client
	graphBaseURL    string
	mailbox         string
	notificationURL string
	clientState     string
	renewEvery      time.Duration

	mu             sync.Mutex
	subscriptionID string
	expiresAt      time.Time

	// OnCreated is called after a subscription is (re)created, so messages
	// that arrived while none was active get picked up. May be nil.
	OnCreated func()

	now func() time.Time
}

// NewSubscriber creates a mailbox subscriber.
func NewSubscriber(cfg SubscriberConfig) *Subscriber {
	base := cfg.GraphBaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	every := cfg.RenewEvery
	if every <= 0 {
		every = 12 * time.Hour
	}
	return &Subscriber{
		httpClient:      cfg.HTTPClient,
		graphBaseURL:    base,
		mailbox:         cfg.Mailbox,
		notificationURL: cfg.NotificationURL,
		clientState:     cfg.ClientState,
		renewEvery:      every,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

// Run creates the subscription and renews it until the context is cancelled.
func (s *Subscriber) Run(ctx context.Context) {
	slog.Info("mailbox subscriber starting",
		"mailbox", s.mailbox,
		"notification_url", s.notificationURL,
		"renew_every", s.renewEvery,
	)

	s.ensure(ctx)

	ticker := time.NewTicker(s.renewEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("mailbox subscriber stopping")
			return
		case <-ticker.C:
			s.ensure(ctx)
		}
	}
}

// ensure renews the current subscription, or creates one when there is
// none or Graph no longer knows it.
func (s *Subscriber) ensure(ctx context.Context) {
	s.mu.Lock()
	id := s.subscriptionID
	s.mu.Unlock()

	var err error
	if id == "" {
		err = s.create(ctx)
	} else {
		err = s.renew(ctx, id)
	}
	if err != nil {
		slog.Error("mailbox subscription upkeep failed", "mailbox", s.mailbox, "error", err)
	}
}

// SubscriptionID returns the active subscription, if any.
func (s *Subscriber) SubscriptionID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.subscriptionID
}

// ExpiresAt returns when the active subscription lapses unless renewed.
func (s *Subscriber) ExpiresAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.expiresAt
}

func (s *Subscriber) create(ctx context.Context) error {
	expiry := s.now().Add(time.Duration(maxSubscriptionMinutes) * time.Minute)

	payload := map[string]interface{}{
		"changeType":         "created",
		"notificationUrl":    s.notificationURL,
		"resource":           fmt.Sprintf("/users/%s/messages", url.PathEscape(s.mailbox)),
		"expirationDateTime": expiry.Format(time.RFC3339),
		"clientState":        s.clientState,
	}

	var result struct {
		ID                 string `json:"id"`
		ExpirationDateTime string `json:"expirationDateTime"`
	}
	status, err := s.send(ctx, http.MethodPost, s.graphBaseURL+"/subscriptions", payload, &result)
	if err != nil {
		return fmt.Errorf("create subscription: %w", err)
	}
	if status != http.StatusCreated {
		return fmt.Errorf("graph subscription creation returned HTTP %d", status)
	}

	parsedExpiry, _ := time.Parse(time.RFC3339, result.ExpirationDateTime)
	if parsedExpiry.IsZero() {
		parsedExpiry = expiry
	}

	s.mu.Lock()
	s.subscriptionID = result.ID
	s.expiresAt = parsedExpiry
	s.mu.Unlock()

	slog.Info("mailbox subscription created",
		"mailbox", s.mailbox,
		"subscription_id", result.ID,
		"expires_at", parsedExpiry,
	)

	if s.OnCreated != nil {
		s.OnCreated()
	}
	return nil
}

func (s *Subscriber) renew(ctx context.Context, id string) error {
	newExpiry := s.now().Add(time.Duration(maxSubscriptionMinutes) * time.Minute)
	payload := map[string]string{
		"expirationDateTime": newExpiry.Format(time.RFC3339),
	}

	status, err := s.send(ctx, http.MethodPatch, fmt.Sprintf("%s/subscriptions/%s", s.graphBaseURL, id), payload, nil)
	if err != nil {
		return fmt.Errorf("renew subscription: %w", err)
	}

	if status == http.StatusNotFound {
		// Subscription was removed by Microsoft, re-create
		slog.Warn("subscription removed by Graph, re-creating", "subscription_id", id)
		s.mu.Lock()
		s.subscriptionID = ""
		s.expiresAt = time.Time{}
		s.mu.Unlock()
		return s.create(ctx)
	}
	if status != http.StatusOK {
		return fmt.Errorf("graph subscription renewal returned HTTP %d", status)
	}

	s.mu.Lock()
	s.expiresAt = newExpiry
	s.mu.Unlock()

	slog.Info("mailbox subscription renewed", "subscription_id", id, "new_expiry", newExpiry)
	return nil
}

// Close deletes the subscription. Errors are logged; Graph expires it anyway.
func (s *Subscriber) Close(ctx context.Context) {
	id := s.SubscriptionID()
	if id == "" {
		return
	}
	status, err := s.send(ctx, http.MethodDelete, fmt.Sprintf("%s/subscriptions/%s", s.graphBaseURL, id), nil, nil)
	if err != nil || (status != http.StatusNoContent && status != http.StatusNotFound) {
		slog.Warn("failed to delete mailbox subscription", "subscription_id", id, "status", status, "error", err)
		return
	}
	s.mu.Lock()
	s.subscriptionID = ""
	s.expiresAt = time.Time{}
	s.mu.Unlock()
}

func (s *Subscriber) send(ctx context.Context, method, rawURL string, payload, out interface{}) (int, error) {
	var body *bytes.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, fmt.Errorf("marshal body: %w", err)
		}
		body = bytes.NewReader(data)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// GenerateClientState creates a random secret for notification validation.
func GenerateClientState() string {
	b := make([]byte, 16)
	rand.Read(b)
	return hex.EncodeToString(b)
}

// NotificationURL joins a public base URL with the notification path.
func NotificationURL(base string) string {
	return strings.TrimRight(base, "/") + "/graph/notifications"
}
