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

// Package graph pulls inbound messages from a Microsoft 365 mailbox through
// the Graph API. It lists messages received within a lookback window,
// follows pagination links and reads text attachments so their content can
// be classified alongside the body.
package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/bcem/intake/internal/models"
)

// DefaultBaseURL is the Graph v1.0 endpoint.
const DefaultBaseURL = "https://graph.microsoft.com/v1.0"

// NewClient returns an HTTP client that authenticates to Graph with the
// OAuth2 client-credentials flow of the given app registration.
func NewClient(ctx context.Context, tenantID, clientID, clientSecret string) *http.Client {
	creds := &clientcredentials.Config{
		ClientID:     clientID,
		ClientSecret: clientSecret,
		TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", tenantID),
		Scopes:       []string{"https://graph.microsoft.com/.default"},
	}
	return creds.Client(ctx)
}

// messagesResponse represents a page of the /messages list response.
type messagesResponse struct {
	Value    []graphMessage `json:"value"`
	NextLink string         `json:"@odata.nextLink"`
}

// FetcherConfig holds dependencies for the mailbox fetcher.
type FetcherConfig struct {
	HTTPClient   *http.Client
	GraphBaseURL string
	Mailbox      string        // user ID or UPN of the watched mailbox
	Lookback     time.Duration // how far back each fetch reaches
	PageDelay    time.Duration // delay between pages to avoid throttling
}

// Fetcher lists recent messages of one mailbox.
type Fetcher struct {
	httpClient   *http.Client
	graphBaseURL string
	mailbox      string
	lookback     time.Duration
	pageDelay    time.Duration
	now          func() time.Time
}

// NewFetcher creates a Graph API mailbox fetcher.
func NewFetcher(cfg FetcherConfig) *Fetcher {
	base := cfg.GraphBaseURL
	if base == "" {
		base = DefaultBaseURL
	}
	lookback := cfg.Lookback
	if lookback <= 0 {
		lookback = 24 * time.Hour
	}
	delay := cfg.PageDelay
	if delay == 0 {
		delay = 500 * time.Millisecond
	}
	return &Fetcher{
		httpClient:   cfg.HTTPClient,
		graphBaseURL: base,
		mailbox:      cfg.Mailbox,
		lookback:     lookback,
		pageDelay:    delay,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

// Fetch returns every message received within the lookback window, oldest
// first. A message whose attachments cannot be read is skipped this round.
func (f *Fetcher) Fetch(ctx context.Context) ([]models.InboundMessage, error) {
	since := f.now().Add(-f.lookback).Format(time.RFC3339)

	params := url.Values{}
	params.Set("$filter", fmt.Sprintf("receivedDateTime ge %s", since))
	params.Set("$select", "id,subject,from,body,receivedDateTime,hasAttachments")
	params.Set("$orderby", "receivedDateTime asc")
	params.Set("$top", "50")

	listURL := fmt.Sprintf("%s/users/%s/messages?%s", f.graphBaseURL, url.PathEscape(f.mailbox), params.Encode())

	var out []models.InboundMessage
	pageCount := 0
	for nextURL := listURL; nextURL != ""; {
		// Rate limit between pages
		if pageCount > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(f.pageDelay):
			}
		}

		page, err := f.fetchPage(ctx, nextURL)
		if err != nil {
			return nil, fmt.Errorf("fetch page %d: %w", pageCount, err)
		}
		pageCount++

		for _, gm := range page.Value {
			msg := gm.toInbound(f.now)
			if gm.HasAttachments {
				attachments, err := f.fetchAttachments(ctx, gm.ID)
				if err != nil {
					slog.Warn("skipping message, attachments unavailable",
						"message_id", gm.ID,
						"error", err,
					)
					continue
				}
				msg.Attachments = attachments
			}
			out = append(out, msg)
		}

		nextURL = page.NextLink
	}

	slog.Info("mailbox fetched",
		"mailbox", f.mailbox,
		"since", since,
		"messages", len(out),
		"pages", pageCount,
	)

	return out, nil
}

// fetchPage retrieves a single page of messages from the list endpoint.
func (f *Fetcher) fetchPage(ctx context.Context, pageURL string) (*messagesResponse, error) {
	var page messagesResponse
	if err := f.getJSON(ctx, pageURL, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// fetchAttachments lists a message's attachments, decoding text ones.
func (f *Fetcher) fetchAttachments(ctx context.Context, messageID string) ([]models.Attachment, error) {
	attURL := fmt.Sprintf("%s/users/%s/messages/%s/attachments",
		f.graphBaseURL, url.PathEscape(f.mailbox), url.PathEscape(messageID))

	var resp attachmentsResponse
	if err := f.getJSON(ctx, attURL, &resp); err != nil {
		return nil, err
	}

	out := make([]models.Attachment, 0, len(resp.Value))
	for _, ga := range resp.Value {
		out = append(out, ga.toAttachment())
	}
	return out, nil
}

func (f *Fetcher) getJSON(ctx context.Context, rawURL string, v interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Prefer", `outlook.body-content-type="text", odata.maxpagesize=50`)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("graph request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		slog.Error("graph API error", "status", resp.StatusCode, "body", string(body))
		return fmt.Errorf("graph API returned HTTP %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decode graph response: %w", err)
	}
	return nil
}
