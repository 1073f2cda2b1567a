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

// Package webhook serves the intake HTTP endpoints. Upstream systems POST
// inbound messages to /messages; Microsoft Graph POSTs change notifications
// for the watched mailbox to /graph/notifications, which trigger an early
// ingestion batch.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/bcem/intake/internal/models"
)

// maxBodyBytes caps a single submission.
const maxBodyBytes = 10 << 20

// Enqueuer stores accepted messages until the next batch.
type Enqueuer interface {
	Enqueue(ctx context.Context, msgs ...models.InboundMessage) error
}

// ChangeNotification represents a single Graph API change notification.
type ChangeNotification struct {
	SubscriptionID string `json:"subscriptionId"`
	ChangeType     string `json:"changeType"`
	Resource       string `json:"resource"`
	ClientState    string `json:"clientState"`
	TenantID       string `json:"tenantId"`
}

// NotificationPayload is the wrapper Graph sends.
type NotificationPayload struct {
	Value []ChangeNotification `json:"value"`
}

// Handler processes message submissions and mailbox notifications.
type Handler struct {
	inbox       Enqueuer
	clientState string

	// OnAccepted is called after messages are enqueued or a new-mail
	// notification arrives. May be nil.
	OnAccepted func()

	now func() time.Time
}

// NewHandler creates a handler. clientState, when set, must match the
// clientState of every Graph notification.
func NewHandler(inbox Enqueuer, clientState string, onAccepted func()) *Handler {
	return &Handler{
		inbox:       inbox,
		clientState: clientState,
		OnAccepted:  onAccepted,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

type acceptedResponse struct {
	Accepted   int      `json:"accepted"`
	MessageIDs []string `json:"message_ids"`
}

// ServeMessages accepts one message object or an array of them.
func (h *Handler) ServeMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "could not read body"})
		return
	}
	if len(body) > maxBodyBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "body too large"})
		return
	}

	msgs, err := decodeMessages(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	ids := make([]string, 0, len(msgs))
	for i := range msgs {
		if msgs[i].ReceivedAt.IsZero() {
			msgs[i].ReceivedAt = h.now()
		}
		ids = append(ids, msgs[i].MessageID)
	}

	if err := h.inbox.Enqueue(r.Context(), msgs...); err != nil {
		slog.Error("failed to enqueue messages", "count", len(msgs), "error", err)
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "inbox unavailable"})
		return
	}

	slog.Info("messages accepted", "count", len(msgs))
	writeJSON(w, http.StatusAccepted, acceptedResponse{Accepted: len(msgs), MessageIDs: ids})

	if h.OnAccepted != nil {
		h.OnAccepted()
	}
}

// decodeMessages parses a single object or an array and checks every
// message has an ID.
func decodeMessages(body []byte) ([]models.InboundMessage, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil, errors.New("empty body")
	}

	var msgs []models.InboundMessage
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal([]byte(trimmed), &msgs); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
	} else {
		var msg models.InboundMessage
		if err := json.Unmarshal([]byte(trimmed), &msg); err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		msgs = append(msgs, msg)
	}

	if len(msgs) == 0 {
		return nil, errors.New("no messages")
	}
	for i, msg := range msgs {
		if strings.TrimSpace(msg.MessageID) == "" {
			return nil, fmt.Errorf("message %d: message_id is required", i)
		}
	}
	return msgs, nil
}

// ServeNotification handles Graph change notifications.
//
// Graph API validation flow:
//   - When creating a subscription, Graph sends a POST with ?validationToken=<token>
//   - We must respond 200 OK with the token in plain text
//
// Normal notification flow:
//   - Graph POSTs a JSON body with an array of ChangeNotification objects
//   - We respond 202 Accepted immediately
//   - A created message triggers an early batch; the mailbox fetcher picks it up
func (h *Handler) ServeNotification(w http.ResponseWriter, r *http.Request) {
	// Handle validation handshake
	if token := r.URL.Query().Get("validationToken"); token != "" {
		slog.Info("subscription validation request received")
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(token))
		return
	}

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusOK)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		slog.Error("failed to read notification body", "error", err)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	var payload NotificationPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		slog.Info("notification body not valid JSON, ignoring",
			"body_len", len(body),
		)
		w.WriteHeader(http.StatusAccepted)
		return
	}

	// Respond immediately, Graph expects a fast response
	w.WriteHeader(http.StatusAccepted)

	if h.newMail(payload.Value) && h.OnAccepted != nil {
		h.OnAccepted()
	}
}

// newMail reports whether any notification announces a created message
// with a valid clientState.
func (h *Handler) newMail(notifications []ChangeNotification) bool {
	found := false
	for _, n := range notifications {
		if n.ChangeType != "created" {
			slog.Debug("skipping non-created notification",
				"change_type", n.ChangeType,
				"resource", n.Resource,
			)
			continue
		}

		if h.clientState != "" && n.ClientState != h.clientState {
			slog.Warn("clientState mismatch, possible spoofed notification",
				"resource", n.Resource,
			)
			continue
		}

		userID, messageID, err := parseResource(n.Resource)
		if err != nil {
			slog.Warn("failed to parse notification resource",
				"resource", n.Resource,
				"error", err,
			)
			continue
		}

		slog.Info("new mail notification",
			"user", userID,
			"message_id", messageID,
		)
		found = true
	}
	return found
}

// parseResource extracts userID and messageID from a Graph notification resource string.
// Format: "users/{userId}/messages/{messageId}"
func parseResource(resource string) (userID, messageID string, err error) {
	resource = strings.TrimPrefix(resource, "/")

	parts := strings.Split(resource, "/")
	// Graph may send capitalised variants: "Users", "Messages"
	if len(parts) != 4 || !strings.EqualFold(parts[0], "users") || !strings.EqualFold(parts[2], "messages") {
		return "", "", fmt.Errorf("unexpected resource format: %s", resource)
	}

	return parts[1], parts[3], nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("failed to write response", "error", err)
	}
}

// Routes registers the intake endpoints on mux.
func (h *Handler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("/messages", h.ServeMessages)
	mux.HandleFunc("/graph/notifications", h.ServeNotification)
}

// Serve starts the HTTP server on the given port.
// It binds the port immediately and signals readiness via the returned channel
// before starting to accept connections. extra, when non-nil, registers
// additional routes such as a health check.
func Serve(ctx context.Context, port int, handler *Handler, extra func(*http.ServeMux)) (<-chan struct{}, error) {
	mux := http.NewServeMux()
	handler.Routes(mux)
	if extra != nil {
		extra(mux)
	}

	server := &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind intake port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("intake server shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("intake server shutdown error", "error", err)
		}
	}()

	go func() {
		slog.Info("intake server listening", "port", port)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("intake server error", "error", err)
		}
	}()

	return ready, nil
}
