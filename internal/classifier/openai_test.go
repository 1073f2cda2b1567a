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

package classifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/bcem/intake/internal/models"
)

// TestParseExtraction covers fences, unknown labels and confidence clamping.
func TestParseExtraction(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		want      models.Classification
		wantConf  float64
		wantError bool
	}{
		{
			name:     "plain",
			raw:      `{"classification":"MISSION","confidence":0.8,"mission":{"reference":"OS-1"}}`,
			want:     models.ClassificationMission,
			wantConf: 0.8,
		},
		{
			name:     "fenced and lowercase",
			raw:      "```json\n{\"classification\":\"non_mission\",\"confidence\":1.7}\n```",
			want:     models.ClassificationNonMission,
			wantConf: 1,
		},
		{
			name:     "unknown label",
			raw:      `{"classification":"MAYBE","confidence":-1}`,
			want:     models.ClassificationNeedsReview,
			wantConf: 0,
		},
		{name: "empty", raw: "  ", wantError: true},
		{name: "garbage", raw: "not json", wantError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := ParseExtraction(tt.raw)
			if tt.wantError {
				if err == nil {
					t.Error("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Classification != tt.want {
				t.Errorf("Classification = %q, want %q", res.Classification, tt.want)
			}
			if res.Confidence != tt.wantConf {
				t.Errorf("Confidence = %v, want %v", res.Confidence, tt.wantConf)
			}
		})
	}
}

// TestOpenAI_Classify runs the backend against a fake completion endpoint.
func TestOpenAI_Classify(t *testing.T) {
	var gotModel string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			w.WriteHeader(http.StatusNotFound)
			return
		}

		var req struct {
			Model string `json:"model"`
		}
		json.NewDecoder(r.Body).Decode(&req)
		gotModel = req.Model

		content := `{"classification":"MISSION","confidence":0.92,"reasons":["work order"],` +
			`"mission":{"title":"Fuite","address":{"raw":"Rue de la Loi 155, 1000 Bruxelles"},"reference":"OS-2024-99",` +
			`"contact_on_site":{"name":"M. Dubuc","phone":"0470 12 34 56"}}}`

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  req.Model,
			"choices": []map[string]interface{}{
				{
					"index":         0,
					"finish_reason": "stop",
					"message":       map[string]string{"role": "assistant", "content": content},
				},
			},
		})
	}))
	defer server.Close()

	c := NewOpenAI(OpenAIConfig{APIKey: "test", BaseURL: server.URL + "/v1"})
	res, err := c.Classify(context.Background(), "Ordre de service")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotModel != DefaultModel {
		t.Errorf("model = %q, want %q", gotModel, DefaultModel)
	}
	if res.Classification != models.ClassificationMission {
		t.Errorf("Classification = %q", res.Classification)
	}
	if res.Mission == nil || res.Mission.Reference != "OS-2024-99" {
		t.Fatalf("Mission = %+v", res.Mission)
	}
	if res.Mission.ContactOnSite == nil || res.Mission.ContactOnSite.Name != "M. Dubuc" {
		t.Errorf("ContactOnSite = %+v", res.Mission.ContactOnSite)
	}
}

// TestOpenAI_ServerError verifies API failures surface as errors.
func TestOpenAI_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer server.Close()

	c := NewOpenAI(OpenAIConfig{APIKey: "test", BaseURL: server.URL + "/v1"})
	if _, err := c.Classify(context.Background(), "text"); err == nil {
		t.Error("expected error for 503 response")
	}
}
