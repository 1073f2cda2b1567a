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

package textutil

import "testing"

// TestNormalize verifies punctuation stripping and whitespace collapsing.
func TestNormalize(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Rue de la Loi 155, 1000 Bruxelles", "rue de la loi 155 1000 bruxelles"},
		{"  RUE   de la Loi\t155 ,1000  Bruxelles. ", "rue de la loi 155 1000 bruxelles"},
		{"Avenue Louise, 54 - 1050 Ixelles", "avenue louise 54 1050 ixelles"},
		{"", ""},
		{"...", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

// TestFold verifies case and accent folding.
func TestFold(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Électricité", "electricite"},
		{"DÉGÂT DES EAUX", "degat des eaux"},
		{"Lekkage", "lekkage"},
	}

	for _, tt := range tests {
		if got := Fold(tt.in); got != tt.want {
			t.Errorf("Fold(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

// TestHead verifies rune-safe truncation.
func TestHead(t *testing.T) {
	if got := Head("héllo", 2); got != "hé" {
		t.Errorf("Head = %q, want %q", got, "hé")
	}
	if got := Head("abc", 10); got != "abc" {
		t.Errorf("Head = %q, want %q", got, "abc")
	}
	if got := Head("abc", 0); got != "" {
		t.Errorf("Head = %q, want empty", got)
	}
}
