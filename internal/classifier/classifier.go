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

// Package classifier turns raw message text into a structured extraction and
// a MISSION / NON_MISSION / NEEDS_REVIEW verdict. The pipeline only depends
// on the Classifier interface; backends are swappable.
package classifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/bcem/intake/internal/models"
)

// Classifier extracts mission data from message text.
type Classifier interface {
	Classify(ctx context.Context, text string) (*models.ExtractionResult, error)
}

// Func adapts a plain function to the Classifier interface.
type Func func(ctx context.Context, text string) (*models.ExtractionResult, error)

// Classify implements Classifier.
func (f Func) Classify(ctx context.Context, text string) (*models.ExtractionResult, error) {
	return f(ctx, text)
}

// ErrTimeout marks an attempt that ran past its deadline.
var ErrTimeout = errors.New("classifier timed out")

// ExhaustedError is returned once every attempt has failed.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("classifier failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }
