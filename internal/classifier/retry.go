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
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"github.com/bcem/intake/internal/models"
)

const (
	// MaxAttempts bounds the calls made for one message.
	MaxAttempts = 2

	DefaultAttempts = 2
	DefaultTimeout  = 15 * time.Second
	DefaultBackoff  = 1 * time.Second
)

// RetryConfig controls how a backend is called.
type RetryConfig struct {
	Attempts int
	Timeout  time.Duration
	Backoff  time.Duration

	// Breaker enables a circuit breaker so a dead backend fails fast
	// instead of costing every remaining message a full timeout.
	Breaker bool
}

// Retrying wraps a backend with a per-attempt deadline and a bounded retry.
type Retrying struct {
	next     Classifier
	attempts int
	timeout  time.Duration
	backoff  time.Duration
	cb       *gobreaker.CircuitBreaker
}

// NewRetrying wraps next. Zero config values fall back to the defaults.
func NewRetrying(next Classifier, cfg RetryConfig) *Retrying {
	r := &Retrying{
		next:     next,
		attempts: cfg.Attempts,
		timeout:  cfg.Timeout,
		backoff:  cfg.Backoff,
	}
	if r.attempts <= 0 {
		r.attempts = DefaultAttempts
	}
	if r.attempts > MaxAttempts {
		r.attempts = MaxAttempts
	}
	if r.timeout <= 0 {
		r.timeout = DefaultTimeout
	}
	if r.backoff < 0 {
		r.backoff = 0
	} else if r.backoff == 0 {
		r.backoff = DefaultBackoff
	}

	if cfg.Breaker {
		r.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "classifier",
			MaxRequests: 1,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures > 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				slog.Warn("circuit breaker state changed",
					"breaker", name,
					"from", from.String(),
					"to", to.String(),
				)
			},
		})
	}

	return r
}

// Classify calls the backend at most r.attempts times.
func (r *Retrying) Classify(ctx context.Context, text string) (*models.ExtractionResult, error) {
	var lastErr error
	attempt := 0

	for attempt < r.attempts {
		if err := ctx.Err(); err != nil {
			return nil, &ExhaustedError{Attempts: attempt, Err: err}
		}
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, &ExhaustedError{Attempts: attempt, Err: ctx.Err()}
			case <-time.After(r.backoff):
			}
		}
		attempt++

		res, err := r.once(ctx, text)
		if err == nil {
			return res, nil
		}
		lastErr = err

		slog.Debug("classifier attempt failed",
			"attempt", attempt,
			"max_attempts", r.attempts,
			"error", err,
		)

		if ctx.Err() != nil {
			lastErr = fmt.Errorf("%w: %v", ctx.Err(), err)
			break
		}
		if errors.Is(err, gobreaker.ErrOpenState) {
			break
		}
	}

	return nil, &ExhaustedError{Attempts: attempt, Err: lastErr}
}

type attemptResult struct {
	res *models.ExtractionResult
	err error
}

// once runs a single attempt. The backend runs in its own goroutine so the
// deadline holds even for a backend that ignores its context.
func (r *Retrying) once(ctx context.Context, text string) (*models.ExtractionResult, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	call := func() (interface{}, error) {
		done := make(chan attemptResult, 1)
		go func() {
			res, err := r.next.Classify(attemptCtx, text)
			done <- attemptResult{res: res, err: err}
		}()

		select {
		case out := <-done:
			if out.err != nil {
				return nil, out.err
			}
			if out.res == nil {
				return nil, errors.New("classifier returned no result")
			}
			return out.res, nil
		case <-attemptCtx.Done():
			return nil, attemptCtx.Err()
		}
	}

	var out interface{}
	var err error
	if r.cb != nil {
		out, err = r.cb.Execute(call)
	} else {
		out, err = call()
	}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %s", ErrTimeout, r.timeout)
		}
		return nil, err
	}
	return out.(*models.ExtractionResult), nil
}
