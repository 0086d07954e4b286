// Copyright 2021 Ewout Prangsma
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
//
// Author Ewout Prangsma
//

package util

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Backoff controls the delay between calls of a failing callback.
type Backoff struct {
	// Delay after a successful call, and the first delay after a failure.
	Initial time.Duration
	// Upper bound of the delay.
	Max time.Duration
	// Growth of the delay after each consecutive failure.
	Factor float64
}

// DefaultBackoff is used by UntilCanceled.
var DefaultBackoff = Backoff{
	Initial: time.Millisecond * 10,
	Max:     time.Second * 5,
	Factor:  1.5,
}

// next returns the delay following the given delay after a failure.
func (b Backoff) next(delay time.Duration) time.Duration {
	delay = time.Duration(float64(delay) * max(b.Factor, 1))
	return min(max(delay, b.Initial), b.Max)
}

// UntilCanceled continues to call the given callback
// until the given context is canceled
func UntilCanceled(ctx context.Context, log zerolog.Logger, description string, cb func() error) error {
	return UntilCanceledWithBackoff(ctx, log, description, DefaultBackoff, cb)
}

// UntilCanceledWithBackoff is UntilCanceled with a custom backoff.
func UntilCanceledWithBackoff(ctx context.Context, log zerolog.Logger, description string, backoff Backoff, cb func() error) error {
	delay := backoff.Initial
	failures := 0
	for {
		if ctx.Err() != nil {
			return nil
		}
		if err := cb(); err != nil {
			failures++
			log.Warn().Err(err).Int("failures", failures).Msgf("%s failed", description)
			delay = backoff.next(delay)
		} else {
			failures = 0
			delay = backoff.Initial
		}
		select {
		case <-ctx.Done():
			log.Info().Msgf("Stopping %s; context canceled", description)
			return nil
		case <-time.After(delay):
		}
	}
}
