// Copyright 2025 Ewout Prangsma
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

package spindle

import "time"

const (
	// Duration of the soft-start ramp
	defaultRampDuration = 2000 * time.Millisecond
	// Time between two duty updates of the soft-start ramp
	rampStepInterval = 20 * time.Millisecond
)

// Ramp is a finite, non-restartable sequence of duty values that
// increases linearly from a start duty (exclusive) to a target duty (inclusive).
// The caller writes each value and suspends for Interval before asking the next.
type Ramp struct {
	start    uint32
	target   uint32
	steps    uint32
	step     uint32
	interval time.Duration
}

// NewRamp creates a ramp that spreads the increase from start to target
// over the given duration in steps of the given interval.
// The ramp is empty when target is not above start, or when the
// duration is smaller than the interval.
func NewRamp(start, target uint32, duration, interval time.Duration) *Ramp {
	r := &Ramp{
		start:    start,
		target:   target,
		interval: interval,
	}
	if target > start && interval > 0 && duration >= interval {
		r.steps = uint32(duration / interval)
	}
	return r
}

// Steps returns the total number of values of the ramp.
func (r *Ramp) Steps() uint32 {
	return r.steps
}

// Interval returns the time between two values.
func (r *Ramp) Interval() time.Duration {
	return r.interval
}

// Next returns the next duty, or false when the ramp is done.
// The last value equals the target.
func (r *Ramp) Next() (uint32, bool) {
	if r.step >= r.steps {
		return 0, false
	}
	r.step++
	delta := uint64(r.target - r.start)
	return r.start + uint32(delta*uint64(r.step)/uint64(r.steps)), true
}
