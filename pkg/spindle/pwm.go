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

import (
	"context"
	"time"

	model "github.com/binkynet/SpindleWorker/model"
	"github.com/binkynet/SpindleWorker/pkg/service/pins"
)

const (
	pwmDefaultMaxSpeed = 10000
)

// pwmSpindle drives the output line with a PWM signal whose duty
// follows the requested speed. Speed increases are soft-started.
type pwmSpindle struct {
	base
	kind            string
	rateAdjusted    bool
	canReverse      bool
	defaultMaxSpeed uint32
	rampDuration    time.Duration
}

func init() {
	Register("PWM", newPWM)
}

// newPWM creates a PWM spindle.
func newPWM(cfg model.SpindleConfig, deps Dependencies) (Spindle, error) {
	s := &pwmSpindle{
		kind:            "PWM Spindle",
		canReverse:      true,
		defaultMaxSpeed: pwmDefaultMaxSpeed,
		rampDuration:    defaultRampDuration,
	}
	s.setup(cfg, deps, func(ctx context.Context, duty uint32) error {
		return s.output.SetDuty(ctx, duty)
	})
	return s, nil
}

// Init configures all lines and resets the runtime state.
func (s *pwmSpindle) Init(ctx context.Context) {
	s.resetRuntimeState()
	s.reversible.Store(s.canReverse && s.direction.Defined())

	if s.output.Defined() {
		if s.output.Capabilities().Has(pins.PWM) {
			if err := s.output.SetAttr(ctx, pins.AttrPWM, s.cfg.PWMFrequency); err != nil {
				s.reportConfigError("output pin %s failed to configure PWM: %s", s.output.Name(), err)
			}
		} else {
			s.reportConfigError("output pin %s cannot do PWM", s.output.Name())
		}
	} else {
		s.reportConfigError("output pin not defined")
	}

	s.configureControlLines(ctx)
	s.installSpeeds(s.defaultMaxSpeed, s.output.MaxDuty())
	s.initATC(ctx)
	s.configMessage(s.kind)
}

// IsRateAdjusted returns true if power is modulated by the motion engine.
func (s *pwmSpindle) IsRateAdjusted() bool {
	return s.rateAdjusted
}

// SetState changes the direction and speed of the spindle.
func (s *pwmSpindle) SetState(ctx context.Context, state model.SpindleState, speed uint32) {
	if s.abortActive() {
		s.blockedByAbort(state, speed)
		return
	}
	// A started transition runs to completion, also when the caller goes away.
	ctx = context.WithoutCancel(ctx)
	if !s.output.Defined() {
		s.reportConfigError("spindle output_pin not defined")
	}

	duty := s.MapSpeed(state, speed)
	if state != model.SpindleDisabled {
		s.setDirection(ctx, state == model.SpindleClockwise)
	}
	if state != model.SpindleDisabled && duty > s.currentDuty.Load() {
		if !s.ramp(ctx, duty) {
			return
		}
	}
	// Rate adjusted spindles get their power from the motion engine in M4.
	if s.rateAdjusted && state == model.SpindleCounterClockwise {
		duty = s.offSpeed()
	}
	// Output goes before enable, some boards use enable for level converters.
	s.setOutput(ctx, duty, false)
	s.setEnable(ctx, state != model.SpindleDisabled, false)
	s.spindleDelay(ctx, state, speed)
}

// ramp soft-starts the output from the current duty to the target.
// Returns false when the ramp was stopped by an abort.
func (s *pwmSpindle) ramp(ctx context.Context, target uint32) bool {
	r := NewRamp(s.currentDuty.Load(), target, s.rampDuration, rampStepInterval)
	if r.Steps() == 0 {
		return true
	}
	rampsTotal.WithLabelValues(s.cfg.Name).Inc()
	for {
		duty, ok := r.Next()
		if !ok {
			return true
		}
		s.setOutput(ctx, duty, false)
		s.deps.Suspend(ctx, r.Interval())
		if s.cfg.AbortRamp && s.abortActive() {
			rampsAbortedTotal.WithLabelValues(s.cfg.Name).Inc()
			s.log.Warn().
				Uint32("duty", duty).
				Uint32("target", target).
				Msg("Soft-start stopped by abort")
			return false
		}
	}
}

// Deinit stops the spindle and releases all lines.
func (s *pwmSpindle) Deinit(ctx context.Context) {
	s.SetState(ctx, model.SpindleDisabled, 0)
	s.releaseLines(ctx)
}

// Status returns a snapshot of the runtime state.
func (s *pwmSpindle) Status() Status {
	return s.status(s.rateAdjusted)
}
