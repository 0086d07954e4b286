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

	model "github.com/binkynet/SpindleWorker/model"
	"github.com/binkynet/SpindleWorker/pkg/service/pins"
)

const (
	// Duty resolution used to decide on/off from the speed map.
	onOffMaxDuty = 0xFFFF
)

// onOffSpindle switches the output line fully on for any non-zero speed.
type onOffSpindle struct {
	base
}

func init() {
	Register("OnOff", newOnOff)
}

// newOnOff creates an on/off spindle.
func newOnOff(cfg model.SpindleConfig, deps Dependencies) (Spindle, error) {
	s := &onOffSpindle{}
	s.setup(cfg, deps, func(ctx context.Context, duty uint32) error {
		return s.output.Write(ctx, duty != 0)
	})
	return s, nil
}

// Init configures all lines and resets the runtime state.
func (s *onOffSpindle) Init(ctx context.Context) {
	s.resetRuntimeState()
	s.reversible.Store(s.direction.Defined())

	if !s.output.Defined() && !s.enable.Defined() {
		s.reportConfigError("either output pin or enable pin must be defined")
	}
	if err := s.output.SetAttr(ctx, pins.AttrOutput, 0); err != nil {
		s.reportConfigError("output pin %s cannot be used as output: %s", s.output.Name(), err)
	}
	s.configureControlLines(ctx)
	s.installSpeeds(1, onOffMaxDuty)
	s.initATC(ctx)
	s.configMessage("On/Off Spindle")
}

// IsRateAdjusted returns false.
func (s *onOffSpindle) IsRateAdjusted() bool {
	return false
}

// SetState changes the direction and on/off state of the spindle.
func (s *onOffSpindle) SetState(ctx context.Context, state model.SpindleState, speed uint32) {
	if s.abortActive() {
		s.blockedByAbort(state, speed)
		return
	}
	// A started transition runs to completion, also when the caller goes away.
	ctx = context.WithoutCancel(ctx)
	duty := s.MapSpeed(state, speed)
	if state != model.SpindleDisabled {
		s.setDirection(ctx, state == model.SpindleClockwise)
	}
	s.setOutput(ctx, duty, false)
	s.setEnable(ctx, state != model.SpindleDisabled, false)
	s.spindleDelay(ctx, state, speed)
}

// Deinit stops the spindle and releases all lines.
func (s *onOffSpindle) Deinit(ctx context.Context) {
	s.SetState(ctx, model.SpindleDisabled, 0)
	s.releaseLines(ctx)
}

// Status returns a snapshot of the runtime state.
func (s *onOffSpindle) Status() Status {
	return s.status(false)
}
