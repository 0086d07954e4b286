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

	"github.com/rs/zerolog"

	model "github.com/binkynet/SpindleWorker/model"
	"github.com/binkynet/SpindleWorker/pkg/service/pins"
)

// Spindle is a motor or laser driven by an output, enable and direction line.
type Spindle interface {
	// Name of the spindle as configured.
	Name() string
	// Type is the name the variant is registered under.
	Type() string
	// Init configures all lines and resets the runtime state.
	// It can be called again to reconfigure the spindle.
	Init(ctx context.Context)
	// Deinit stops the spindle and releases all lines.
	Deinit(ctx context.Context)
	// SetState changes the direction and speed of the spindle.
	// It may block for the duration of a soft-start ramp and spin up/down delays.
	SetState(ctx context.Context, state model.SpindleState, speed uint32)
	// SetSpeedFromISR writes a precomputed duty without ramping, logging or blocking.
	SetSpeedFromISR(duty uint32)
	// MapSpeed converts a requested speed into a device duty.
	MapSpeed(state model.SpindleState, speed uint32) uint32
	// IsRateAdjusted returns true if power is modulated by the motion engine.
	IsRateAdjusted() bool
	// Status returns a snapshot of the runtime state.
	Status() Status
}

// Status is a snapshot of the runtime state of a spindle.
type Status struct {
	Name         string             `json:"name"`
	Type         string             `json:"type"`
	State        model.SpindleState `json:"state"`
	Speed        uint32             `json:"speed"`
	Duty         uint32             `json:"duty"`
	MaxDuty      uint32             `json:"max_duty"`
	Reversible   bool               `json:"reversible"`
	RateAdjusted bool               `json:"rate_adjusted"`
	OutputPin    string             `json:"output_pin"`
	EnablePin    string             `json:"enable_pin"`
	DirectionPin string             `json:"direction_pin"`
	ToolChanger  string             `json:"tool_changer,omitempty"`
	ConfigError  string             `json:"config_error,omitempty"`
	LastChange   time.Time          `json:"last_change"`
}

// Line is a hardware line used by a spindle.
// It is implemented by pins.Pin.
type Line interface {
	Defined() bool
	Name() string
	Capabilities() pins.Capabilities
	SetAttr(ctx context.Context, attr pins.Attr, param uint32) error
	SetDuty(ctx context.Context, duty uint32) error
	Write(ctx context.Context, value bool) error
	MaxDuty() uint32
}

// Lines holds the three lines of a spindle.
// Lines that are nil are treated as not wired.
type Lines struct {
	Output    Line
	Enable    Line
	Direction Line
}

// AbortChecker reports a machine wide abort.
type AbortChecker interface {
	AbortActive() bool
}

// Modal provides the modal machine state.
type Modal interface {
	// SpindleMode returns the commanded mode of the spindle with given name.
	SpindleMode(name string) model.SpindleState
	// SpeedOverride returns the spindle speed override in percent.
	SpeedOverride() uint32
}

// SuspendFunc blocks the caller for the given duration, or until the context is canceled.
type SuspendFunc func(ctx context.Context, d time.Duration)

// Dependencies are the collaborators of a spindle.
type Dependencies struct {
	Log         zerolog.Logger
	Machine     AbortChecker
	Modal       Modal
	Suspend     SuspendFunc
	Lines       Lines
	ToolChanger ToolChanger
}

// Sleep is the default SuspendFunc.
func Sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
