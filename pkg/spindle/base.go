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
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	model "github.com/binkynet/SpindleWorker/model"
	"github.com/binkynet/SpindleWorker/pkg/service/pins"
)

// base holds the state and behavior shared by all spindle variants.
// The runtime state is kept in atomics since the fast path may
// run concurrently with a state change.
type base struct {
	cfg       model.SpindleConfig
	log       zerolog.Logger
	deps      Dependencies
	output    Line
	enable    Line
	direction Line

	speeds   model.SpeedMap
	segments atomic.Pointer[[]speedSegment]
	maxDuty  atomic.Uint32

	reversible     atomic.Bool
	currentState   atomic.Uint32
	currentSpeed   atomic.Uint32
	requestedSpeed atomic.Uint32
	currentDuty    atomic.Uint32
	enabled        atomic.Bool
	lastChange     atomic.Int64
	configError    atomic.Value

	// writeDuty writes a duty to the output line.
	writeDuty func(ctx context.Context, duty uint32) error

	dutyGauge           prometheus.Gauge
	stateGauge          prometheus.Gauge
	outputWrites        prometheus.Counter
	outputWriteErrors   prometheus.Counter
	enableWrites        prometheus.Counter
	enableWriteErrors   prometheus.Counter
	directionWrites     prometheus.Counter
	directionWriteError prometheus.Counter
}

// setup initializes the base for the given configuration.
func (b *base) setup(cfg model.SpindleConfig, deps Dependencies, writeDuty func(ctx context.Context, duty uint32) error) {
	name := cfg.Name
	b.cfg = cfg
	b.log = deps.Log
	b.deps = deps
	b.output = deps.Lines.Output
	b.enable = deps.Lines.Enable
	b.direction = deps.Lines.Direction
	b.speeds = append(model.SpeedMap(nil), cfg.SpeedMap...)
	b.writeDuty = writeDuty
	b.dutyGauge = spindleDutyGauge.WithLabelValues(name)
	b.stateGauge = spindleStateGauge.WithLabelValues(name)
	b.outputWrites = hardwareWritesTotal.WithLabelValues(name, "output")
	b.outputWriteErrors = hardwareWriteErrorsTotal.WithLabelValues(name, "output")
	b.enableWrites = hardwareWritesTotal.WithLabelValues(name, "enable")
	b.enableWriteErrors = hardwareWriteErrorsTotal.WithLabelValues(name, "enable")
	b.directionWrites = hardwareWritesTotal.WithLabelValues(name, "direction")
	b.directionWriteError = hardwareWriteErrorsTotal.WithLabelValues(name, "direction")
	b.configError.Store("")
	b.lastChange.Store(time.Now().UnixNano())
}

// Name of the spindle as configured.
func (b *base) Name() string {
	return b.cfg.Name
}

// Type is the name the variant is registered under.
func (b *base) Type() string {
	return b.cfg.Type
}

// reportConfigError logs a configuration problem. The spindle keeps working
// logically, without physical effect on the affected line.
func (b *base) reportConfigError(format string, args ...interface{}) {
	msg := fmt.Sprintf(format, args...)
	b.configError.Store(msg)
	configErrorsTotal.WithLabelValues(b.cfg.Name).Inc()
	b.log.Error().Bool("config_error", true).Msgf("%s %s", b.cfg.Name, msg)
}

// resetRuntimeState puts the state in the idle baseline.
func (b *base) resetRuntimeState() {
	b.configError.Store("")
	b.currentState.Store(uint32(model.SpindleDisabled))
	b.currentSpeed.Store(0)
	b.requestedSpeed.Store(0)
	b.currentDuty.Store(0)
	b.enabled.Store(false)
	b.dutyGauge.Set(0)
	b.stateGauge.Set(float64(model.SpindleDisabled))
	b.lastChange.Store(time.Now().UnixNano())
}

// configureControlLines sets the enable and direction line to output.
func (b *base) configureControlLines(ctx context.Context) {
	if err := b.enable.SetAttr(ctx, pins.AttrOutput, 0); err != nil {
		b.reportConfigError("enable pin %s cannot be used as output: %s", b.enable.Name(), err)
	}
	if err := b.direction.SetAttr(ctx, pins.AttrOutput, 0); err != nil {
		b.reportConfigError("direction pin %s cannot be used as output: %s", b.direction.Name(), err)
	}
}

// installSpeeds installs the default map when none is configured
// and converts the map into device duty.
func (b *base) installSpeeds(defaultMaxSpeed uint32, maxDuty uint32) {
	if len(b.speeds) == 0 {
		b.speeds = linearSpeeds(defaultMaxSpeed, 100)
	}
	segments := setupSpeeds(b.speeds, maxDuty)
	b.segments.Store(&segments)
	b.maxDuty.Store(maxDuty)
}

// initATC initializes the tool changer, if any.
func (b *base) initATC(ctx context.Context) {
	if tc := b.deps.ToolChanger; tc != nil {
		if err := tc.Init(ctx); err != nil {
			b.reportConfigError("tool changer failed to initialize: %s", err)
		}
	}
}

// atcInfo returns the description of the tool changer, if any.
func (b *base) atcInfo() string {
	if tc := b.deps.ToolChanger; tc != nil {
		return tc.Info()
	}
	return ""
}

// configMessage logs the startup summary.
func (b *base) configMessage(kind string) {
	b.log.Info().
		Str("enable", b.enable.Name()).
		Str("output", b.output.Name()).
		Str("direction", b.direction.Name()).
		Uint32("freq_hz", b.cfg.PWMFrequency).
		Uint32("period", b.maxDuty.Load()).
		Str("atc", b.atcInfo()).
		Msgf("%s %s", b.cfg.Name, kind)
}

// MapSpeed converts a requested speed into a device duty.
// The speed override of the modal state is applied first.
func (b *base) MapSpeed(state model.SpindleState, speed uint32) uint32 {
	var segments []speedSegment
	if p := b.segments.Load(); p != nil {
		segments = *p
	}
	if state == model.SpindleDisabled {
		b.requestedSpeed.Store(0)
		return offSegment(segments)
	}
	speed = uint32(min(uint64(speed)*uint64(b.deps.Modal.SpeedOverride())/100, math.MaxUint32))
	b.requestedSpeed.Store(speed)
	return mapSegments(segments, speed)
}

// offSpeed returns the duty of the first breakpoint.
func (b *base) offSpeed() uint32 {
	if p := b.segments.Load(); p != nil {
		return offSegment(*p)
	}
	return 0
}

// maxSpeed returns the speed of the last breakpoint.
func (b *base) maxSpeed() uint32 {
	return b.speeds.MaxSpeed()
}

// setOutput writes the duty unless it equals the current duty.
// Errors are not logged from the fast path.
func (b *base) setOutput(ctx context.Context, duty uint32, fromISR bool) {
	if duty == b.currentDuty.Load() {
		return
	}
	b.currentDuty.Store(duty)
	b.dutyGauge.Set(float64(duty))
	b.outputWrites.Inc()
	if err := b.writeDuty(ctx, duty); err != nil {
		b.outputWriteErrors.Inc()
		if !fromISR {
			b.log.Warn().Err(err).Uint32("duty", duty).Msg("Failed to write output")
		}
	}
}

// setEnable sets the enable line.
func (b *base) setEnable(ctx context.Context, enable bool, fromISR bool) {
	if b.cfg.DisableWithZeroSpeed && b.requestedSpeed.Load() == 0 {
		enable = false
	}
	b.enabled.Store(enable)
	b.enableWrites.Inc()
	if err := b.enable.Write(ctx, enable); err != nil {
		b.enableWriteErrors.Inc()
		if !fromISR {
			b.log.Warn().Err(err).Bool("enable", enable).Msg("Failed to write enable")
		}
	}
}

// setDirection sets the direction line.
func (b *base) setDirection(ctx context.Context, clockwise bool) {
	b.directionWrites.Inc()
	if err := b.direction.Write(ctx, clockwise); err != nil {
		b.directionWriteError.Inc()
		b.log.Warn().Err(err).Bool("clockwise", clockwise).Msg("Failed to write direction")
	}
}

// abortActive returns true when a machine abort is active.
func (b *base) abortActive() bool {
	return b.deps.Machine.AbortActive()
}

// blockedByAbort records a state change ignored because of an abort.
func (b *base) blockedByAbort(state model.SpindleState, speed uint32) {
	abortedTransitionsTotal.WithLabelValues(b.cfg.Name).Inc()
	b.log.Debug().
		Str("state", state.String()).
		Uint32("speed", speed).
		Msg("Ignoring state change during abort")
}

// spindleDelay waits for the spindle to reach the new speed and
// records the new state. The delay is proportional to the change in speed:
// spinup_ms for a change from 0 to the max speed, spindown_ms the other way.
// Reversing the direction waits for the spindle to stop first.
func (b *base) spindleDelay(ctx context.Context, state model.SpindleState, speed uint32) {
	prevState := model.SpindleState(b.currentState.Load())
	prevSpeed := b.currentSpeed.Load()
	if state == model.SpindleDisabled {
		speed = 0
	}
	var up, down uint32
	switch {
	case state == prevState:
		if speed > prevSpeed {
			up = speed - prevSpeed
		} else {
			down = prevSpeed - speed
		}
	case state == model.SpindleDisabled:
		down = prevSpeed
	case prevState == model.SpindleDisabled:
		up = speed
	default:
		down, up = prevSpeed, speed
	}
	if maxSpeed := b.maxSpeed(); maxSpeed > 0 {
		up, down = min(up, maxSpeed), min(down, maxSpeed)
		delayMS := (uint64(up)*uint64(b.cfg.SpinUpMS) + uint64(down)*uint64(b.cfg.SpinDownMS)) / uint64(maxSpeed)
		if delayMS > 0 {
			b.deps.Suspend(ctx, time.Duration(delayMS)*time.Millisecond)
		}
	}
	b.currentState.Store(uint32(state))
	b.currentSpeed.Store(speed)
	b.stateGauge.Set(float64(state))
	b.lastChange.Store(time.Now().UnixNano())
}

// SetSpeedFromISR writes a precomputed duty without ramping.
// The enable line follows the modal spindle mode.
func (b *base) SetSpeedFromISR(duty uint32) {
	ctx := context.Background()
	b.setEnable(ctx, b.deps.Modal.SpindleMode(b.cfg.Name) != model.SpindleDisabled, true)
	b.setOutput(ctx, duty, true)
}

// releaseLines puts all lines in input mode.
func (b *base) releaseLines(ctx context.Context) {
	if err := pins.ReleaseAll(ctx, b.output, b.enable, b.direction); err != nil {
		b.log.Warn().Err(err).Msg("Failed to release lines")
	}
}

// status returns a snapshot of the runtime state.
func (b *base) status(rateAdjusted bool) Status {
	return Status{
		Name:         b.cfg.Name,
		Type:         b.cfg.Type,
		State:        model.SpindleState(b.currentState.Load()),
		Speed:        b.currentSpeed.Load(),
		Duty:         b.currentDuty.Load(),
		MaxDuty:      b.maxDuty.Load(),
		Reversible:   b.reversible.Load(),
		RateAdjusted: rateAdjusted,
		OutputPin:    b.output.Name(),
		EnablePin:    b.enable.Name(),
		DirectionPin: b.direction.Name(),
		ToolChanger:  b.atcInfo(),
		ConfigError:  b.configError.Load().(string),
		LastChange:   time.Unix(0, b.lastChange.Load()),
	}
}
