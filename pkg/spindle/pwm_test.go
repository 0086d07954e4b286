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
	"testing"
	"time"

	"go.viam.com/test"

	model "github.com/binkynet/SpindleWorker/model"
	"github.com/binkynet/SpindleWorker/pkg/machine"
	"github.com/binkynet/SpindleWorker/pkg/service/devices"
)

func TestPWMInit(t *testing.T) {
	ctx := context.Background()
	cfg := defaultRigConfig("pwm")
	r := newRig(t, cfg)
	st := r.spindle.Status()
	test.That(t, st.Type, test.ShouldEqual, "PWM")
	test.That(t, st.State, test.ShouldEqual, model.SpindleDisabled)
	test.That(t, st.Duty, test.ShouldEqual, uint32(0))
	test.That(t, st.MaxDuty, test.ShouldEqual, r.dev.MaxPWMValue())
	test.That(t, st.Reversible, test.ShouldBeTrue)
	test.That(t, st.RateAdjusted, test.ShouldBeFalse)
	test.That(t, st.ConfigError, test.ShouldEqual, "")
	test.That(t, st.OutputPin, test.ShouldEqual, "v:1")

	// Init configures the PWM frequency and the control lines
	r.dev.ResetHistory()
	r.spindle.Init(ctx)
	test.That(t, r.events(rigOutput, devices.VirtualOpFrequency), test.ShouldResemble, []uint32{5000})
	test.That(t, r.events(rigEnable, devices.VirtualOpDirection), test.ShouldHaveLength, 1)
	test.That(t, r.events(rigDirection, devices.VirtualOpDirection), test.ShouldHaveLength, 1)
}

func TestPWMInitResetsState(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, defaultRigConfig("PWM"))
	r.spindle.SetState(ctx, model.SpindleClockwise, 5000)
	test.That(t, r.spindle.Status().State, test.ShouldEqual, model.SpindleClockwise)
	test.That(t, r.spindle.Status().Duty, test.ShouldEqual, uint32(2047))

	r.spindle.Init(ctx)
	st := r.spindle.Status()
	test.That(t, st.State, test.ShouldEqual, model.SpindleDisabled)
	test.That(t, st.Duty, test.ShouldEqual, uint32(0))
	test.That(t, st.Speed, test.ShouldEqual, uint32(0))
}

func TestPWMRampToMax(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, defaultRigConfig("PWM"))
	r.spindle.SetState(ctx, model.SpindleClockwise, 10000)

	writes := r.events(rigOutput, devices.VirtualOpPWM)
	test.That(t, writes, test.ShouldHaveLength, 100)
	for i := 1; i < len(writes); i++ {
		test.That(t, writes[i], test.ShouldBeGreaterThanOrEqualTo, writes[i-1])
	}
	test.That(t, writes[len(writes)-1], test.ShouldEqual, uint32(4095))

	// Direction before the ramp, enable after the last step
	test.That(t, r.events(rigDirection, devices.VirtualOpSet), test.ShouldResemble, []uint32{1})
	test.That(t, r.indexOf(rigDirection, devices.VirtualOpSet), test.ShouldBeLessThan, r.indexOf(rigOutput, devices.VirtualOpPWM))
	test.That(t, r.events(rigEnable, devices.VirtualOpSet), test.ShouldResemble, []uint32{1})
	test.That(t, r.indexOf(rigEnable, devices.VirtualOpSet), test.ShouldBeGreaterThan, r.lastIndexOf(rigOutput, devices.VirtualOpPWM))

	suspends := r.takeSuspends()
	test.That(t, suspends, test.ShouldHaveLength, 100)
	for _, d := range suspends {
		test.That(t, d, test.ShouldEqual, rampStepInterval)
	}
	st := r.spindle.Status()
	test.That(t, st.State, test.ShouldEqual, model.SpindleClockwise)
	test.That(t, st.Speed, test.ShouldEqual, uint32(10000))
	test.That(t, st.Duty, test.ShouldEqual, uint32(4095))
}

func TestPWMSpeedDecreaseWritesDirectly(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, defaultRigConfig("PWM"))
	r.spindle.SetState(ctx, model.SpindleClockwise, 3000)
	test.That(t, r.spindle.Status().Duty, test.ShouldEqual, uint32(1228))

	r.dev.ResetHistory()
	r.takeSuspends()
	r.spindle.SetState(ctx, model.SpindleClockwise, 1000)
	test.That(t, r.events(rigOutput, devices.VirtualOpPWM), test.ShouldResemble, []uint32{409})
	test.That(t, r.takeSuspends(), test.ShouldBeEmpty)
}

func TestPWMSameDutyNoWrite(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, defaultRigConfig("PWM"))
	r.spindle.SetState(ctx, model.SpindleClockwise, 3000)
	r.dev.ResetHistory()
	r.spindle.SetState(ctx, model.SpindleClockwise, 3000)
	test.That(t, r.events(rigOutput, devices.VirtualOpPWM), test.ShouldBeEmpty)

	r.spindle.SetSpeedFromISR(100)
	r.spindle.SetSpeedFromISR(100)
	test.That(t, r.events(rigOutput, devices.VirtualOpPWM), test.ShouldResemble, []uint32{100})
}

func TestPWMDisable(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, defaultRigConfig("PWM"))
	r.spindle.SetState(ctx, model.SpindleClockwise, 5000)
	r.dev.ResetHistory()
	r.takeSuspends()

	r.spindle.SetState(ctx, model.SpindleDisabled, 5000)
	test.That(t, r.events(rigDirection, devices.VirtualOpSet), test.ShouldBeEmpty)
	test.That(t, r.events(rigOutput, devices.VirtualOpPWM), test.ShouldResemble, []uint32{0})
	test.That(t, r.events(rigEnable, devices.VirtualOpSet), test.ShouldResemble, []uint32{0})
	test.That(t, r.indexOf(rigOutput, devices.VirtualOpPWM), test.ShouldBeLessThan, r.indexOf(rigEnable, devices.VirtualOpSet))
	test.That(t, r.takeSuspends(), test.ShouldBeEmpty)

	st := r.spindle.Status()
	test.That(t, st.State, test.ShouldEqual, model.SpindleDisabled)
	test.That(t, st.Speed, test.ShouldEqual, uint32(0))
}

func TestPWMReverse(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, defaultRigConfig("PWM"))
	r.spindle.SetState(ctx, model.SpindleClockwise, 5000)
	r.dev.ResetHistory()
	r.takeSuspends()

	r.spindle.SetState(ctx, model.SpindleCounterClockwise, 5000)
	test.That(t, r.events(rigDirection, devices.VirtualOpSet), test.ShouldResemble, []uint32{0})
	test.That(t, r.events(rigOutput, devices.VirtualOpPWM), test.ShouldBeEmpty)
	test.That(t, r.spindle.Status().State, test.ShouldEqual, model.SpindleCounterClockwise)
}

func TestPWMNoDirectionPin(t *testing.T) {
	ctx := context.Background()
	cfg := defaultRigConfig("PWM")
	cfg.DirectionPin = model.Pin{}
	r := newRig(t, cfg)
	st := r.spindle.Status()
	test.That(t, st.Reversible, test.ShouldBeFalse)
	test.That(t, st.DirectionPin, test.ShouldEqual, "NO_PIN")

	r.spindle.SetState(ctx, model.SpindleCounterClockwise, 5000)
	test.That(t, r.events(rigDirection, devices.VirtualOpSet), test.ShouldBeEmpty)
	test.That(t, r.events(rigOutput, devices.VirtualOpPWM), test.ShouldHaveLength, 100)
	test.That(t, r.spindle.Status().Duty, test.ShouldEqual, uint32(2047))
}

func TestPWMAbortBlocksSetState(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, defaultRigConfig("PWM"))
	r.spindle.SetState(ctx, model.SpindleClockwise, 3000)
	before := r.spindle.Status()
	r.dev.ResetHistory()
	r.takeSuspends()

	test.That(t, r.machine.Abort(), test.ShouldBeTrue)
	r.spindle.SetState(ctx, model.SpindleClockwise, 10000)
	r.spindle.SetState(ctx, model.SpindleDisabled, 0)
	test.That(t, r.dev.History(), test.ShouldBeEmpty)
	test.That(t, r.takeSuspends(), test.ShouldBeEmpty)
	after := r.spindle.Status()
	test.That(t, after.State, test.ShouldEqual, before.State)
	test.That(t, after.Speed, test.ShouldEqual, before.Speed)
	test.That(t, after.Duty, test.ShouldEqual, before.Duty)

	// Works again after a reset
	test.That(t, r.machine.Reset(), test.ShouldBeTrue)
	r.spindle.SetState(ctx, model.SpindleDisabled, 0)
	test.That(t, r.spindle.Status().State, test.ShouldEqual, model.SpindleDisabled)
}

func TestPWMAbortDuringRampCompletes(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, defaultRigConfig("PWM"))
	r.onSuspend = func(count int) {
		if count == 10 {
			r.machine.Abort()
		}
	}
	r.spindle.SetState(ctx, model.SpindleClockwise, 10000)
	test.That(t, r.events(rigOutput, devices.VirtualOpPWM), test.ShouldHaveLength, 100)
	test.That(t, r.events(rigEnable, devices.VirtualOpSet), test.ShouldResemble, []uint32{1})
	test.That(t, r.spindle.Status().State, test.ShouldEqual, model.SpindleClockwise)
}

func TestPWMAbortRamp(t *testing.T) {
	ctx := context.Background()
	cfg := defaultRigConfig("PWM")
	cfg.AbortRamp = true
	r := newRig(t, cfg)
	r.onSuspend = func(count int) {
		if count == 10 {
			r.machine.Abort()
		}
	}
	r.spindle.SetState(ctx, model.SpindleClockwise, 10000)
	writes := r.events(rigOutput, devices.VirtualOpPWM)
	test.That(t, writes, test.ShouldHaveLength, 10)
	test.That(t, writes[9], test.ShouldEqual, uint32(409))
	test.That(t, r.events(rigEnable, devices.VirtualOpSet), test.ShouldBeEmpty)
	st := r.spindle.Status()
	test.That(t, st.State, test.ShouldEqual, model.SpindleDisabled)
	test.That(t, st.Duty, test.ShouldEqual, uint32(409))
}

func TestPWMCanceledContextCompletesRamp(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cfg := defaultRigConfig("PWM")
	cfg.SpinUpMS = 500
	r := newRig(t, cfg)
	r.onSuspend = func(count int) {
		if count == 10 {
			cancel()
		}
	}
	r.spindle.SetState(ctx, model.SpindleClockwise, 10000)
	writes := r.events(rigOutput, devices.VirtualOpPWM)
	test.That(t, writes, test.ShouldHaveLength, 100)
	test.That(t, writes[len(writes)-1], test.ShouldEqual, uint32(4095))
	test.That(t, r.events(rigEnable, devices.VirtualOpSet), test.ShouldResemble, []uint32{1})

	// Every step and the spin up delay kept their pacing
	suspends := r.takeSuspends()
	test.That(t, suspends, test.ShouldHaveLength, 101)
	test.That(t, delays(suspends), test.ShouldResemble, []time.Duration{500 * time.Millisecond})
	test.That(t, r.canceled, test.ShouldEqual, 0)
	test.That(t, r.spindle.Status().State, test.ShouldEqual, model.SpindleClockwise)
}

func TestPWMSpeedOverrideSaturates(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, defaultRigConfig("PWM"))
	r.machine.SetSpeedOverride(machine.MaxSpeedOverride)
	// Doubling this speed does not fit in 32 bits
	r.spindle.SetState(ctx, model.SpindleClockwise, 1<<31+1000)
	test.That(t, r.spindle.Status().Duty, test.ShouldEqual, uint32(4095))
	test.That(t, r.spindle.MapSpeed(model.SpindleClockwise, 1<<31+1000), test.ShouldEqual, uint32(4095))
}

func TestPWMSpindleDelay(t *testing.T) {
	ctx := context.Background()
	cfg := defaultRigConfig("PWM")
	cfg.SpinUpMS = 2000
	cfg.SpinDownMS = 1000
	r := newRig(t, cfg)

	r.spindle.SetState(ctx, model.SpindleClockwise, 5000)
	test.That(t, delays(r.takeSuspends()), test.ShouldResemble, []time.Duration{time.Second})
	r.spindle.SetState(ctx, model.SpindleClockwise, 10000)
	test.That(t, delays(r.takeSuspends()), test.ShouldResemble, []time.Duration{time.Second})
	r.spindle.SetState(ctx, model.SpindleCounterClockwise, 10000)
	test.That(t, delays(r.takeSuspends()), test.ShouldResemble, []time.Duration{3 * time.Second})
	r.spindle.SetState(ctx, model.SpindleDisabled, 0)
	test.That(t, delays(r.takeSuspends()), test.ShouldResemble, []time.Duration{time.Second})
	r.spindle.SetState(ctx, model.SpindleDisabled, 0)
	test.That(t, r.takeSuspends(), test.ShouldBeEmpty)
}

func TestPWMSpeedOverride(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, defaultRigConfig("PWM"))
	r.machine.SetSpeedOverride(50)
	r.spindle.SetState(ctx, model.SpindleClockwise, 10000)
	test.That(t, r.spindle.Status().Duty, test.ShouldEqual, uint32(2047))
}

func TestPWMDisableWithZeroSpeed(t *testing.T) {
	ctx := context.Background()
	cfg := defaultRigConfig("PWM")
	cfg.DisableWithZeroSpeed = true
	r := newRig(t, cfg)
	r.spindle.SetState(ctx, model.SpindleClockwise, 0)
	test.That(t, r.events(rigEnable, devices.VirtualOpSet), test.ShouldResemble, []uint32{0})
	r.spindle.SetState(ctx, model.SpindleClockwise, 100)
	test.That(t, r.events(rigEnable, devices.VirtualOpSet), test.ShouldResemble, []uint32{0, 1})
}

func TestPWMSetSpeedFromISR(t *testing.T) {
	r := newRig(t, defaultRigConfig("PWM"))
	r.machine.SetSpindleMode("s0", model.SpindleClockwise)
	r.spindle.SetSpeedFromISR(1000)
	test.That(t, r.events(rigEnable, devices.VirtualOpSet), test.ShouldResemble, []uint32{1})
	test.That(t, r.events(rigOutput, devices.VirtualOpPWM), test.ShouldResemble, []uint32{1000})
	test.That(t, r.indexOf(rigEnable, devices.VirtualOpSet), test.ShouldBeLessThan, r.indexOf(rigOutput, devices.VirtualOpPWM))
	test.That(t, r.takeSuspends(), test.ShouldBeEmpty)

	r.machine.SetSpindleMode("s0", model.SpindleDisabled)
	r.spindle.SetSpeedFromISR(0)
	test.That(t, r.events(rigEnable, devices.VirtualOpSet), test.ShouldResemble, []uint32{1, 0})
	test.That(t, r.events(rigOutput, devices.VirtualOpPWM), test.ShouldResemble, []uint32{1000, 0})
}

func TestPWMSetSpeedFromISRUsesOwnMode(t *testing.T) {
	r := newRig(t, defaultRigConfig("PWM"))
	r.machine.SetSpindleMode("s0", model.SpindleClockwise)
	r.machine.SetSpindleMode("other", model.SpindleDisabled)
	r.spindle.SetSpeedFromISR(1000)
	test.That(t, r.events(rigEnable, devices.VirtualOpSet), test.ShouldResemble, []uint32{1})
}

func TestPWMOutputNotPWMCapable(t *testing.T) {
	ctx := context.Background()
	cfg := defaultRigConfig("PWM")
	cfg.OutputPin = rigPin(rigNoPWM)
	r := newRig(t, cfg)
	st := r.spindle.Status()
	test.That(t, st.ConfigError, test.ShouldContainSubstring, "cannot do PWM")
	test.That(t, st.MaxDuty, test.ShouldEqual, uint32(0))

	// Logical state is still tracked
	r.spindle.SetState(ctx, model.SpindleClockwise, 5000)
	test.That(t, r.spindle.Status().State, test.ShouldEqual, model.SpindleClockwise)
	test.That(t, r.events(rigNoPWM, devices.VirtualOpPWM), test.ShouldBeEmpty)
}

func TestPWMOutputNotDefined(t *testing.T) {
	ctx := context.Background()
	cfg := defaultRigConfig("PWM")
	cfg.OutputPin = model.Pin{}
	r := newRig(t, cfg)
	test.That(t, r.spindle.Status().ConfigError, test.ShouldContainSubstring, "output pin not defined")

	r.spindle.SetState(ctx, model.SpindleClockwise, 5000)
	st := r.spindle.Status()
	test.That(t, st.State, test.ShouldEqual, model.SpindleClockwise)
	test.That(t, st.Duty, test.ShouldEqual, uint32(0))
	test.That(t, r.events(rigEnable, devices.VirtualOpSet), test.ShouldResemble, []uint32{1})
}

func TestPWMDeinit(t *testing.T) {
	ctx := context.Background()
	r := newRig(t, defaultRigConfig("PWM"))
	r.spindle.SetState(ctx, model.SpindleClockwise, 5000)
	r.dev.ResetHistory()

	r.spindle.Deinit(ctx)
	test.That(t, r.spindle.Status().State, test.ShouldEqual, model.SpindleDisabled)
	inputDirection := uint32(devices.PinDirectionInput)
	for _, index := range []model.DeviceIndex{rigOutput, rigEnable, rigDirection} {
		test.That(t, r.events(index, devices.VirtualOpDirection), test.ShouldResemble, []uint32{inputDirection})
	}
}

func TestPWMCustomSpeedMap(t *testing.T) {
	ctx := context.Background()
	cfg := defaultRigConfig("PWM")
	cfg.SpeedMap = model.SpeedMap{
		{Speed: 0, Percent: 0},
		{Speed: 6000, Percent: 25},
		{Speed: 12000, Percent: 100},
	}
	r := newRig(t, cfg)
	r.spindle.SetState(ctx, model.SpindleClockwise, 12000)
	test.That(t, r.spindle.Status().Duty, test.ShouldEqual, uint32(4095))
	r.spindle.SetState(ctx, model.SpindleClockwise, 6000)
	test.That(t, r.spindle.Status().Duty, test.ShouldEqual, uint32(1023))
	r.spindle.SetState(ctx, model.SpindleClockwise, 20000)
	test.That(t, r.spindle.Status().Duty, test.ShouldEqual, uint32(4095))
}
