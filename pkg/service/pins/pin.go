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

package pins

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	model "github.com/binkynet/SpindleWorker/model"
	"github.com/binkynet/SpindleWorker/pkg/service/devices"
)

// Capabilities is a set of things a pin can do.
type Capabilities uint8

const (
	Input Capabilities = 1 << iota
	Output
	PWM
)

// Has returns true if all of the given capabilities are in the set.
func (c Capabilities) Has(other Capabilities) bool {
	return c&other == other
}

func (c Capabilities) String() string {
	var parts []string
	if c.Has(Input) {
		parts = append(parts, "input")
	}
	if c.Has(Output) {
		parts = append(parts, "output")
	}
	if c.Has(PWM) {
		parts = append(parts, "pwm")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, "|")
}

// Attr is a mode a pin can be configured for.
type Attr uint8

const (
	// AttrInput releases the pin (high impedance input).
	AttrInput Attr = iota
	// AttrOutput configures the pin as digital output.
	AttrOutput
	// AttrPWM configures the pin as PWM output. The parameter is the frequency in Hz.
	AttrPWM
)

var (
	NotCapableError    = errors.New("pin not capable")
	UnknownDeviceError = errors.New("unknown device")
)

// IsNotCapable returns true if the cause of the given error is NotCapableError.
func IsNotCapable(err error) bool {
	return errors.Cause(err) == NotCapableError
}

// DeviceSource provides configured devices by their ID.
type DeviceSource interface {
	DeviceByID(id model.DeviceID) (devices.Device, bool)
}

// Pin is a configured line bound to a device.
// The zero value is an undefined pin on which all operations are no-ops.
type Pin struct {
	config model.Pin
	gpio   devices.GPIO
	pwm    devices.PWM
	caps   Capabilities
}

// Resolve binds the given configured pin to its device.
// An undefined pin resolves to an undefined Pin without error.
func Resolve(p model.Pin, src DeviceSource) (Pin, error) {
	if !p.IsDefined() {
		return Pin{}, nil
	}
	dev, found := src.DeviceByID(p.DeviceID)
	if !found {
		return Pin{}, errors.Wrapf(UnknownDeviceError, "device '%s' of pin %s", p.DeviceID, p)
	}
	result := Pin{config: p}
	if g, ok := dev.(devices.GPIO); ok {
		result.gpio = g
		result.caps |= Input | Output
	}
	if pw, ok := dev.(devices.PWM); ok {
		result.pwm = pw
		// PWM devices can switch fully on or off
		result.caps |= Output
		if devices.SupportsPWM(dev, p.Index) {
			result.caps |= PWM
		}
	}
	if result.caps == 0 {
		return Pin{}, errors.Wrapf(NotCapableError, "device '%s' has no usable lines", p.DeviceID)
	}
	return result, nil
}

// Defined returns true if the pin is bound to a line.
func (p Pin) Defined() bool {
	return p.config.IsDefined()
}

// Name returns "device:index", or "NO_PIN" for an undefined pin.
func (p Pin) Name() string {
	return p.config.String()
}

// Capabilities returns what the pin can do.
func (p Pin) Capabilities() Capabilities {
	return p.caps
}

// Inverted returns true for active low pins.
func (p Pin) Inverted() bool {
	return p.config.Invert
}

// MaxDuty returns the largest duty value accepted by SetDuty.
// Zero for pins without PWM capability.
func (p Pin) MaxDuty() uint32 {
	if !p.caps.Has(PWM) {
		return 0
	}
	return p.pwm.MaxPWMValue()
}

// SetAttr configures the pin for the given mode.
func (p Pin) SetAttr(ctx context.Context, attr Attr, param uint32) error {
	if !p.Defined() {
		return nil
	}
	index := p.config.Index
	switch attr {
	case AttrInput:
		if p.gpio != nil {
			return p.gpio.SetDirection(ctx, index, devices.PinDirectionInput)
		}
		return p.pwm.SetPWM(ctx, index, 0, 0, false)
	case AttrOutput:
		if p.gpio != nil {
			return p.gpio.SetDirection(ctx, index, devices.PinDirectionOutput)
		}
		return nil
	case AttrPWM:
		if !p.caps.Has(PWM) {
			return errors.Wrapf(NotCapableError, "pin %s has no pwm", p.Name())
		}
		return p.pwm.SetPWMFrequency(ctx, index, param)
	default:
		return errors.Errorf("unknown attribute %d", attr)
	}
}

// SetDuty writes a duty value in 0..MaxDuty to a PWM pin.
func (p Pin) SetDuty(ctx context.Context, duty uint32) error {
	if !p.Defined() {
		return nil
	}
	if !p.caps.Has(PWM) {
		return errors.Wrapf(NotCapableError, "pin %s has no pwm", p.Name())
	}
	return devices.SetDuty(ctx, p.pwm, p.config.Index, duty, p.config.Invert)
}

// Write sets a digital value, inverted for active low pins.
func (p Pin) Write(ctx context.Context, value bool) error {
	if !p.Defined() {
		return nil
	}
	if p.config.Invert {
		value = !value
	}
	if p.gpio != nil {
		return p.gpio.Set(ctx, p.config.Index, value)
	}
	var duty uint32
	if value {
		duty = p.pwm.MaxPWMValue()
	}
	return devices.SetDuty(ctx, p.pwm, p.config.Index, duty, false)
}

// Releasable is a line that can be put in input mode.
type Releasable interface {
	Name() string
	SetAttr(ctx context.Context, attr Attr, param uint32) error
}

// ReleaseAll puts all given pins in input mode, combining the errors.
func ReleaseAll(ctx context.Context, pins ...Releasable) error {
	var result error
	for _, p := range pins {
		result = multierr.Append(result, errors.Wrapf(p.SetAttr(ctx, AttrInput, 0), "pin %s", p.Name()))
	}
	return result
}
