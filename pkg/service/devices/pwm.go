// Copyright 2020 Ewout Prangsma
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

package devices

import (
	"context"

	model "github.com/binkynet/SpindleWorker/model"
)

// PWM contains the API that is supported by all pulse width modulation devices.
type PWM interface {
	Device
	// PWMPinCount returns the number of PWM output pins of the device
	PWMPinCount() int
	// MaxPWMValue returns the maximum valid value for onValue or offValue.
	MaxPWMValue() uint32
	// SetPWMFrequency sets the frequency (in Hz) of the output at given index.
	// Some devices share a single frequency for all outputs.
	SetPWMFrequency(ctx context.Context, output model.DeviceIndex, hz uint32) error
	// SetPWM the output at given index (1...) to the given value
	SetPWM(ctx context.Context, output model.DeviceIndex, onValue, offValue uint32, enabled bool) error
	// GetPWM the output at given index (1...)
	// Returns onValue,offValue,enabled,error
	GetPWM(ctx context.Context, output model.DeviceIndex) (uint32, uint32, bool, error)
}

// PWMCapable is implemented by devices that can only produce a PWM
// signal on some of their outputs.
type PWMCapable interface {
	// SupportsPWM returns true if the output at given index can
	// produce a PWM signal.
	SupportsPWM(output model.DeviceIndex) bool
}

// SupportsPWM returns true if the given device can produce a PWM
// signal on the output at given index.
func SupportsPWM(dev Device, output model.DeviceIndex) bool {
	pwm, ok := dev.(PWM)
	if !ok {
		return false
	}
	if pc, ok := pwm.(PWMCapable); ok {
		return pc.SupportsPWM(output)
	}
	return true
}

// SetDuty sets a steady duty cycle on the output at given index.
// The duty is clipped to MaxPWMValue, inverted is used for active low outputs.
func SetDuty(ctx context.Context, pwm PWM, output model.DeviceIndex, duty uint32, inverted bool) error {
	max := pwm.MaxPWMValue()
	duty = min(duty, max)
	if inverted {
		duty = max - duty
	}
	return pwm.SetPWM(ctx, output, 0, duty, true)
}
