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

package devices

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/conn/v3/pin"

	model "github.com/binkynet/SpindleWorker/model"
)

// PinLookup resolves a periph pin by name.
type PinLookup func(name string) gpio.PinIO

const (
	periphDefaultPinCount = 28
)

type periphGPIO struct {
	mutex     sync.Mutex
	onActive  func()
	config    model.HWDevice
	lookup    PinLookup
	pins      map[model.DeviceIndex]gpio.PinIO
	direction map[model.DeviceIndex]PinDirection
	frequency map[model.DeviceIndex]physic.Frequency
}

// newPeriphGPIO creates a GPIO & PWM device for the pins registered in periph.
// Pin index N maps to the pin named "GPIO<N>".
func newPeriphGPIO(config model.HWDevice, lookup PinLookup, onActive func()) (*periphGPIO, error) {
	if config.Type != model.HWDeviceTypePeriph {
		return nil, model.InvalidArgument("Invalid device type '%s'", string(config.Type))
	}
	if lookup == nil {
		lookup = gpioreg.ByName
	}
	return &periphGPIO{
		onActive: onActive,
		config:   config,
		lookup:   lookup,
	}, nil
}

// ID returns the configured identifier of the device.
func (d *periphGPIO) ID() model.DeviceID {
	return d.config.ID
}

// Configure is called once to put the device in the desired state.
func (d *periphGPIO) Configure(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.onActive()
	d.pins = make(map[model.DeviceIndex]gpio.PinIO)
	d.direction = make(map[model.DeviceIndex]PinDirection)
	d.frequency = make(map[model.DeviceIndex]physic.Frequency)
	return nil
}

// Close halts all used pins.
func (d *periphGPIO) Close(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	var result error
	for idx, p := range d.pins {
		if err := p.Halt(); err != nil && result == nil {
			result = errors.Wrapf(err, "failed to halt %s", p.Name())
		}
		delete(d.pins, idx)
	}
	d.onActive()
	return result
}

// pin returns the periph pin for the given index.
// Requires the mutex to be held.
func (d *periphGPIO) pin(index model.DeviceIndex) (gpio.PinIO, error) {
	if d.pins == nil {
		return nil, errors.Wrapf(NotConfiguredError, "device %s", d.config.ID)
	}
	if p, found := d.pins[index]; found {
		return p, nil
	}
	if uint(index) >= d.PinCount() {
		return nil, errors.Wrapf(OutOfRangeError, "pin %d of device %s", index, d.config.ID)
	}
	p := d.lookup(fmt.Sprintf("GPIO%d", index))
	if p == nil {
		return nil, errors.Wrapf(OutOfRangeError, "pin GPIO%d not found", index)
	}
	d.pins[index] = p
	return p, nil
}

// PinCount returns the number of pins of the device
func (d *periphGPIO) PinCount() uint {
	if d.config.Pins > 0 {
		return uint(d.config.Pins)
	}
	return periphDefaultPinCount
}

// Set the direction of the pin at given index
func (d *periphGPIO) SetDirection(ctx context.Context, index model.DeviceIndex, direction PinDirection) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	p, err := d.pin(index)
	if err != nil {
		return err
	}
	d.onActive()
	switch direction {
	case PinDirectionInput:
		err = p.In(gpio.PullNoChange, gpio.NoEdge)
	case PinDirectionOutput:
		err = p.Out(gpio.Low)
	default:
		return errors.Wrapf(InvalidDirectionError, "direction %d", direction)
	}
	if err != nil {
		return errors.Wrapf(err, "failed to set direction of %s", p.Name())
	}
	d.direction[index] = direction
	return nil
}

// Get the direction of the pin at given index
func (d *periphGPIO) GetDirection(ctx context.Context, index model.DeviceIndex) (PinDirection, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if dir, found := d.direction[index]; found {
		return dir, nil
	}
	return PinDirectionInput, errors.Wrapf(NotConfiguredError, "pin %d", index)
}

// Set the pin at given index to the given value
func (d *periphGPIO) Set(ctx context.Context, index model.DeviceIndex, value bool) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	p, err := d.pin(index)
	if err != nil {
		return err
	}
	d.onActive()
	return p.Out(gpio.Level(value))
}

// Get the pin at given index
func (d *periphGPIO) Get(ctx context.Context, index model.DeviceIndex) (bool, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	p, err := d.pin(index)
	if err != nil {
		return false, err
	}
	return p.Read() == gpio.High, nil
}

// PWMPinCount returns the number of PWM output pins of the device
func (d *periphGPIO) PWMPinCount() int {
	return int(d.PinCount())
}

// MaxPWMValue returns the maximum valid value for onValue or offValue.
func (d *periphGPIO) MaxPWMValue() uint32 {
	return uint32(gpio.DutyMax)
}

// SupportsPWM returns true when the pin reports a PWM function.
func (d *periphGPIO) SupportsPWM(index model.DeviceIndex) bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	var p gpio.PinIO
	if d.pins != nil {
		var err error
		if p, err = d.pin(index); err != nil {
			return false
		}
	} else if p = d.lookup(fmt.Sprintf("GPIO%d", index)); p == nil {
		return false
	}
	pf, ok := p.(pin.PinFunc)
	if !ok {
		return false
	}
	for _, f := range pf.SupportedFuncs() {
		if strings.HasPrefix(string(f), "PWM") {
			return true
		}
	}
	return false
}

// SetPWMFrequency sets the frequency used by the next SetPWM.
func (d *periphGPIO) SetPWMFrequency(ctx context.Context, index model.DeviceIndex, hz uint32) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if _, err := d.pin(index); err != nil {
		return err
	}
	d.frequency[index] = physic.Frequency(hz) * physic.Hertz
	return nil
}

// SetPWM the output at given index to the given value.
func (d *periphGPIO) SetPWM(ctx context.Context, index model.DeviceIndex, onValue, offValue uint32, enabled bool) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	p, err := d.pin(index)
	if err != nil {
		return err
	}
	d.onActive()
	if !enabled || offValue <= onValue {
		return p.Out(gpio.Low)
	}
	duty := gpio.Duty(offValue - onValue)
	if duty > gpio.DutyMax {
		duty = gpio.DutyMax
	}
	return p.PWM(duty, d.frequency[index])
}

// GetPWM the output at given index
// Returns onValue,offValue,enabled,error
func (d *periphGPIO) GetPWM(ctx context.Context, index model.DeviceIndex) (uint32, uint32, bool, error) {
	return 0, 0, false, errors.Errorf("reading back PWM of pin %d is not supported", index)
}
