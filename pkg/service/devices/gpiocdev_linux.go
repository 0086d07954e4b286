//go:build linux

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
	"sync"

	"github.com/pkg/errors"
	"github.com/warthog618/go-gpiocdev"

	model "github.com/binkynet/SpindleWorker/model"
)

const gpiocdevConsumer = "binky-spindle"

type gpioCDev struct {
	mutex     sync.Mutex
	onActive  func()
	config    model.HWDevice
	chip      *gpiocdev.Chip
	lines     map[model.DeviceIndex]*gpiocdev.Line
	direction map[model.DeviceIndex]PinDirection
}

// newGPIOCDev creates a GPIO instance for the lines of a GPIO character device.
// The pin index is the line offset on the chip.
func newGPIOCDev(config model.HWDevice, onActive func()) (GPIO, error) {
	if config.Type != model.HWDeviceTypeGPIOCDev {
		return nil, model.InvalidArgument("Invalid device type '%s'", string(config.Type))
	}
	return &gpioCDev{
		onActive: onActive,
		config:   config,
	}, nil
}

// ID returns the configured identifier of the device.
func (d *gpioCDev) ID() model.DeviceID {
	return d.config.ID
}

// Configure opens the chip.
func (d *gpioCDev) Configure(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	chip, err := gpiocdev.NewChip(d.config.Address)
	if err != nil {
		return errors.Wrapf(err, "failed to open gpio chip '%s'", d.config.Address)
	}
	d.onActive()
	d.chip = chip
	d.lines = make(map[model.DeviceIndex]*gpiocdev.Line)
	d.direction = make(map[model.DeviceIndex]PinDirection)
	return nil
}

// Close releases all requested lines and the chip.
func (d *gpioCDev) Close(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.chip == nil {
		return nil
	}
	d.onActive()
	for idx, l := range d.lines {
		l.Close()
		delete(d.lines, idx)
	}
	err := d.chip.Close()
	d.chip = nil
	return err
}

// PinCount returns the number of lines of the chip
func (d *gpioCDev) PinCount() uint {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.chip == nil {
		return 0
	}
	return uint(d.chip.Lines())
}

// SetDirection (re)requests the line with the given direction.
func (d *gpioCDev) SetDirection(ctx context.Context, pin model.DeviceIndex, direction PinDirection) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.chip == nil {
		return errors.Wrapf(NotConfiguredError, "device %s", d.config.ID)
	}
	if int(pin) >= d.chip.Lines() {
		return errors.Wrapf(OutOfRangeError, "line %d of chip '%s'", pin, d.config.Address)
	}
	if l, found := d.lines[pin]; found {
		l.Close()
		delete(d.lines, pin)
	}
	var opt gpiocdev.LineReqOption
	switch direction {
	case PinDirectionInput:
		opt = gpiocdev.AsInput
	case PinDirectionOutput:
		opt = gpiocdev.AsOutput(0)
	default:
		return errors.Wrapf(InvalidDirectionError, "direction %d", direction)
	}
	l, err := d.chip.RequestLine(int(pin), opt, gpiocdev.WithConsumer(gpiocdevConsumer))
	if err != nil {
		return errors.Wrapf(err, "failed to request line %d", pin)
	}
	d.onActive()
	d.lines[pin] = l
	d.direction[pin] = direction
	return nil
}

// Get the direction of the pin at given index
func (d *gpioCDev) GetDirection(ctx context.Context, pin model.DeviceIndex) (PinDirection, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if dir, found := d.direction[pin]; found {
		return dir, nil
	}
	return PinDirectionInput, errors.Wrapf(NotConfiguredError, "line %d", pin)
}

// Set the line at given index to the given value
func (d *gpioCDev) Set(ctx context.Context, pin model.DeviceIndex, value bool) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	l, found := d.lines[pin]
	if !found || d.direction[pin] != PinDirectionOutput {
		return errors.Wrapf(InvalidDirectionError, "line %d does not have direction output", pin)
	}
	v := 0
	if value {
		v = 1
	}
	d.onActive()
	return l.SetValue(v)
}

// Get the line at given index
func (d *gpioCDev) Get(ctx context.Context, pin model.DeviceIndex) (bool, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	l, found := d.lines[pin]
	if !found {
		return false, errors.Wrapf(NotConfiguredError, "line %d", pin)
	}
	v, err := l.Value()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}
