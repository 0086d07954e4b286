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

	model "github.com/binkynet/SpindleWorker/model"
	"github.com/binkynet/SpindleWorker/pkg/service/bridge"
)

type localGPIO struct {
	mutex    sync.Mutex
	onActive func()
	config   model.HWDevice
	api      bridge.LocalGPIO
	inputs   map[model.DeviceIndex]bridge.InputPin
	outputs  map[model.DeviceIndex]bridge.OutputPin
}

// newLocalGPIO creates a GPIO instance for a GPIO locally on the worker
func newLocalGPIO(config model.HWDevice, api bridge.LocalGPIO, onActive func()) (GPIO, error) {
	if config.Type != model.HWDeviceTypeGPIO {
		return nil, model.InvalidArgument("Invalid device type '%s'", string(config.Type))
	}
	return &localGPIO{
		onActive: onActive,
		config:   config,
		api:      api,
	}, nil
}

// ID returns the configured identifier of the device.
func (d *localGPIO) ID() model.DeviceID {
	return d.config.ID
}

// Configure is called once to put the device in the desired state.
func (d *localGPIO) Configure(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.onActive()
	d.inputs = make(map[model.DeviceIndex]bridge.InputPin)
	d.outputs = make(map[model.DeviceIndex]bridge.OutputPin)
	return nil
}

// Close brings the device back to a safe state.
func (d *localGPIO) Close(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.onActive()
	// Release all outputs by turning them into inputs
	for pin := range d.outputs {
		if _, err := d.api.Input(int(pin), false); err != nil {
			return errors.Wrapf(err, "failed to reset pin %d", pin)
		}
	}
	d.inputs = nil
	d.outputs = nil
	return nil
}

// PinCount returns the number of pins of the device
func (d *localGPIO) PinCount() uint {
	return uint(d.api.PinCount())
}

// Set the direction of the pin at given index
func (d *localGPIO) SetDirection(ctx context.Context, pin model.DeviceIndex, direction PinDirection) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.inputs == nil {
		return errors.Wrapf(NotConfiguredError, "device %s", d.config.ID)
	}
	d.onActive()
	switch direction {
	case PinDirectionInput:
		p, err := d.api.Input(int(pin), false)
		if err != nil {
			return err
		}
		d.inputs[pin] = p
		delete(d.outputs, pin)
	case PinDirectionOutput:
		p, err := d.api.Output(int(pin), false, false)
		if err != nil {
			return err
		}
		delete(d.inputs, pin)
		d.outputs[pin] = p
	default:
		return errors.Wrapf(InvalidDirectionError, "direction %d", direction)
	}
	return nil
}

// Get the direction of the pin at given index
func (d *localGPIO) GetDirection(ctx context.Context, pin model.DeviceIndex) (PinDirection, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if _, found := d.inputs[pin]; found {
		return PinDirectionInput, nil
	}
	if _, found := d.outputs[pin]; found {
		return PinDirectionOutput, nil
	}
	return PinDirectionInput, errors.Wrapf(NotConfiguredError, "pin %d", pin)
}

// Set the pin at given index to the given value
func (d *localGPIO) Set(ctx context.Context, pin model.DeviceIndex, value bool) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if f, found := d.outputs[pin]; found {
		return f.Write(value)
	}
	return errors.Wrapf(InvalidDirectionError, "pin %d does not have direction output", pin)
}

// Get the pin at given index
func (d *localGPIO) Get(ctx context.Context, pin model.DeviceIndex) (bool, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if f, found := d.inputs[pin]; found {
		return f.Read()
	}
	return false, errors.Wrapf(InvalidDirectionError, "pin %d does not have direction input", pin)
}
