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
	"sync"

	"github.com/pkg/errors"

	model "github.com/binkynet/SpindleWorker/model"
)

const (
	virtualDefaultPinCount = 32
	virtualMaxPWMValue     = 4095
)

// VirtualOp identifies the kind of a recorded virtual device operation.
type VirtualOp string

const (
	VirtualOpDirection VirtualOp = "direction"
	VirtualOpSet       VirtualOp = "set"
	VirtualOpFrequency VirtualOp = "frequency"
	VirtualOpPWM       VirtualOp = "pwm"
)

// VirtualEvent is a single recorded write to a virtual device.
type VirtualEvent struct {
	Index model.DeviceIndex
	Op    VirtualOp
	// Value is the direction, 0/1 for Set, the frequency in Hz or the PWM off value.
	Value uint32
}

func (e VirtualEvent) String() string {
	return fmt.Sprintf("%s[%d]=%d", e.Op, e.Index, e.Value)
}

// Virtual is an in-memory device with GPIO and PWM pins.
// All writes are recorded in order, so it can be used to observe
// the hardware side of a spindle without real hardware.
type Virtual struct {
	mutex      sync.Mutex
	onActive   func()
	config     model.HWDevice
	configured bool
	direction  map[model.DeviceIndex]PinDirection
	values     map[model.DeviceIndex]bool
	pwm        map[model.DeviceIndex]pwmState
	noPWM      map[model.DeviceIndex]struct{}
	history    []VirtualEvent
}

var (
	_ GPIO       = &Virtual{}
	_ PWM        = &Virtual{}
	_ PWMCapable = &Virtual{}
)

// NewVirtual creates an in-memory device.
// Indexes listed in noPWM report no PWM capability.
func NewVirtual(config model.HWDevice, onActive func(), noPWM ...model.DeviceIndex) *Virtual {
	if onActive == nil {
		onActive = func() {}
	}
	d := &Virtual{
		onActive: onActive,
		config:   config,
		noPWM:    make(map[model.DeviceIndex]struct{}),
	}
	for _, idx := range noPWM {
		d.noPWM[idx] = struct{}{}
	}
	return d
}

// ID returns the configured identifier of the device.
func (d *Virtual) ID() model.DeviceID {
	return d.config.ID
}

// Configure is called once to put the device in the desired state.
func (d *Virtual) Configure(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.onActive()
	d.configured = true
	d.direction = make(map[model.DeviceIndex]PinDirection)
	d.values = make(map[model.DeviceIndex]bool)
	d.pwm = make(map[model.DeviceIndex]pwmState)
	return nil
}

// Close brings the device back to a safe state.
func (d *Virtual) Close(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.onActive()
	d.configured = false
	return nil
}

// History returns a copy of all recorded writes.
func (d *Virtual) History() []VirtualEvent {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return append([]VirtualEvent(nil), d.history...)
}

// ResetHistory clears all recorded writes.
func (d *Virtual) ResetHistory() {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.history = nil
}

// check returns an error when the device is not configured or
// the index is out of range. Requires the mutex to be held.
func (d *Virtual) check(index model.DeviceIndex) error {
	if !d.configured {
		return errors.Wrapf(NotConfiguredError, "device %s", d.config.ID)
	}
	if uint(index) >= d.PinCount() {
		return errors.Wrapf(OutOfRangeError, "pin %d of device %s", index, d.config.ID)
	}
	return nil
}

func (d *Virtual) record(index model.DeviceIndex, op VirtualOp, value uint32) {
	d.onActive()
	d.history = append(d.history, VirtualEvent{Index: index, Op: op, Value: value})
}

// PinCount returns the number of pins of the device
func (d *Virtual) PinCount() uint {
	if d.config.Pins > 0 {
		return uint(d.config.Pins)
	}
	return virtualDefaultPinCount
}

// Set the direction of the pin at given index
func (d *Virtual) SetDirection(ctx context.Context, index model.DeviceIndex, direction PinDirection) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.check(index); err != nil {
		return err
	}
	d.direction[index] = direction
	d.record(index, VirtualOpDirection, uint32(direction))
	return nil
}

// Get the direction of the pin at given index
func (d *Virtual) GetDirection(ctx context.Context, index model.DeviceIndex) (PinDirection, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.check(index); err != nil {
		return PinDirectionInput, err
	}
	return d.direction[index], nil
}

// Set the pin at given index to the given value
func (d *Virtual) Set(ctx context.Context, index model.DeviceIndex, value bool) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.check(index); err != nil {
		return err
	}
	if d.direction[index] != PinDirectionOutput {
		return errors.Wrapf(InvalidDirectionError, "pin %d does not have direction output", index)
	}
	d.values[index] = value
	v := uint32(0)
	if value {
		v = 1
	}
	d.record(index, VirtualOpSet, v)
	return nil
}

// Get the pin at given index
func (d *Virtual) Get(ctx context.Context, index model.DeviceIndex) (bool, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.check(index); err != nil {
		return false, err
	}
	return d.values[index], nil
}

// PWMPinCount returns the number of PWM output pins of the device
func (d *Virtual) PWMPinCount() int {
	return int(d.PinCount())
}

// MaxPWMValue returns the maximum valid value for onValue or offValue.
func (d *Virtual) MaxPWMValue() uint32 {
	return virtualMaxPWMValue
}

// SupportsPWM returns false for the indexes excluded at construction.
func (d *Virtual) SupportsPWM(index model.DeviceIndex) bool {
	if uint(index) >= d.PinCount() {
		return false
	}
	_, excluded := d.noPWM[index]
	return !excluded
}

// SetPWMFrequency sets the frequency of the output at given index.
func (d *Virtual) SetPWMFrequency(ctx context.Context, index model.DeviceIndex, hz uint32) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.check(index); err != nil {
		return err
	}
	state := d.pwm[index]
	state.Frequency = hz
	d.pwm[index] = state
	d.record(index, VirtualOpFrequency, hz)
	return nil
}

// SetPWM the output at given index to the given value
func (d *Virtual) SetPWM(ctx context.Context, index model.DeviceIndex, onValue, offValue uint32, enabled bool) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.check(index); err != nil {
		return err
	}
	if offValue > virtualMaxPWMValue {
		return errors.Wrapf(OutOfRangeError, "pwm value %d", offValue)
	}
	state := d.pwm[index]
	state.OnValue, state.OffValue, state.Enabled = onValue, offValue, enabled
	d.pwm[index] = state
	d.record(index, VirtualOpPWM, offValue)
	return nil
}

// GetPWM the output at given index
// Returns onValue,offValue,enabled,error
func (d *Virtual) GetPWM(ctx context.Context, index model.DeviceIndex) (uint32, uint32, bool, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if err := d.check(index); err != nil {
		return 0, 0, false, err
	}
	state := d.pwm[index]
	return state.OnValue, state.OffValue, state.Enabled, nil
}
