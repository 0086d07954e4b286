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
	"math"
	"sync"

	model "github.com/binkynet/SpindleWorker/model"
	"github.com/binkynet/SpindleWorker/pkg/service/bridge"
)

type pca9685 struct {
	mutex     sync.Mutex
	onActive  func()
	config    model.HWDevice
	bus       bridge.I2CBus
	address   byte
	frequency uint32
}

const (
	pca9685MODE1Reg      = 0x00
	pca9685LEDBaseReg    = 0x06
	pca9685PRESCALEReg   = 0xFE
	pca9685OnLowRegOfs   = 0
	pca9685OnHighRegOfs  = 1
	pca9685OffLowRegOfs  = 2
	pca9685OffHighRegOfs = 3
	pca9685RegIncrement  = 4

	pca9685OutputCount      = 16
	pca9685MaxValue         = 4095
	pca9685OscillatorHz     = 25000000
	pca9685DefaultFrequency = 1000
	pca9685MinPrescale      = 3
	pca9685MaxPrescale      = 255

	pca9685Mode1Sleep = 0x11 // SLEEP=1, ALLCALL=1
	pca9685Mode1Awake = 0x01 // SLEEP=0, ALLCALL=1

	// Bit 4 of the ON_H and OFF_H registers, FULL_OFF wins over FULL_ON
	pca9685FullOn  = 0b00010000
	pca9685FullOff = 0b00010000
)

// newPCA9685 creates a PWM instance for a pca9685 device with given config.
func newPCA9685(config model.HWDevice, bus bridge.I2CBus, onActive func()) (PWM, error) {
	if config.Type != model.HWDeviceTypePCA9685 {
		return nil, model.InvalidArgument("Invalid device type '%s'", string(config.Type))
	}
	address, err := parseAddress(config.Address)
	if err != nil {
		return nil, err
	}
	return &pca9685{
		onActive:  onActive,
		config:    config,
		bus:       bus,
		address:   byte(address),
		frequency: pca9685DefaultFrequency,
	}, nil
}

// pca9685Prescale calculates the prescale register value for the given frequency.
func pca9685Prescale(hz uint32) uint8 {
	if hz == 0 {
		hz = pca9685DefaultFrequency
	}
	prescale := math.Round(float64(pca9685OscillatorHz)/(4096*float64(hz))) - 1
	return uint8(math.Max(pca9685MinPrescale, math.Min(pca9685MaxPrescale, prescale)))
}

// ID returns the configured identifier of the device.
func (d *pca9685) ID() model.DeviceID {
	return d.config.ID
}

// Configure is called once to put the device in the desired state.
func (d *pca9685) Configure(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.onActive()
	return d.writePrescale(ctx, pca9685Prescale(d.frequency))
}

// writePrescale puts the chip to sleep, updates the prescaler and wakes it up.
// The prescaler can only be written while sleeping.
func (d *pca9685) writePrescale(ctx context.Context, prescale uint8) error {
	return d.bus.Execute(ctx, d.address, func(ctx context.Context, dev bridge.I2CDevice) error {
		if err := dev.WriteByteReg(pca9685MODE1Reg, pca9685Mode1Sleep); err != nil {
			return err
		}
		if err := dev.WriteByteReg(pca9685PRESCALEReg, prescale); err != nil {
			return err
		}
		return dev.WriteByteReg(pca9685MODE1Reg, pca9685Mode1Awake)
	})
}

// Close brings the device back to a safe state.
func (d *pca9685) Close(ctx context.Context) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	d.onActive()
	return d.bus.Execute(ctx, d.address, func(ctx context.Context, dev bridge.I2CDevice) error {
		return dev.WriteByteReg(pca9685MODE1Reg, pca9685Mode1Sleep)
	})
}

// PWMPinCount returns the number of pwm outputs of the device
func (d *pca9685) PWMPinCount() int {
	return pca9685OutputCount
}

// MaxPWMValue returns the maximum valid value for onValue or offValue.
func (d *pca9685) MaxPWMValue() uint32 {
	return pca9685MaxValue
}

// SupportsPWM returns true for all 16 outputs.
func (d *pca9685) SupportsPWM(output model.DeviceIndex) bool {
	_, err := d.regBase(output)
	return err == nil
}

// SetPWMFrequency sets the frequency of all outputs.
// The PCA9685 has a single prescaler, so the last call wins.
func (d *pca9685) SetPWMFrequency(ctx context.Context, output model.DeviceIndex, hz uint32) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if _, err := d.regBase(output); err != nil {
		return err
	}
	d.onActive()
	if err := d.writePrescale(ctx, pca9685Prescale(hz)); err != nil {
		return err
	}
	d.frequency = hz
	return nil
}

// SetPWM the output at given index (1...) to the given value
func (d *pca9685) SetPWM(ctx context.Context, output model.DeviceIndex,
	onValue, offValue uint32, enabled bool) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	regBase, err := d.regBase(output)
	if err != nil {
		return err
	}
	d.onActive()
	// A counter range of 0..4095 leaves the output low for one tick,
	// use FULL_ON for a steady high output.
	fullOn := enabled && onValue == 0 && offValue >= pca9685MaxValue
	if fullOn {
		offValue = 0
	}
	return d.bus.Execute(ctx, d.address, func(ctx context.Context, dev bridge.I2CDevice) error {
		onLow := uint8(onValue & 0xFF)
		if err := dev.WriteByteReg(uint8(regBase+pca9685OnLowRegOfs), onLow); err != nil {
			return err
		}
		onHigh := uint8((onValue >> 8) & 0x0F)
		if fullOn {
			onHigh = onHigh | pca9685FullOn
		}
		if err := dev.WriteByteReg(uint8(regBase+pca9685OnHighRegOfs), onHigh); err != nil {
			return err
		}
		offLow := uint8(offValue & 0xFF)
		if err := dev.WriteByteReg(uint8(regBase+pca9685OffLowRegOfs), offLow); err != nil {
			return err
		}
		offHigh := uint8((offValue >> 8) & 0x0F)
		if !enabled {
			offHigh = offHigh | pca9685FullOff
		}
		return dev.WriteByteReg(uint8(regBase+pca9685OffHighRegOfs), offHigh)
	})
}

// GetPWM the output at given index (1...)
// Returns onValue,offValue,enabled,error
func (d *pca9685) GetPWM(ctx context.Context, output model.DeviceIndex) (uint32, uint32, bool, error) {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	regBase, err := d.regBase(output)
	if err != nil {
		return 0, 0, false, err
	}
	var regs [4]uint8
	if err := d.bus.Execute(ctx, d.address, func(ctx context.Context, dev bridge.I2CDevice) error {
		for i := range regs {
			v, err := dev.ReadByteReg(uint8(regBase + i))
			if err != nil {
				return err
			}
			regs[i] = v
		}
		return nil
	}); err != nil {
		return 0, 0, false, err
	}
	on := uint32(regs[pca9685OnLowRegOfs]) | (uint32(regs[pca9685OnHighRegOfs]&0x0F) << 8)
	off := uint32(regs[pca9685OffLowRegOfs]) | (uint32(regs[pca9685OffHighRegOfs]&0x0F) << 8)
	enabled := regs[pca9685OffHighRegOfs]&pca9685FullOff == 0
	if enabled && regs[pca9685OnHighRegOfs]&pca9685FullOn != 0 {
		on, off = 0, pca9685MaxValue
	}
	return on, off, enabled, nil
}

// regBase returns the first register for the given output.
func (d *pca9685) regBase(output model.DeviceIndex) (int, error) {
	if output < 1 || output > pca9685OutputCount {
		return 0, model.InvalidArgument("Output must be in 1..16 range, got %d", output)
	}
	return pca9685LEDBaseReg + ((int(output) - 1) * pca9685RegIncrement), nil
}
