//    Copyright 2025 Ewout Prangsma
//
//    Licensed under the Apache License, Version 2.0 (the "License");
//    you may not use this file except in compliance with the License.
//    You may obtain a copy of the License at
//
//        http://www.apache.org/licenses/LICENSE-2.0
//
//    Unless required by applicable law or agreed to in writing, software
//    distributed under the License is distributed on an "AS IS" BASIS,
//    WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//    See the License for the specific language governing permissions and
//    limitations under the License.

package bridge

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"periph.io/x/conn/v3/i2c"
)

type I2CBus interface {
	// Execute an option on the bus.
	Execute(ctx context.Context, address uint8, op func(ctx context.Context, dev I2CDevice) error) error
	// DetectSlaveAddresses probes the bus to detect available addresses.
	DetectSlaveAddresses() []byte
	// Close the bus and all devices on it
	Close() error
}

// I2CDevice communicates with a device on the I2C Bus that has a specific address.
type I2CDevice interface {
	// Read a byte from given register
	ReadByteReg(reg uint8) (uint8, error)
	// Write a byte to given register
	WriteByteReg(reg uint8, val uint8) (err error)
	// Read a byte from device
	ReadByte() (byte, error)
	// Write a byte to device
	WriteByte(val byte) (err error)
	// Read a block of data directly from the device
	ReadDevice(data []byte) (err error)
	// Write a block of data directly to the device
	WriteDevice(data []byte) (err error)
}

type i2cBus struct {
	mutex   sync.Mutex
	bus     i2c.Bus
	devices map[uint8]*i2cDevice
}

const (
	i2cExecuteAttempts = 2
)

// NewI2CBus returns accessors to the given periph I2C bus.
// All operations on the bus are serialized.
func NewI2CBus(bus i2c.Bus) I2CBus {
	return &i2cBus{
		bus:     bus,
		devices: make(map[uint8]*i2cDevice),
	}
}

// Execute an option on the bus.
func (b *i2cBus) Execute(ctx context.Context, address uint8, op func(context.Context, I2CDevice) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mutex.Lock()
	defer b.mutex.Unlock()

	i2cExecuteCounters.WithLabelValues(strconv.Itoa(int(address))).Inc()
	dev := b.openDevice(address)
	var err error
	for attempt := 0; attempt < i2cExecuteAttempts; attempt++ {
		if err = op(ctx, dev); err == nil {
			// Success
			return nil
		}
		if ctx.Err() != nil {
			break
		}
	}
	i2cExecuteErrorCounters.WithLabelValues(strconv.Itoa(int(address))).Inc()
	return fmt.Errorf("execute operation in i2c bus failed: %w", err)
}

// Open a connection to a device at the given address.
func (b *i2cBus) openDevice(address uint8) *i2cDevice {
	// Did we already open the device?
	if d, found := b.devices[address]; found {
		return d
	}
	d := newI2CDevice(b.bus, address)
	b.devices[address] = d
	return d
}

// DetectSlaveAddresses probes the bus to detect available addresses.
func (b *i2cBus) DetectSlaveAddresses() []byte {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	var result []byte
	for addr := uint8(1); addr < 128; addr++ {
		d := newI2CDevice(b.bus, addr)
		if err := d.DetectDevice(); err == nil {
			result = append(result, addr)
		}
	}
	i2cDetectedAddresses.Set(float64(len(result)))
	return result
}

// Close the bus and all devices on it
func (b *i2cBus) Close() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	clear(b.devices)
	if closer, ok := b.bus.(i2c.BusCloser); ok {
		return closer.Close()
	}
	return nil
}
