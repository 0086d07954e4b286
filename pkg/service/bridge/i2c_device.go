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
	"github.com/pkg/errors"
	"periph.io/x/conn/v3/i2c"
)

type i2cDevice struct {
	address uint8
	dev     *i2c.Dev
}

// newI2CDevice returns accessors the the I2C address on the given bus.
func newI2CDevice(bus i2c.Bus, address uint8) *i2cDevice {
	return &i2cDevice{
		address: address,
		dev:     &i2c.Dev{Bus: bus, Addr: uint16(address)},
	}
}

// DetectDevice tries to read a single byte from the device.
func (d *i2cDevice) DetectDevice() error {
	var r [1]byte
	if err := d.dev.Tx(nil, r[:]); err != nil {
		return errors.Wrap(err, "detect failed")
	}
	return nil
}

func (d *i2cDevice) ReadByteReg(reg uint8) (uint8, error) {
	var r [1]byte
	if err := d.dev.Tx([]byte{reg}, r[:]); err != nil {
		return 0, errors.Wrapf(err, "readByteData[0x%0x](0x%0x) failed", d.address, reg)
	}
	return r[0], nil
}

func (d *i2cDevice) WriteByteReg(reg uint8, val uint8) (err error) {
	if err := d.dev.Tx([]byte{reg, val}, nil); err != nil {
		return errors.Wrapf(err, "writeByteData[0x%0x](0x%0x, 0x%0x) failed", d.address, reg, val)
	}
	return nil
}

// Read a byte from device
func (d *i2cDevice) ReadByte() (byte, error) {
	var r [1]byte
	if err := d.dev.Tx(nil, r[:]); err != nil {
		return 0, errors.Wrapf(err, "readByte[0x%0x] failed", d.address)
	}
	return r[0], nil
}

// Write a byte to device
func (d *i2cDevice) WriteByte(val byte) (err error) {
	if err := d.dev.Tx([]byte{val}, nil); err != nil {
		return errors.Wrapf(err, "writeByte[0x%0x](0x%0x) failed", d.address, val)
	}
	return nil
}

// Read a block of data directly from the device
func (d *i2cDevice) ReadDevice(data []byte) (err error) {
	if err := d.dev.Tx(nil, data); err != nil {
		return errors.Wrapf(err, "readDevice[0x%0x] failed", d.address)
	}
	return nil
}

// Write a block of data directly to the device
func (d *i2cDevice) WriteDevice(data []byte) (err error) {
	if _, err := d.dev.Write(data); err != nil {
		return errors.Wrapf(err, "writeDevice[0x%0x] failed", d.address)
	}
	return nil
}
