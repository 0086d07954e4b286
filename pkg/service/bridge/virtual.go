//    Copyright 2017 Ewout Prangsma
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
	"sync"
	"time"
)

type virtualBridge struct {
	mutex    sync.Mutex
	pinCount int
	values   map[int]bool
	greenLed *statusLed
	redLed   *statusLed
}

const (
	defaultVirtualPinCount = 28
)

// NewVirtualBridge implements the bridge for a virtual spindle worker.
// Local pins are kept in memory.
func NewVirtualBridge() (API, error) {
	b := &virtualBridge{
		pinCount: defaultVirtualPinCount,
		values:   make(map[int]bool),
	}
	// Leds use the same pins as on a Raspberry Pi
	b.greenLed = newStatusLed("green", virtualPin{b: b, pinNumber: greenLedPin, activeLow: true})
	b.redLed = newStatusLed("red", virtualPin{b: b, pinNumber: redLedPin, activeLow: true})
	return b, nil
}

type virtualPin struct {
	b         *virtualBridge
	pinNumber int
	activeLow bool
}

// Read the logical value of the pin.
func (p virtualPin) Read() (bool, error) {
	p.b.mutex.Lock()
	defer p.b.mutex.Unlock()
	return p.b.values[p.pinNumber] != p.activeLow, nil
}

// Write the logical value of the pin.
func (p virtualPin) Write(value bool) error {
	p.b.mutex.Lock()
	defer p.b.mutex.Unlock()
	p.b.values[p.pinNumber] = value != p.activeLow
	return nil
}

// Returns number of local pins
func (p *virtualBridge) PinCount() int {
	return p.pinCount
}

// Input initializes a GPIO input pin with the given pin number.
func (p *virtualBridge) Input(pinNumber int, activeLow bool) (InputPin, error) {
	if pinNumber < 0 || pinNumber >= p.pinCount {
		return nil, fmt.Errorf("Invalid pin %d", pinNumber)
	}
	return virtualPin{b: p, pinNumber: pinNumber, activeLow: activeLow}, nil
}

// Output initializes a GPIO output pin with the given pin number
// and initial logical value.
func (p *virtualBridge) Output(pinNumber int, activeLow bool, initialValue bool) (OutputPin, error) {
	if pinNumber < 0 || pinNumber >= p.pinCount {
		return nil, fmt.Errorf("Invalid pin %d", pinNumber)
	}
	pin := virtualPin{b: p, pinNumber: pinNumber, activeLow: activeLow}
	pin.Write(initialValue)
	return pin, nil
}

// Turn Green status led on/off
func (p *virtualBridge) SetGreenLED(on bool) error {
	return p.greenLed.Set(on)
}

// Turn Red status led on/off
func (p *virtualBridge) SetRedLED(on bool) error {
	return p.redLed.Set(on)
}

// Blink Green status led with given duration between on/off
func (p *virtualBridge) BlinkGreenLED(delay time.Duration) error {
	return p.greenLed.Blink(delay)
}

// Blink Red status led with given duration between on/off
func (p *virtualBridge) BlinkRedLED(delay time.Duration) error {
	return p.redLed.Blink(delay)
}

// Open the I2C bus
func (p *virtualBridge) I2CBus() (I2CBus, error) {
	return p, nil
}

func (p *virtualBridge) Close() error {
	p.greenLed.Close()
	p.redLed.Close()
	return nil
}

// Execute an option on the bus.
func (p *virtualBridge) Execute(ctx context.Context, address uint8, op func(ctx context.Context, dev I2CDevice) error) error {
	return fmt.Errorf("device %0x not found", address)
}

// DetectSlaveAddresses probes the bus to detect available addresses.
func (p *virtualBridge) DetectSlaveAddresses() []byte {
	return nil
}
