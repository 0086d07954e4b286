package model

import "fmt"

// DeviceID identifies a hardware device in the configuration.
type DeviceID string

// DeviceIndex is the number of a pin or output on a device.
type DeviceIndex uint

// Pin identifies a connection pin of a hardware device.
// A Pin without a device is not wired.
type Pin struct {
	// Unique identifier of the device that contains this pin.
	DeviceID DeviceID `yaml:"device,omitempty" json:"device,omitempty"`
	// Pin number on the device
	Index DeviceIndex `yaml:"index,omitempty" json:"index,omitempty"`
	// If set, the logical value of the pin is inverted (active low).
	Invert bool `yaml:"invert,omitempty" json:"invert,omitempty"`
}

// IsDefined returns true when the pin is wired to a device.
func (p Pin) IsDefined() bool {
	return p.DeviceID != ""
}

// String returns a human readable name of the pin.
func (p Pin) String() string {
	if !p.IsDefined() {
		return "NO_PIN"
	}
	name := fmt.Sprintf("%s:%d", p.DeviceID, p.Index)
	if p.Invert {
		name += ":low"
	}
	return name
}
