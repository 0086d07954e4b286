package model

import (
	"strings"

	"github.com/pkg/errors"
)

// HWDevice holds configuration data for a specif hardward device.
// Typically a hardware device is attached to a bus.
type HWDevice struct {
	// Unique identifier of the device (instance)
	ID DeviceID `yaml:"id" json:"id"`
	// Address is used to identify the device on a bus.
	// Its meaning depends on the type of device.
	Address string `yaml:"address,omitempty" json:"address,omitempty"`
	// Type of the device
	Type HWDeviceType `yaml:"type" json:"type"`
	// Number of pins for devices that have no fixed pin count (virtual)
	Pins int `yaml:"pins,omitempty" json:"pins,omitempty"`
}

// HWDeviceType identifies a type of devices (typically chip name)
type HWDeviceType string

const (
	// GPIO pins of the local board, accessed through the bridge.
	HWDeviceTypeGPIO HWDeviceType = "gpio"
	// GPIO lines of a Linux GPIO character device (address is the chip path).
	HWDeviceTypeGPIOCDev HWDeviceType = "gpiocdev"
	// GPIO & PWM pins accessed through periph.io (pins named GPIO<index>).
	HWDeviceTypePeriph HWDeviceType = "periph"
	// PCA9685 16-channel PWM controller on the I2C bus.
	HWDeviceTypePCA9685 HWDeviceType = "pca9685"
	// Linux sysfs PWM chip (address is the pwmchip directory).
	HWDeviceTypeSysfsPWM HWDeviceType = "sysfs-pwm"
	// Virtual GPIO controlled over MQTT (address is the topic prefix).
	HWDeviceTypeMQTTGPIO HWDeviceType = "mqtt-gpio"
	// Virtual PWM controlled over MQTT (address is the topic prefix).
	HWDeviceTypeMQTTPWM HWDeviceType = "mqtt-pwm"
	// In-memory device with both GPIO and PWM pins.
	HWDeviceTypeVirtual HWDeviceType = "virtual"
)

var allHWDeviceTypes = []HWDeviceType{
	HWDeviceTypeGPIO,
	HWDeviceTypeGPIOCDev,
	HWDeviceTypePeriph,
	HWDeviceTypePCA9685,
	HWDeviceTypeSysfsPWM,
	HWDeviceTypeMQTTGPIO,
	HWDeviceTypeMQTTPWM,
	HWDeviceTypeVirtual,
}

// Validate the given type, returning nil on ok,
// or an error upon validation issues.
func (t HWDeviceType) Validate() error {
	for _, x := range allHWDeviceTypes {
		if x == t {
			return nil
		}
	}
	return errors.Wrapf(ValidationError, "invalid device type '%s'", string(t))
}

// requiresAddress returns true if devices of this type need an address.
func (t HWDeviceType) requiresAddress() bool {
	switch t {
	case HWDeviceTypePCA9685, HWDeviceTypeSysfsPWM, HWDeviceTypeGPIOCDev,
		HWDeviceTypeMQTTGPIO, HWDeviceTypeMQTTPWM:
		return true
	default:
		return false
	}
}

// Validate the given configuration, returning nil on ok,
// or an error upon validation issues.
func (d HWDevice) Validate() error {
	if strings.TrimSpace(string(d.ID)) == "" {
		return errors.Wrap(ValidationError, "ID is empty")
	}
	if err := d.Type.Validate(); err != nil {
		return errors.Wrapf(ValidationError, "Error in Type of '%s': %s", d.ID, err.Error())
	}
	if d.Type.requiresAddress() && d.Address == "" {
		return errors.Wrapf(ValidationError, "Address of '%s' is empty", d.ID)
	}
	if d.Pins < 0 {
		return errors.Wrapf(ValidationError, "Pins of '%s' cannot be negative", d.ID)
	}
	return nil
}
