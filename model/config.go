package model

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultPWMFrequency is used for spindles that do not specify a frequency.
	DefaultPWMFrequency = 5000
)

// LocalConfiguration holds the configuration of a single spindle worker.
type LocalConfiguration struct {
	// List of devices attached to the worker
	Devices []HWDevice `yaml:"devices,omitempty" json:"devices,omitempty"`
	// List of spindles controlled by the worker
	Spindles []SpindleConfig `yaml:"spindles,omitempty" json:"spindles,omitempty"`
}

// Load the configuration from the YAML file at given path.
// Defaults are applied and the result is validated.
func Load(path string) (LocalConfiguration, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return LocalConfiguration{}, errors.Wrapf(err, "failed to read %s", path)
	}
	return Parse(b)
}

// Parse the configuration from the given YAML content.
// Defaults are applied and the result is validated.
func Parse(content []byte) (LocalConfiguration, error) {
	var c LocalConfiguration
	if err := yaml.Unmarshal(content, &c); err != nil {
		return LocalConfiguration{}, errors.Wrap(err, "failed to parse configuration")
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return LocalConfiguration{}, maskAny(err)
	}
	return c, nil
}

// applyDefaults fills in unset values.
func (c *LocalConfiguration) applyDefaults() {
	for i := range c.Spindles {
		s := &c.Spindles[i]
		if s.PWMFrequency == 0 {
			s.PWMFrequency = DefaultPWMFrequency
		}
	}
}

// DeviceByID returns the device with given ID.
// Return false if not found.
func (c LocalConfiguration) DeviceByID(id DeviceID) (HWDevice, bool) {
	for _, d := range c.Devices {
		if d.ID == id {
			return d, true
		}
	}
	return HWDevice{}, false
}

// SpindleByName returns the spindle with given name.
// Return false if not found.
func (c LocalConfiguration) SpindleByName(name string) (SpindleConfig, bool) {
	for _, x := range c.Spindles {
		if x.Name == name {
			return x, true
		}
	}
	return SpindleConfig{}, false
}

// Validate the given configuration, returning nil on ok,
// or an error upon validation issues.
func (c LocalConfiguration) Validate() error {
	deviceIDs := make(map[DeviceID]struct{})
	for _, d := range c.Devices {
		if err := d.Validate(); err != nil {
			return maskAny(err)
		}
		if _, found := deviceIDs[d.ID]; found {
			return errors.Wrapf(ValidationError, "Duplicate device '%s'", d.ID)
		}
		deviceIDs[d.ID] = struct{}{}
	}
	names := make(map[string]struct{})
	for _, s := range c.Spindles {
		if err := s.Validate(); err != nil {
			return maskAny(err)
		}
		if _, found := names[s.Name]; found {
			return errors.Wrapf(ValidationError, "Duplicate spindle '%s'", s.Name)
		}
		names[s.Name] = struct{}{}
		for pinID, p := range s.Pins() {
			if !p.IsDefined() {
				continue
			}
			if _, found := c.DeviceByID(p.DeviceID); !found {
				return errors.Wrapf(ValidationError, "Device '%s' not found in pin '%s' in spindle '%s'", p.DeviceID, pinID, s.Name)
			}
		}
	}
	return nil
}
