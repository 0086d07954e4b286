package model

import (
	"strings"

	"github.com/pkg/errors"
)

// SpindleConfig holds the configuration of a single spindle.
type SpindleConfig struct {
	// Unique name of the spindle
	Name string `yaml:"name" json:"name"`
	// Type of spindle. This is the name under which the spindle
	// implementation is registered (PWM, OnOff, Laser).
	Type string `yaml:"type" json:"type"`
	// Frequency of the PWM signal in Hz
	PWMFrequency uint32 `yaml:"pwm_hz,omitempty" json:"pwm_hz,omitempty"`
	// Variable duty output line
	OutputPin Pin `yaml:"output_pin,omitempty" json:"output_pin,omitempty"`
	// Binary enable line
	EnablePin Pin `yaml:"enable_pin,omitempty" json:"enable_pin,omitempty"`
	// Binary direction line
	DirectionPin Pin `yaml:"direction_pin,omitempty" json:"direction_pin,omitempty"`
	// Mapping from requested speed to output percentage.
	// If empty, the spindle installs its default map.
	SpeedMap SpeedMap `yaml:"speed_map,omitempty" json:"speed_map,omitempty"`
	// Delay (in ms) after starting the spindle
	SpinUpMS uint32 `yaml:"spinup_ms,omitempty" json:"spinup_ms,omitempty"`
	// Delay (in ms) after stopping the spindle
	SpinDownMS uint32 `yaml:"spindown_ms,omitempty" json:"spindown_ms,omitempty"`
	// If set, the enable line is kept inactive while the requested speed is 0.
	DisableWithZeroSpeed bool `yaml:"disable_with_s0,omitempty" json:"disable_with_s0,omitempty"`
	// If set, the spindle is stopped when an abort is cleared.
	OffOnAlarm bool `yaml:"off_on_alarm,omitempty" json:"off_on_alarm,omitempty"`
	// If set, a soft-start ramp stops as soon as an abort is requested.
	AbortRamp bool `yaml:"abort_ramp,omitempty" json:"abort_ramp,omitempty"`
	// Name of the tool changer used by this spindle (optional)
	ToolChanger string `yaml:"tool_changer,omitempty" json:"tool_changer,omitempty"`
}

// SpeedEntry is a single breakpoint in a speed map.
type SpeedEntry struct {
	// Requested (logical) speed
	Speed uint32 `yaml:"speed" json:"speed"`
	// Output percentage (0..100) at this speed
	Percent float32 `yaml:"percent" json:"percent"`
}

// SpeedMap is an ordered list of breakpoints that defines a piecewise-linear
// function from requested speed to output percentage.
type SpeedMap []SpeedEntry

// Validate the given speed map, returning nil on ok,
// or an error upon validation issues.
func (m SpeedMap) Validate() error {
	for i, e := range m {
		if e.Percent < 0 || e.Percent > 100 {
			return errors.Wrapf(ValidationError, "percent of speed entry %d must be in 0..100, got %f", i, e.Percent)
		}
		if i > 0 && e.Speed <= m[i-1].Speed {
			return errors.Wrapf(ValidationError, "speed of speed entry %d must be larger than %d, got %d", i, m[i-1].Speed, e.Speed)
		}
	}
	return nil
}

// MaxSpeed returns the speed of the last breakpoint.
func (m SpeedMap) MaxSpeed() uint32 {
	if len(m) == 0 {
		return 0
	}
	return m[len(m)-1].Speed
}

// Validate the given configuration, returning nil on ok,
// or an error upon validation issues.
func (c SpindleConfig) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return errors.Wrap(ValidationError, "Name is empty")
	}
	if strings.TrimSpace(c.Type) == "" {
		return errors.Wrapf(ValidationError, "Type of '%s' is empty", c.Name)
	}
	if err := c.SpeedMap.Validate(); err != nil {
		return errors.Wrapf(ValidationError, "Error in speed map of '%s': %s", c.Name, err.Error())
	}
	return nil
}

// Pins returns all pins of the spindle, keyed by connection name.
func (c SpindleConfig) Pins() map[string]Pin {
	return map[string]Pin{
		"output_pin":    c.OutputPin,
		"enable_pin":    c.EnablePin,
		"direction_pin": c.DirectionPin,
	}
}
