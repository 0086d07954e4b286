package model

import (
	"strings"

	"github.com/pkg/errors"
)

// SpindleState is the commanded rotational mode of a spindle.
type SpindleState uint8

const (
	// SpindleDisabled means the spindle is off (M5).
	SpindleDisabled SpindleState = iota
	// SpindleClockwise means the spindle turns clockwise (M3).
	SpindleClockwise
	// SpindleCounterClockwise means the spindle turns counter clockwise (M4).
	SpindleCounterClockwise
)

// String returns the short name of the state.
func (s SpindleState) String() string {
	switch s {
	case SpindleDisabled:
		return "off"
	case SpindleClockwise:
		return "cw"
	case SpindleCounterClockwise:
		return "ccw"
	default:
		return "unknown"
	}
}

// ParseSpindleState parses a textual spindle state.
// Accepts the short names as well as the G-code names (M3, M4, M5).
func ParseSpindleState(s string) (SpindleState, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "off", "disable", "disabled", "m5":
		return SpindleDisabled, nil
	case "cw", "clockwise", "m3":
		return SpindleClockwise, nil
	case "ccw", "counterclockwise", "counter-clockwise", "m4":
		return SpindleCounterClockwise, nil
	default:
		return SpindleDisabled, errors.Wrapf(ValidationError, "invalid spindle state '%s'", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s SpindleState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *SpindleState) UnmarshalText(text []byte) error {
	v, err := ParseSpindleState(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
