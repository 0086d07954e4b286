package model

import (
	"github.com/pkg/errors"
)

var (
	ValidationError = errors.New("validation failed")
	maskAny         = errors.WithStack
)

// InvalidArgument creates a validation error with given message.
func InvalidArgument(format string, args ...interface{}) error {
	return errors.Wrapf(ValidationError, format, args...)
}

// IsValidationError returns true if the cause of the given error is a
// ValidationError.
func IsValidationError(err error) bool {
	return errors.Cause(err) == ValidationError
}
