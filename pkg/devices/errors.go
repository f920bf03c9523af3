package devices

import "errors"

// Common device errors that are platform-agnostic.
var (
	// ErrInvalidPin is returned when an invalid pin number is provided.
	ErrInvalidPin = errors.New("invalid pin")

	// ErrInvalidState is returned when a device is in an invalid state for the operation.
	ErrInvalidState = errors.New("invalid state")

	// ErrInvalidValue is returned when an invalid parameter value is provided.
	ErrInvalidValue = errors.New("invalid value")
)
