package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrUnknownType) {
//	    // handle unsupported device type
//	}
var (
	// ErrUnknownType is returned when no factory is registered for a device type.
	ErrUnknownType = errors.New("device: unknown type")

	// ErrFactoryExists is returned when registering a second factory for a type.
	ErrFactoryExists = errors.New("device: factory already registered")

	// ErrInvalidState is returned by DiffStates when given a state of the wrong type.
	ErrInvalidState = errors.New("device: invalid state")

	// ErrInvalidCommand is returned by SendCommand for an unrecognised payload.
	ErrInvalidCommand = errors.New("device: invalid command")

	// ErrActionNotFound is returned when invoking an action the device does not expose.
	ErrActionNotFound = errors.New("device: action not found")

	// ErrNotConnected is returned when the device is known to be unreachable.
	ErrNotConnected = errors.New("device: not connected")

	// ErrNotInitialised is returned when calling a device before Init.
	ErrNotInitialised = errors.New("device: not initialised")
)
