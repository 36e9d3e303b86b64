package conductor

import (
	"errors"
	"fmt"
)

// Domain errors for the conductor package.
var (
	// ErrDeviceNotFound is returned when a device id is not connected.
	ErrDeviceNotFound = errors.New("conductor: device not found")

	// ErrDeviceExists is returned when adding a device id twice.
	ErrDeviceExists = errors.New("conductor: device already exists")

	// ErrResolverPanic wraps a panic raised by the resolver.
	ErrResolverPanic = errors.New("conductor: resolver panicked")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("conductor: closed")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("conductor: already started")
)

// ResolveError reports a timeline that could not be resolved.
type ResolveError struct {
	Time int64
	Err  error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("resolving timeline at %d: %v", e.Time, e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// ConvertError reports a timeline state the device could not convert into
// its own state. The state is not queued.
type ConvertError struct {
	DeviceID  string
	StateTime int64
	Err       error
}

func (e *ConvertError) Error() string {
	return fmt.Sprintf("device %s: converting state at %d: %v", e.DeviceID, e.StateTime, e.Err)
}

func (e *ConvertError) Unwrap() error { return e.Err }

// DiffError reports a device state diff that failed. The transition
// proceeds without commands.
type DiffError struct {
	DeviceID  string
	StateTime int64
	Err       error
}

func (e *DiffError) Error() string {
	return fmt.Sprintf("device %s: diffing state at %d: %v", e.DeviceID, e.StateTime, e.Err)
}

func (e *DiffError) Unwrap() error { return e.Err }

// CommandError reports a command the device did not accept.
type CommandError struct {
	DeviceID      string
	CommandID     string
	Context       string
	TimelineObjID string
	Err           error
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("device %s: command %q (object %s): %v", e.DeviceID, e.Context, e.TimelineObjID, e.Err)
}

func (e *CommandError) Unwrap() error { return e.Err }

// ConnectionError reports a device that is unreachable or failed to
// initialise.
type ConnectionError struct {
	DeviceID string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("device %s: connection: %v", e.DeviceID, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }
