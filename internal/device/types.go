package device

import (
	"context"

	"github.com/google/uuid"

	"github.com/nerrad567/conductor/internal/executor"
	"github.com/nerrad567/conductor/internal/timeline"
)

// Command is a device command with its dispatch metadata.
type Command = executor.Command

// State is a device's own projection of a resolved timeline state.
// Its concrete type belongs to the device integration.
type State any

// Device is the contract between the conductor and a device integration.
type Device interface {
	// Init connects to the device. Status changes after Init are reported
	// through sink.
	Init(ctx context.Context, sink EventSink) error

	// Terminate disconnects and releases resources.
	Terminate(ctx context.Context) error

	// ConvertTimelineStateToDeviceState projects the device's slice of a
	// resolved state. mappings only contains this device's layers.
	ConvertTimelineStateToDeviceState(state timeline.ResolvedState, mappings timeline.Mappings) (State, error)

	// DiffStates returns the commands that move the device from oldState
	// to newState. oldState is nil when nothing has been applied yet.
	DiffStates(oldState, newState State, mappings timeline.Mappings) ([]Command, error)

	// SendCommand delivers one command.
	SendCommand(ctx context.Context, cmd Command) error

	// GetStatus returns the current device status.
	GetStatus() Status

	// Actions returns the out-of-band operations the device exposes.
	Actions() map[string]Action

	// MakeReady prepares the device for a show. When okToDestroyStuff is
	// true the device may clear whatever it is currently outputting.
	MakeReady(ctx context.Context, okToDestroyStuff bool) error

	// ClearFuture cancels commands the device has scheduled natively but
	// not yet executed. Best effort.
	ClearFuture(ctx context.Context) error
}

// EventSink receives notifications from a device.
type EventSink interface {
	// ConnectionChanged reports a new status.
	ConnectionChanged(status Status)

	// Warning reports a non-fatal problem.
	Warning(msg string)

	// Error reports a failure with a human-readable context.
	Error(context string, err error)
}

// ActionHandler runs an out-of-band action.
type ActionHandler func(ctx context.Context, payload map[string]any) (ActionResult, error)

// Action is an operation unrelated to the timeline, such as a manual
// trigger or a resync.
type Action struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Handler     ActionHandler `json:"-"`
}

// ActionResult is the outcome of an action.
type ActionResult struct {
	OK       bool   `json:"ok"`
	Message  string `json:"message,omitempty"`
	Response any    `json:"response,omitempty"`
}

// Options describes one device connection.
type Options struct {
	ID   string `json:"id" yaml:"id"`
	Type string `json:"type" yaml:"type"`

	// Isolated runs the device in its own supervised worker. Nil uses the
	// conductor's default.
	Isolated *bool `json:"isolated,omitempty" yaml:"isolated,omitempty"`

	// Settings are protocol-specific and passed to the factory untouched.
	Settings map[string]any `json:"settings,omitempty" yaml:"settings,omitempty"`
}

// NopSink discards device notifications.
type NopSink struct{}

func (NopSink) ConnectionChanged(Status) {}
func (NopSink) Warning(string)           {}
func (NopSink) Error(string, error)      {}

// GenerateID creates a new UUID for a device connection.
func GenerateID() string {
	return uuid.New().String()
}
