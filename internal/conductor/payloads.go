package conductor

import (
	"github.com/nerrad567/conductor/internal/device"
	"github.com/nerrad567/conductor/internal/pipeline"
	"github.com/nerrad567/conductor/internal/worker"
)

// MessagePayload is the data of info, warning and debug events.
type MessagePayload struct {
	DeviceID string `json:"device_id,omitempty"`
	Message  string `json:"message"`
}

// ErrorPayload is the data of error events. Err holds one of the typed
// errors of this package when the failure is classified.
type ErrorPayload struct {
	DeviceID string `json:"device_id,omitempty"`
	Context  string `json:"context"`
	Message  string `json:"error"`
	Err      error  `json:"-"`
}

// Callback is the data of a timelineCallback event.
type Callback struct {
	Time     int64  `json:"time"`
	ObjectID string `json:"object_id"`
	Name     string `json:"name"`
	Data     any    `json:"data,omitempty"`
	Active   bool   `json:"active"`
}

// ResolveDonePayload is the data of a resolveDone event.
type ResolveDonePayload struct {
	Time           int64    `json:"time"`
	DurationMs     int64    `json:"duration_ms"`
	NextEventTime  int64    `json:"next_event_time,omitempty"`
	States         int      `json:"states"`
	DevicesUpdated []string `json:"devices_updated,omitempty"`
}

// CommandPayload is the data of commandReport and commandError events.
type CommandPayload struct {
	DeviceID      string `json:"device_id"`
	CommandID     string `json:"command_id"`
	Context       string `json:"context,omitempty"`
	TimelineObjID string `json:"timeline_obj_id,omitempty"`
	Mode          string `json:"mode,omitempty"`
	QueueID       string `json:"queue_id,omitempty"`
	Payload       any    `json:"payload,omitempty"`
	DurationMs    int64  `json:"duration_ms"`
	Error         string `json:"error,omitempty"`
}

// ConnectionPayload is the data of a connectionChanged event.
type ConnectionPayload struct {
	DeviceID string        `json:"device_id"`
	Status   device.Status `json:"status"`
}

// DevicePayload is the data of deviceAdded and deviceRemoved events.
type DevicePayload struct {
	DeviceID string `json:"device_id"`
	Type     string `json:"type"`
}

// DeviceInfo describes one connected device.
type DeviceInfo struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Isolated bool           `json:"isolated"`
	Status   device.Status  `json:"status"`
	Pipeline pipeline.Stats `json:"pipeline"`
	Worker   *worker.Stats  `json:"worker,omitempty"`
}

// EventDeviceID returns the device an event payload is about, or "" for
// conductor-wide events.
func EventDeviceID(data any) string {
	switch p := data.(type) {
	case MessagePayload:
		return p.DeviceID
	case ErrorPayload:
		return p.DeviceID
	case CommandPayload:
		return p.DeviceID
	case ConnectionPayload:
		return p.DeviceID
	case DevicePayload:
		return p.DeviceID
	default:
		return ""
	}
}
