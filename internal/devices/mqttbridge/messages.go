package mqttbridge

import (
	"time"

	"github.com/nerrad567/conductor/internal/device"
)

// Command names.
const (
	CommandSet   = "set"
	CommandClear = "clear"
)

// Request actions.
const (
	RequestClearFuture = "clear_future"
	RequestMakeReady   = "make_ready"
	RequestResync      = "resync"
)

// CommandMessage is published to the bridge for every device command.
type CommandMessage struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	DeviceID  string    `json:"device_id"`

	// Command is CommandSet or CommandClear.
	Command string `json:"command"`

	// Address is the bridge-side output the command applies to.
	Address string `json:"address"`

	ObjectID string         `json:"object_id,omitempty"`
	Layer    string         `json:"layer,omitempty"`
	Content  map[string]any `json:"content,omitempty"`
}

// RequestMessage asks the bridge for an out-of-band operation.
type RequestMessage struct {
	RequestID  string         `json:"request_id"`
	Timestamp  time.Time      `json:"timestamp"`
	DeviceID   string         `json:"device_id"`
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// HealthStatus is the operational status a bridge reports.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthOffline   HealthStatus = "offline"
	HealthStarting  HealthStatus = "starting"
	HealthStopping  HealthStatus = "stopping"
)

// HealthMessage is published by the bridge on its status topic.
type HealthMessage struct {
	Timestamp time.Time    `json:"timestamp"`
	Status    HealthStatus `json:"status"`
	Version   string       `json:"version,omitempty"`
	Reason    string       `json:"reason,omitempty"`
}

// DeviceStatus converts a health report into a device status.
func (h HealthMessage) DeviceStatus() device.Status {
	s := device.Status{}
	switch h.Status {
	case HealthHealthy:
		s.Code = device.StatusGood
		s.Active = true
	case HealthDegraded, HealthStarting:
		s.Code = device.StatusWarning
		s.Active = true
	case HealthUnhealthy, HealthOffline, HealthStopping:
		s.Code = device.StatusBad
	default:
		s.Code = device.StatusUnknown
	}
	if h.Reason != "" {
		s.Messages = []string{h.Reason}
	} else if s.Code != device.StatusGood {
		s.Messages = []string{"bridge " + string(h.Status)}
	}
	return s
}
