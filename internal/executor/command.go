package executor

import "time"

// Mode selects the lane a command runs on.
type Mode string

const (
	// ModeSalvo runs the command in parallel with the batch's other salvo
	// commands. It is the default.
	ModeSalvo Mode = "salvo"

	// ModeSequential runs the command in order within its queue.
	ModeSequential Mode = "sequential"
)

// DefaultQueue is the queue used by sequential commands without a QueueID.
const DefaultQueue = "default"

// Command is one device command with its dispatch metadata.
type Command struct {
	// ID is assigned by the executor when empty.
	ID string `json:"id"`

	// Payload is the device-specific command body.
	Payload any `json:"payload"`

	// Context is a human-readable cause, used in logs and error events.
	Context string `json:"context"`

	// TimelineObjID traces the command back to the timeline object.
	TimelineObjID string `json:"timeline_obj_id,omitempty"`

	Mode        Mode          `json:"mode,omitempty"`
	Preliminary time.Duration `json:"preliminary,omitempty"`
	QueueID     string        `json:"queue_id,omitempty"`
}

// IsSequential reports whether the command runs on the sequential lane.
func (c Command) IsSequential() bool {
	return c.Mode == ModeSequential
}

// Queue returns the sequential queue of the command.
func (c Command) Queue() string {
	if c.QueueID == "" {
		return DefaultQueue
	}
	return c.QueueID
}

// MaxPreliminary returns the largest lead time in cmds.
func MaxPreliminary(cmds []Command) time.Duration {
	var longest time.Duration
	for _, c := range cmds {
		if c.Preliminary > longest {
			longest = c.Preliminary
		}
	}
	return longest
}
