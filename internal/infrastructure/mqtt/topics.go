package mqtt

import "fmt"

// Topic prefixes. Device topics use the flat scheme
// conductor/{category}/{device_type}/{device_id}.
const (
	// TopicPrefix is the base for all conductor topics.
	TopicPrefix = "conductor"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "conductor/system"

	// TopicPrefixEvent is the base for forwarded conductor events.
	TopicPrefixEvent = "conductor/event"
)

// Topics provides builders for conductor MQTT topics.
// Using these helpers keeps the conductor and its bridges in agreement:
//
//	topics := mqtt.Topics{}
//	cmdTopic := topics.DeviceCommand("casparcg", "ch1")
//	// Returns: "conductor/command/casparcg/ch1"
type Topics struct{}

// =============================================================================
// Device Topics
// =============================================================================

// DeviceCommand returns the topic commands are published to for a bridge.
//
// Example: conductor/command/casparcg/ch1
func (Topics) DeviceCommand(deviceType, deviceID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, deviceType, deviceID)
}

// DeviceStatus returns the topic a bridge publishes its status on.
//
// Example: conductor/status/casparcg/ch1
func (Topics) DeviceStatus(deviceType, deviceID string) string {
	return fmt.Sprintf("%s/status/%s/%s", TopicPrefix, deviceType, deviceID)
}

// DeviceRequest returns the topic for out-of-band requests to a bridge
// (clear_future, make_ready, actions).
//
// Example: conductor/request/casparcg/ch1
func (Topics) DeviceRequest(deviceType, deviceID string) string {
	return fmt.Sprintf("%s/request/%s/%s", TopicPrefix, deviceType, deviceID)
}

// =============================================================================
// System Topics
// =============================================================================

// SystemStatus returns the system status topic.
//
// Example: conductor/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// Event returns the topic a conductor event is forwarded to.
//
// Example: conductor/event/commandError
func (Topics) Event(eventType string) string {
	return fmt.Sprintf("%s/%s", TopicPrefixEvent, eventType)
}

// =============================================================================
// Wildcard Patterns for Subscriptions
// =============================================================================

// AllDeviceStatuses returns a pattern matching every bridge status.
//
// Pattern: conductor/status/+/+
func (Topics) AllDeviceStatuses() string {
	return fmt.Sprintf("%s/status/+/+", TopicPrefix)
}

// AllDeviceCommands returns a pattern matching every bridge command.
//
// Pattern: conductor/command/+/+
func (Topics) AllDeviceCommands() string {
	return fmt.Sprintf("%s/command/+/+", TopicPrefix)
}

// AllEvents returns a pattern matching every forwarded event.
//
// Pattern: conductor/event/+
func (Topics) AllEvents() string {
	return fmt.Sprintf("%s/+", TopicPrefixEvent)
}

// AllTopics returns a pattern matching all conductor topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: conductor/#
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}
