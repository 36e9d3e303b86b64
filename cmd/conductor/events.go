package main

import (
	"encoding/json"

	"github.com/nerrad567/conductor/internal/events"
	"github.com/nerrad567/conductor/internal/infrastructure/logging"
	"github.com/nerrad567/conductor/internal/infrastructure/mqtt"
)

// publisher is the subset of the MQTT client used to mirror events.
type publisher interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// forwardedEvents are mirrored to MQTT. Debug chatter stays local.
var forwardedEvents = []events.Type{
	events.Info,
	events.Warning,
	events.Error,
	events.TimelineCallback,
	events.ResolveDone,
	events.CommandReport,
	events.CommandError,
	events.ConnectionChanged,
	events.DeviceAdded,
	events.DeviceRemoved,
}

// forwardEvents publishes conductor events on conductor/event/{type} so
// other systems can follow the show without polling the API. Returns the
// unsubscribe function.
func forwardEvents(bus *events.Bus, pub publisher, log *logging.Logger) func() {
	topics := mqtt.Topics{}
	return bus.Subscribe(func(ev events.Event) {
		payload, err := json.Marshal(ev)
		if err != nil {
			log.Warn("failed to encode event for MQTT", "event", string(ev.Type), "error", err)
			return
		}
		// Connection changes are retained so late subscribers see the
		// current device health.
		retained := ev.Type == events.ConnectionChanged
		if err := pub.Publish(topics.Event(string(ev.Type)), payload, 0, retained); err != nil {
			log.Debug("event not forwarded to MQTT", "event", string(ev.Type), "error", err)
		}
	}, forwardedEvents...)
}
