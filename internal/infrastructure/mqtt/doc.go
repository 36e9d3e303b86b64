// Package mqtt connects the conductor to an MQTT broker.
//
// Devices whose wire protocol lives in a separate bridge process are
// driven over MQTT: the conductor publishes commands and requests, the
// bridge answers with retained status reports. Conductor events are
// mirrored on the same broker for passive observers.
//
//	Conductor ↔ MQTT Broker ↔ Protocol Bridges
//
// The client reconnects on its own and restores its subscriptions. The
// conductor's own presence is announced retained on conductor/system/status,
// with a Last Will so bridges learn about a crash.
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topic := mqtt.Topics{}.DeviceCommand("casparcg", "ch1")
//	err = client.Publish(topic, payload, 1, false)
package mqtt
