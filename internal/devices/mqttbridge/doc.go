// Package mqttbridge is a device integration that delegates the wire
// protocol to a remote bridge process over MQTT.
//
// The conductor side keeps the device contract: it projects mapped layers
// onto bridge addresses, diffs them into set and clear commands and
// publishes those as JSON. The bridge speaks the actual protocol (a video
// server, a vision mixer, a lighting desk) and reports its health back.
//
// # Topics
//
//	conductor/command/{protocol}/{device_id}   set/clear commands (QoS 1)
//	conductor/request/{protocol}/{device_id}   clear_future, make_ready, resync
//	conductor/status/{protocol}/{device_id}    bridge health (retained)
//
// # Mapping options
//
//	address          bridge address a layer drives (default: the layer name)
//	preliminary_ms   command lead time in milliseconds
//
// Commands for one address are sequential; different addresses run
// independently of each other.
package mqttbridge
