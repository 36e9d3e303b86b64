// Package store persists the host side of the conductor: the timeline,
// the layer mappings and a log of executed device commands.
//
// The conductor itself keeps no durable state. When it binds a "now"
// start it publishes setTimelineTriggerTime, and the host is expected to
// write the concrete time back so later resolves see a literal. Attach
// performs that write-back against this store and feeds the updated
// timeline to the conductor.
package store
