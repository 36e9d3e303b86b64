// Package api provides the HTTP control surface and WebSocket event stream
// of the conductor.
//
// It exposes the timeline, mappings and device connections to operators
// and automation, and relays conductor events to subscribed WebSocket
// clients.
//
// The server follows the same lifecycle pattern as other infrastructure
// components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
