// Package device defines the contract every device integration implements
// and the registry of device factories.
//
// The conductor never speaks a device protocol itself. It hands each device
// the slice of the resolved timeline that maps to it and relies on the
// integration to project that into its own state, diff two states into
// commands, and send those commands.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────────────┐
//	│                            Conductor                                  │
//	│                                                                       │
//	│   ResolvedState ──▶ ConvertTimelineStateToDeviceState ──▶ State       │
//	│                                                             │         │
//	│   baseline State ─────────────┬─────────────────────────────┘         │
//	│                               ▼                                       │
//	│                          DiffStates ──▶ []Command ──▶ executor        │
//	│                                                          │            │
//	└──────────────────────────────────────────────────────────│────────────┘
//	                                                           ▼
//	                                                     SendCommand
//	                                                   (protocol layer)
//
// # Contract
//
//   - ConvertTimelineStateToDeviceState and DiffStates are pure: they must
//     not depend on wall-clock time or mutate their inputs.
//   - DiffStates must accept a nil old state and return a from-scratch
//     command list. Diffing two equal states returns no commands.
//   - SendCommand is the only operation with side effects on the device.
//
// # Usage
//
//	registry := device.NewRegistry()
//	registry.SetLogger(log)
//	if err := registry.Register("abstract", abstract.Factory); err != nil {
//	    return err
//	}
//	dev, err := registry.Create("abstract", "dev0", nil)
//
// # Thread Safety
//
// The Registry is safe for concurrent use. Device implementations are
// called from one pipeline goroutine at a time for convert and diff, but
// SendCommand may be called concurrently by the executor's salvo lane.
package device
