// Package conductor keeps every connected device's state pipeline filled
// with the correct future states of a timeline.
//
// # Architecture
//
//	┌──────────────────────────────────────────────────────────────────────┐
//	│                             Conductor                                 │
//	│                                                                       │
//	│  SetTimelineAndMappings ──▶ resolve loop (single goroutine)           │
//	│                                │                                      │
//	│                                ▼                                      │
//	│       bind "now" ──▶ Resolver ──▶ states at t0 and next events        │
//	│                                │                                      │
//	│               callbacks ◀──────┼──────▶ trigger times                 │
//	│                                ▼                                      │
//	│                   partition by mapping.DeviceID                       │
//	│                  ┌─────────────┼─────────────┐                        │
//	│                  ▼             ▼             ▼                        │
//	│              pipeline      pipeline      pipeline                     │
//	│              (device A)    (device B)    (device C)                   │
//	└──────────────────────────────────────────────────────────────────────┘
//
// Each resolve computes the state at the target time plus the states at
// upcoming event times within a look-ahead horizon, so several
// transitions are queued per pass. A device only receives states when its
// own projection (layers plus its own mappings) differs from what was last
// sent to it; from the first divergence on, the queued future is replaced.
//
// After every pass the loop re-arms a single timer using
// CalculateResolveTime: near-term events get a short re-check interval,
// distant ones the maximum. Requests arriving while a pass runs are
// coalesced into one follow-up pass. A resolver failure is reported as an
// error event and the timer is re-armed as usual.
//
// # Events
//
// Hosts subscribe through the events.Bus. Objects whose start is "now"
// are bound to the resolve time once, and reported in a
// setTimelineTriggerTime event that the host must write back into its
// stored timeline.
//
// # Thread Safety
//
// All exported methods are safe for concurrent use.
package conductor
