// Package clock provides the injectable time source used by the conductor.
//
// The resolve loop, the per-device pipeline tick and the executor's
// lead-time waits all read time and arm timers through a Clock instead of
// the time package, so tests can drive scheduling deterministically and
// hosts can plug in an externally synchronised time source.
//
// # Usage
//
//	c := clock.Real()
//	timer := c.AfterFunc(200*time.Millisecond, resolve)
//	defer timer.Stop()
//
// In tests:
//
//	fake := clock.Fake(time.UnixMilli(10000))
//	fake.Advance(1000 * time.Millisecond) // fires due timers synchronously
//
// # Thread Safety
//
// Both implementations are safe for concurrent use.
package clock
