// Package worker runs a device integration inside a supervised actor.
//
// A Worker implements device.Device by forwarding every call as a message
// to a dedicated goroutine that owns the real device. A panic in device
// code crashes only that actor; the supervisor recreates the device from
// its factory and initialises it again after a delay. Calls that do not
// complete within the call timeout fail with ErrCallTimeout, so a hung
// protocol implementation cannot stall the conductor.
//
// Features:
//   - Message-passing isolation behind the device contract
//   - Automatic restart on crash with configurable delay and attempt limit
//   - Per-call timeout
//   - Status and restart statistics
//
// Example usage:
//
//	w := worker.New("atem0", func() (device.Device, error) {
//	    return registry.Create("atem", "atem0", settings)
//	}, worker.Config{
//	    RestartOnFailure:   true,
//	    RestartDelay:       time.Second,
//	    MaxRestartAttempts: 10,
//	    CallTimeout:        5 * time.Second,
//	})
//	if err := w.Init(ctx, sink); err != nil {
//	    return err
//	}
//	defer w.Terminate(ctx)
//
// Calls are serialised through the actor, including SendCommand.
package worker
