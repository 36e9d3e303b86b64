package worker

import "errors"

var (
	// ErrCallTimeout is returned when the actor does not answer in time.
	ErrCallTimeout = errors.New("worker: call timed out")

	// ErrWorkerRestarting is returned for calls made while the actor is down.
	ErrWorkerRestarting = errors.New("worker: restarting")

	// ErrWorkerStopped is returned for calls after Terminate or after the
	// restart limit was reached.
	ErrWorkerStopped = errors.New("worker: stopped")

	// ErrWorkerCrashed wraps the panic that brought an actor down.
	ErrWorkerCrashed = errors.New("worker: device crashed")
)
