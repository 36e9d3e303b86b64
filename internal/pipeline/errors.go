package pipeline

import "errors"

var (
	// ErrDevicePanic wraps a panic raised by device convert or diff code.
	ErrDevicePanic = errors.New("pipeline: device code panicked")

	// ErrStopped is returned by HandleState after Stop.
	ErrStopped = errors.New("pipeline: stopped")
)
