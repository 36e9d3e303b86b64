package executor

import "errors"

var (
	// ErrSendPanic is returned to the result callback when the send
	// function panics.
	ErrSendPanic = errors.New("executor: send panicked")

	// ErrClosed is returned by Execute after Close.
	ErrClosed = errors.New("executor: closed")
)
