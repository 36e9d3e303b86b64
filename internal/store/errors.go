package store

import "errors"

var (
	// ErrInvalidObject is returned when a timeline object fails validation.
	ErrInvalidObject = errors.New("store: invalid timeline object")

	// ErrDuplicateObject is returned when a timeline repeats an object ID.
	ErrDuplicateObject = errors.New("store: duplicate timeline object")

	// ErrInvalidMapping is returned when a mapping has no device.
	ErrInvalidMapping = errors.New("store: invalid mapping")
)
