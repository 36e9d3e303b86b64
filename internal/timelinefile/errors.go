package timelinefile

import "errors"

var (
	// ErrInvalidDocument is returned when a document fails validation.
	ErrInvalidDocument = errors.New("timelinefile: invalid document")

	// ErrEmptyPath is returned when no file is configured.
	ErrEmptyPath = errors.New("timelinefile: empty path")
)
