package timeline

import "errors"

// Domain errors for the timeline package.
//
// Resolve failures wrap one of these so callers can classify them with
// errors.Is:
//
//	if errors.Is(err, timeline.ErrCircularReference) {
//	    // report the offending objects
//	}
var (
	// ErrInvalidExpression is returned when an enable expression cannot be parsed.
	ErrInvalidExpression = errors.New("timeline: invalid expression")

	// ErrUnknownReference is returned when an expression references an object
	// that is not in the timeline.
	ErrUnknownReference = errors.New("timeline: unknown reference")

	// ErrCircularReference is returned when reference expressions form a cycle.
	ErrCircularReference = errors.New("timeline: circular reference")

	// ErrMissingStart is returned when an enable window has no start.
	ErrMissingStart = errors.New("timeline: enable has no start")

	// ErrDuplicateID is returned when two objects share an id.
	ErrDuplicateID = errors.New("timeline: duplicate object id")

	// ErrInvalidObject is returned when an object fails validation.
	ErrInvalidObject = errors.New("timeline: invalid object")
)
