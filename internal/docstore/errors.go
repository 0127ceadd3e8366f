package docstore

import "errors"

var (
	// ErrInvalidPath is returned when a path cannot be resolved to the
	// requested kind of reference.
	ErrInvalidPath = errors.New("invalid path")

	// ErrInvalidQuery is returned for malformed constraints.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrClosed is returned by stores after Close.
	ErrClosed = errors.New("store closed")
)
