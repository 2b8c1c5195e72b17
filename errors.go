package mosaic

import "errors"

// Sentinel errors returned by Service operations.
var (
	// ErrNotFound is returned when reading or deleting a cell that is
	// absent. Absence is an expected steady state (the cell renders as
	// background), so callers usually map this to a 404 rather than a
	// failure.
	ErrNotFound = errors.New("mosaic: cell not found")

	// ErrClosed is returned by operations on a closed Service.
	ErrClosed = errors.New("mosaic: service closed")
)
