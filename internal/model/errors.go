package model

import "errors"

// Error kinds shared across packages. Callers wrap them with %w and
// inspect them with errors.Is.
var (
	// ErrNoData means a provider returned nothing usable for a symbol:
	// empty result, malformed fields or a permanent lookup failure.
	ErrNoData = errors.New("no data")

	// ErrTransient means the call failed for a reason that may clear on the
	// next cycle (timeout, connection reset, 5xx, rate limit).
	ErrTransient = errors.New("transient failure")

	// ErrInsufficientHistory means fewer bars than the longest window in use.
	ErrInsufficientHistory = errors.New("insufficient history")

	// ErrStoreUnavailable means the position store cannot be reached at all.
	ErrStoreUnavailable = errors.New("position store unavailable")

	// ErrDuplicatePosition means an OPEN position already exists for the
	// same strategy and symbol.
	ErrDuplicatePosition = errors.New("duplicate open position")

	ErrNotFound = errors.New("not found")

	// ErrConflict means a compare-and-swap update lost to a concurrent writer.
	ErrConflict = errors.New("version conflict")
)
