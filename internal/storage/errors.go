package storage

import "errors"

// Sentinel errors for storage operations.
var (
	// ErrClosed is returned when operations are attempted on a closed store.
	ErrClosed = errors.New("storage: store is closed")
)
