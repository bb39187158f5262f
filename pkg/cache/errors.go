package cache

import "errors"

// Error kinds surfaced by cache engines. A miss is not an error: lookups
// report misses as a false "found" result with a nil error.
var (
	// ErrStorageUnavailable indicates the durable store cannot be opened
	// or queried. Callers should fall back to direct computation.
	ErrStorageUnavailable = errors.New("cache storage unavailable")

	// ErrTimeout indicates a bounded store operation exceeded its
	// deadline. The operation may be retried.
	ErrTimeout = errors.New("cache operation timed out")

	// ErrSerialization indicates metadata or context could not be
	// canonicalized or encoded. Nothing was written.
	ErrSerialization = errors.New("cache serialization failed")

	// ErrCorruption indicates a stored row failed to decode into a valid
	// entry.
	ErrCorruption = errors.New("cache entry corrupted")
)
