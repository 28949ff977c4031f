package gpu

import "errors"

var (
	// ErrDeviceUnavailable is returned when the requested device cannot be used.
	ErrDeviceUnavailable = errors.New("gpu: device unavailable")

	// ErrAllocationFailure is returned when a device buffer cannot be allocated.
	ErrAllocationFailure = errors.New("gpu: allocation failed")

	// ErrNotInitialized is returned when a backend is used before Initialize.
	ErrNotInitialized = errors.New("gpu: backend not initialized")

	// ErrInvalidBuffer is returned for buffers that were freed or belong to another backend.
	ErrInvalidBuffer = errors.New("gpu: invalid buffer")

	// ErrUnsupportedPrecision is returned when a backend cannot accumulate in the requested precision.
	ErrUnsupportedPrecision = errors.New("gpu: unsupported precision")

	// ErrUnsupportedRank is returned when a backend cannot handle the kernel rank.
	ErrUnsupportedRank = errors.New("gpu: unsupported rank")
)
