package gpu

import "fmt"

// webgpuMaxStorageBinding is the WebGPU default maxStorageBufferBindingSize.
// Devices are requested without required limits, so it is the limit the
// device enforces. It is below the default maxBufferSize.
const webgpuMaxStorageBinding = 128 << 20

// checkBufferSize returns ErrAllocationFailure when a buffer of n float32
// elements cannot be bound as storage under limit bytes.
func checkBufferSize(n int, limit uint64) error {
	if bytes := uint64(n) * 4; bytes > limit {
		return fmt.Errorf("%w: %d bytes exceeds storage binding limit of %d", ErrAllocationFailure, bytes, limit)
	}
	return nil
}
