package gpu

import (
	"github.com/fxnlabs/gpu-morphology/pkg/ndarray"
)

// DeviceInfo contains information about the compute device
type DeviceInfo struct {
	Name              string `json:"name"`
	Backend           string `json:"backend"`
	Index             int    `json:"index"`
	TotalMemory       int64  `json:"totalMemory"`     // in bytes
	AvailableMemory   int64  `json:"availableMemory"` // in bytes
	ComputeCapability string `json:"computeCapability"`
	DriverVersion     string `json:"driverVersion"`
	CUDAVersion       string `json:"cudaVersion,omitempty"`
}

// DeviceBuffer is a float32 buffer resident in a backend's memory.
// A buffer is only valid on the backend that allocated it.
type DeviceBuffer interface {
	// Len returns the number of float32 elements.
	Len() int
}

// ThresholdMode selects the comparison applied by GPUBackend.Threshold.
type ThresholdMode int

const (
	// ThresholdPositive keeps elements strictly greater than zero (dilation).
	ThresholdPositive ThresholdMode = iota
	// ThresholdEqual keeps elements exactly equal to the total weight (erosion).
	ThresholdEqual
)

func (m ThresholdMode) String() string {
	switch m {
	case ThresholdPositive:
		return "positive"
	case ThresholdEqual:
		return "equal"
	default:
		return "unknown"
	}
}

// GPUBackend defines the interface for morphology compute backends.
// This interface allows for multiple device implementations (CUDA, WebGPU, CPU)
// behind one structuring-element correlation API.
//
// Implementation notes:
// - Every buffer returned by Upload, Correlate or Threshold is owned by the
//   caller and must be passed to Free exactly once
// - Backends must be safe for concurrent use
// - Freed buffers may be cached; EmptyCache returns cached memory to the device
type GPUBackend interface {
	// Name returns the backend identifier ("cpu", "cuda", "webgpu").
	Name() string

	// Upload allocates a device buffer and copies data into it.
	Upload(data []float32) (DeviceBuffer, error)

	// Download copies a device buffer back to host memory.
	// The operation blocks until all work writing the buffer has completed.
	Download(buf DeviceBuffer) ([]float32, error)

	// Correlate computes the zero-padded cross-correlation of src (laid out
	// row-major with the given shape) with kernel, into a new buffer of the
	// same shape:
	//
	//   out[p] = sum over o of src[p + o - center] * kernel[o]
	//
	// Positions outside src read as zero. The kernel rank must equal the
	// shape rank and every kernel extent must be odd.
	Correlate(src DeviceBuffer, shape ndarray.Shape, kernel *ndarray.Kernel, p Precision) (DeviceBuffer, error)

	// SupportsPrecision reports whether Correlate accepts p.
	SupportsPrecision(p Precision) bool

	// Threshold maps src to a new 0/1 buffer using mode; total is only used
	// by ThresholdEqual.
	Threshold(src DeviceBuffer, mode ThresholdMode, total float32) (DeviceBuffer, error)

	// Free releases a buffer. Freeing a buffer twice returns ErrInvalidBuffer.
	Free(buf DeviceBuffer) error

	// EmptyCache releases memory held for reuse by freed buffers.
	EmptyCache() error

	// MemoryStats reports buffer accounting for leak checks and metrics.
	MemoryStats() MemoryStats

	// GetDeviceInfo returns information about the device
	GetDeviceInfo() DeviceInfo

	// IsAvailable checks if the backend is available for use
	// This should perform a quick check without heavy initialization
	IsAvailable() bool

	// Initialize prepares the backend for use
	// Should be called once before first use
	Initialize() error

	// Cleanup releases any resources held by the backend
	// Must be called when the backend is no longer needed
	Cleanup() error
}
