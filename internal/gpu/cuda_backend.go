//go:build cuda
// +build cuda

package gpu

/*
#cgo CFLAGS: -I${SRCDIR}/../../cuda
#cgo LDFLAGS: -L${SRCDIR}/../../cuda -lmorph_cuda -lcudart -lstdc++
#include "morph.h"
#include <stdlib.h>
*/
import "C"
import (
	"fmt"
	"log/slog"
	"sync"
	"unsafe"

	"github.com/fxnlabs/gpu-morphology/pkg/ndarray"
)

// cudaBuffer is a cudaMalloc'd float array.
type cudaBuffer struct {
	owner *CUDABackend
	ptr   *C.float
	n     int
	freed bool
}

func (b *cudaBuffer) Len() int { return b.n }

// CUDABackend implements GPUBackend using NVIDIA CUDA
type CUDABackend struct {
	logger      *slog.Logger
	index       int
	initialized bool
	deviceInfo  DeviceInfo
	available   bool

	// mu serializes every runtime call. Each call selects index itself since
	// the runtime's current device is per OS thread.
	mu    sync.Mutex
	cache map[int][]*C.float
	live  map[*cudaBuffer]struct{}
	stats bufferStats
}

// NewCUDABackend creates a new CUDA backend instance for the given device
func NewCUDABackend(logger *slog.Logger, deviceIndex int) *CUDABackend {
	backend := &CUDABackend{
		logger: logger,
		index:  deviceIndex,
		cache:  make(map[int][]*C.float),
		live:   make(map[*cudaBuffer]struct{}),
	}

	// Check if CUDA is available
	if err := backend.checkDevice(); err != nil {
		logger.Warn("CUDA device not available", "device", deviceIndex, "error", err)
		backend.available = false
	} else {
		backend.available = true
	}

	return backend
}

// Name returns "cuda".
func (c *CUDABackend) Name() string { return BackendCUDA }

// Initialize prepares the CUDA backend for use
func (c *CUDABackend) Initialize() error {
	if !c.available {
		return fmt.Errorf("CUDA device %d not available", c.index)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		return nil
	}

	c.logger.Debug("Initializing CUDA backend", "device", c.index)

	result := C.morph_cuda_init(C.int(c.index))
	if result != C.cudaSuccess {
		return fmt.Errorf("failed to initialize CUDA: %v", cudaErrorString(result))
	}

	var info C.MorphDeviceInfo
	result = C.morph_cuda_device_info(C.int(c.index), &info)
	if result != C.cudaSuccess {
		return fmt.Errorf("failed to get device info: %v", cudaErrorString(result))
	}

	c.deviceInfo = DeviceInfo{
		Name:              C.GoString(&info.name[0]),
		Backend:           BackendCUDA,
		Index:             c.index,
		TotalMemory:       int64(info.total_memory),
		AvailableMemory:   int64(info.free_memory),
		ComputeCapability: fmt.Sprintf("%d.%d", int(info.major), int(info.minor)),
		DriverVersion:     formatCUDAVersion(int(info.driver_version)),
		CUDAVersion:       formatCUDAVersion(int(info.runtime_version)),
	}

	c.initialized = true
	c.logger.Info("CUDA backend initialized",
		"device", c.deviceInfo.Name,
		"compute_capability", c.deviceInfo.ComputeCapability,
		"total_memory_gb", float64(c.deviceInfo.TotalMemory)/(1<<30))

	return nil
}

// Upload copies data into a new device buffer.
func (c *CUDABackend) Upload(data []float32) (DeviceBuffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	buf, err := c.allocLocked(len(data))
	if err != nil {
		return nil, err
	}
	if len(data) > 0 {
		result := C.morph_cuda_upload(c.device(), buf.ptr, (*C.float)(unsafe.Pointer(&data[0])), C.size_t(len(data)))
		if result != C.cudaSuccess {
			c.freeLocked(buf)
			return nil, fmt.Errorf("CUDA upload failed: %v", cudaErrorString(result))
		}
	}
	return buf, nil
}

// Download copies a device buffer back to host memory.
func (c *CUDABackend) Download(buf DeviceBuffer) ([]float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, err := c.own(buf)
	if err != nil {
		return nil, err
	}
	out := make([]float32, b.n)
	if b.n > 0 {
		result := C.morph_cuda_download(c.device(), (*C.float)(unsafe.Pointer(&out[0])), b.ptr, C.size_t(b.n))
		if result != C.cudaSuccess {
			return nil, fmt.Errorf("CUDA download failed: %v", cudaErrorString(result))
		}
	}
	return out, nil
}

// SupportsPrecision reports false for Int32; the kernels accumulate in float.
func (c *CUDABackend) SupportsPrecision(p Precision) bool { return p != Int32 }

// Correlate runs the structuring-element correlation kernel.
// Float16 is accumulated in float32, which is exact wherever float16 is.
func (c *CUDABackend) Correlate(src DeviceBuffer, shape ndarray.Shape, kernel *ndarray.Kernel, p Precision) (DeviceBuffer, error) {
	if !c.SupportsPrecision(p) {
		return nil, fmt.Errorf("%w: cuda backend accumulates in floating point", ErrUnsupportedPrecision)
	}
	if shape.Rank() > MaxRank {
		return nil, fmt.Errorf("%w: %d > %d", ErrUnsupportedRank, shape.Rank(), MaxRank)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	in, err := c.own(src)
	if err != nil {
		return nil, err
	}
	if err := validateCorrelation(in.n, shape, kernel); err != nil {
		return nil, fmt.Errorf("cuda correlate: %w", err)
	}

	var dims C.MorphDims
	dims.rank = C.int(shape.Rank())
	for d := range shape {
		dims.shape[d] = C.int(shape[d])
		dims.kshape[d] = C.int(kernel.Shape()[d])
	}
	weights := p.RoundWeights(kernel.Weights())

	out, err := c.allocLocked(in.n)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("Performing CUDA correlation", "shape", shape.String(), "kernel", kernel.Shape().String())
	result := C.morph_cuda_correlate(c.device(), in.ptr, out.ptr, C.size_t(in.n),
		(*C.float)(unsafe.Pointer(&weights[0])), C.int(len(weights)), dims)
	if result != C.cudaSuccess {
		c.freeLocked(out)
		return nil, fmt.Errorf("CUDA correlation failed: %v", cudaErrorString(result))
	}
	return out, nil
}

// Threshold maps src to 0/1 values on the device.
func (c *CUDABackend) Threshold(src DeviceBuffer, mode ThresholdMode, total float32) (DeviceBuffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	in, err := c.own(src)
	if err != nil {
		return nil, err
	}
	out, err := c.allocLocked(in.n)
	if err != nil {
		return nil, err
	}
	result := C.morph_cuda_threshold(c.device(), in.ptr, out.ptr, C.size_t(in.n), C.int(mode), C.float(total))
	if result != C.cudaSuccess {
		c.freeLocked(out)
		return nil, fmt.Errorf("CUDA threshold failed: %v", cudaErrorString(result))
	}
	return out, nil
}

// Free returns a buffer to the allocation cache.
func (c *CUDABackend) Free(buf DeviceBuffer) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	b, err := c.own(buf)
	if err != nil {
		return err
	}
	c.freeLocked(b)
	return nil
}

// EmptyCache returns every cached allocation to the driver.
func (c *CUDABackend) EmptyCache() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.emptyCacheLocked()
}

func (c *CUDABackend) emptyCacheLocked() error {
	var firstErr error
	for n, ptrs := range c.cache {
		for _, ptr := range ptrs {
			if result := C.morph_cuda_free(c.device(), ptr); result != C.cudaSuccess && firstErr == nil {
				firstErr = fmt.Errorf("CUDA free failed: %v", cudaErrorString(result))
			}
		}
		delete(c.cache, n)
	}
	c.stats.cachedBytes.Store(0)
	if result := C.morph_cuda_synchronize(c.device()); result != C.cudaSuccess && firstErr == nil {
		firstErr = fmt.Errorf("CUDA synchronize failed: %v", cudaErrorString(result))
	}
	return firstErr
}

// MemoryStats reports buffer accounting.
func (c *CUDABackend) MemoryStats() MemoryStats {
	return c.stats.snapshot()
}

// GetDeviceInfo returns information about the CUDA device
func (c *CUDABackend) GetDeviceInfo() DeviceInfo {
	return c.deviceInfo
}

// IsAvailable checks if CUDA is available
func (c *CUDABackend) IsAvailable() bool {
	return c.available
}

// Cleanup releases CUDA resources
func (c *CUDABackend) Cleanup() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return nil
	}

	c.logger.Debug("Cleaning up CUDA backend", "device", c.index, "live_buffers", len(c.live))

	// The primary context is shared with every other backend on this
	// device, so only this backend's own allocations are returned.
	for b := range c.live {
		c.freeLocked(b)
	}
	if err := c.emptyCacheLocked(); err != nil {
		return err
	}

	c.initialized = false
	return nil
}

func (c *CUDABackend) allocLocked(n int) (*cudaBuffer, error) {
	if !c.initialized {
		return nil, ErrNotInitialized
	}
	bytes := int64(n) * 4
	if ptrs := c.cache[n]; len(ptrs) > 0 {
		ptr := ptrs[len(ptrs)-1]
		c.cache[n] = ptrs[:len(ptrs)-1]
		c.stats.cachedBytes.Add(-bytes)
		c.stats.allocated(bytes)
		return c.track(&cudaBuffer{owner: c, ptr: ptr, n: n}), nil
	}

	var ptr *C.float
	if n > 0 {
		result := C.morph_cuda_alloc(c.device(), &ptr, C.size_t(n))
		if result != C.cudaSuccess {
			return nil, fmt.Errorf("%w: %d bytes: %v", ErrAllocationFailure, bytes, cudaErrorString(result))
		}
	}
	c.stats.allocated(bytes)
	return c.track(&cudaBuffer{owner: c, ptr: ptr, n: n}), nil
}

func (c *CUDABackend) freeLocked(b *cudaBuffer) {
	delete(c.live, b)
	b.freed = true
	bytes := int64(b.n) * 4
	c.stats.freed(bytes)
	if b.ptr != nil {
		c.cache[b.n] = append(c.cache[b.n], b.ptr)
		c.stats.cachedBytes.Add(bytes)
	}
	b.ptr = nil
}

func (c *CUDABackend) track(b *cudaBuffer) *cudaBuffer {
	c.live[b] = struct{}{}
	return b
}

func (c *CUDABackend) device() C.int { return C.int(c.index) }

// pointerDevice reports the device that owns buf.
func (c *CUDABackend) pointerDevice(buf DeviceBuffer) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	b, err := c.own(buf)
	if err != nil {
		return -1, err
	}
	var device C.int
	if result := C.morph_cuda_pointer_device(b.ptr, &device); result != C.cudaSuccess {
		return -1, fmt.Errorf("CUDA pointer query failed: %v", cudaErrorString(result))
	}
	return int(device), nil
}

func (c *CUDABackend) own(buf DeviceBuffer) (*cudaBuffer, error) {
	b, ok := buf.(*cudaBuffer)
	if !ok || b == nil || b.owner != c {
		return nil, fmt.Errorf("%w: not a buffer of this cuda backend", ErrInvalidBuffer)
	}
	if b.freed {
		return nil, fmt.Errorf("%w: buffer already freed", ErrInvalidBuffer)
	}
	return b, nil
}

// checkDevice verifies that the requested CUDA device exists
func (c *CUDABackend) checkDevice() error {
	count, err := cudaDeviceCount()
	if err != nil {
		return err
	}
	if c.index >= count {
		return fmt.Errorf("device index %d out of range (%d devices)", c.index, count)
	}
	return nil
}

func cudaDeviceCount() (int, error) {
	var count C.int
	if result := C.morph_cuda_device_count(&count); result != C.cudaSuccess {
		return 0, fmt.Errorf("CUDA device check failed: %v", cudaErrorString(result))
	}
	return int(count), nil
}

// cudaErrorString converts CUDA error code to string
func cudaErrorString(err C.cudaError_t) string {
	switch err {
	case C.cudaSuccess:
		return "Success"
	case C.cudaErrorInvalidValue:
		return "Invalid value"
	case C.cudaErrorMemoryAllocation:
		return "Memory allocation failed"
	case C.cudaErrorInitializationError:
		return "Initialization error"
	case C.cudaErrorInsufficientDriver:
		return "Insufficient driver"
	case C.cudaErrorNoDevice:
		return "No CUDA device"
	case C.cudaErrorInvalidDevice:
		return "Invalid device ordinal"
	default:
		return fmt.Sprintf("Unknown error (%d)", int(err))
	}
}

// formatCUDAVersion renders the runtime's 1000*major + 10*minor encoding
func formatCUDAVersion(v int) string {
	if v == 0 {
		return "Unknown"
	}
	return fmt.Sprintf("%d.%d", v/1000, (v%1000)/10)
}
