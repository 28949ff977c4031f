package gpu

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/fxnlabs/gpu-morphology/pkg/ndarray"
)

// cpuBuffer is host memory standing in for a device allocation.
type cpuBuffer struct {
	owner *CPUBackend
	data  []float32
	freed bool
}

func (b *cpuBuffer) Len() int { return len(b.data) }

// CPUBackend implements GPUBackend in host memory. It keeps freed buffers in
// a per-length cache the way device allocators do, so the buffer lifecycle
// (and EmptyCache) behaves the same as on an accelerator.
type CPUBackend struct {
	logger      *slog.Logger
	index       int
	initialized bool

	mu    sync.Mutex
	cache map[int][][]float32
	stats bufferStats
}

// NewCPUBackend creates a new CPU backend instance
func NewCPUBackend(logger *slog.Logger) *CPUBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &CPUBackend{
		logger: logger,
		cache:  make(map[int][][]float32),
	}
}

// Name returns "cpu".
func (c *CPUBackend) Name() string { return "cpu" }

// Initialize prepares the CPU backend for use
func (c *CPUBackend) Initialize() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		return nil
	}
	c.initialized = true
	c.logger.Info("CPU backend initialized", "workers", runtime.GOMAXPROCS(0))
	return nil
}

// Cleanup drops the buffer cache. Buffers still held by callers stay valid Go memory.
func (c *CPUBackend) Cleanup() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropCacheLocked()
	c.initialized = false
	return nil
}

// IsAvailable checks if the backend is available (always true for CPU)
func (c *CPUBackend) IsAvailable() bool {
	return true
}

// GetDeviceInfo returns device information for CPU
func (c *CPUBackend) GetDeviceInfo() DeviceInfo {
	total := getTotalSystemMemory()
	return DeviceInfo{
		Name:              fmt.Sprintf("CPU (%s)", runtime.GOARCH),
		Backend:           c.Name(),
		Index:             c.index,
		TotalMemory:       total,
		AvailableMemory:   total - c.stats.activeBytes.Load(),
		ComputeCapability: "N/A",
		DriverVersion:     runtime.Version(),
	}
}

// MemoryStats reports buffer accounting.
func (c *CPUBackend) MemoryStats() MemoryStats {
	return c.stats.snapshot()
}

// Upload copies data into a new buffer.
func (c *CPUBackend) Upload(data []float32) (DeviceBuffer, error) {
	buf, err := c.alloc(len(data))
	if err != nil {
		return nil, err
	}
	copy(buf.data, data)
	return buf, nil
}

// Download copies a buffer back to a fresh host slice.
func (c *CPUBackend) Download(buf DeviceBuffer) ([]float32, error) {
	b, err := c.own(buf)
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(b.data))
	copy(out, b.data)
	return out, nil
}

// SupportsPrecision reports true for every precision.
func (c *CPUBackend) SupportsPrecision(Precision) bool { return true }

// Correlate runs the structuring-element correlation on host goroutines.
func (c *CPUBackend) Correlate(src DeviceBuffer, shape ndarray.Shape, kernel *ndarray.Kernel, p Precision) (DeviceBuffer, error) {
	in, err := c.own(src)
	if err != nil {
		return nil, err
	}
	if err := validateCorrelation(len(in.data), shape, kernel); err != nil {
		return nil, fmt.Errorf("cpu correlate: %w", err)
	}

	out, err := c.alloc(len(in.data))
	if err != nil {
		return nil, err
	}
	if err := correlateCPU(out.data, in.data, shape, kernel, p); err != nil {
		_ = c.Free(out)
		return nil, fmt.Errorf("cpu correlate: %w", err)
	}
	return out, nil
}

// Threshold maps src to 0/1 values.
func (c *CPUBackend) Threshold(src DeviceBuffer, mode ThresholdMode, total float32) (DeviceBuffer, error) {
	in, err := c.own(src)
	if err != nil {
		return nil, err
	}
	out, err := c.alloc(len(in.data))
	if err != nil {
		return nil, err
	}
	thresholdCPU(out.data, in.data, mode, total)
	return out, nil
}

// Free returns the buffer to the cache.
func (c *CPUBackend) Free(buf DeviceBuffer) error {
	b, err := c.own(buf)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if b.freed {
		return fmt.Errorf("%w: double free", ErrInvalidBuffer)
	}
	b.freed = true
	bytes := int64(len(b.data)) * 4
	c.stats.freed(bytes)
	c.cache[len(b.data)] = append(c.cache[len(b.data)], b.data)
	c.stats.cachedBytes.Add(bytes)
	b.data = nil
	return nil
}

// EmptyCache releases every cached buffer.
func (c *CPUBackend) EmptyCache() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropCacheLocked()
	return nil
}

func (c *CPUBackend) dropCacheLocked() {
	clear(c.cache)
	c.stats.cachedBytes.Store(0)
}

func (c *CPUBackend) alloc(n int) (*cpuBuffer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.initialized {
		return nil, ErrNotInitialized
	}

	bytes := int64(n) * 4
	var data []float32
	if free := c.cache[n]; len(free) > 0 {
		data = free[len(free)-1]
		c.cache[n] = free[:len(free)-1]
		c.stats.cachedBytes.Add(-bytes)
		clear(data)
	} else {
		data = make([]float32, n)
	}
	c.stats.allocated(bytes)
	return &cpuBuffer{owner: c, data: data}, nil
}

func (c *CPUBackend) own(buf DeviceBuffer) (*cpuBuffer, error) {
	b, ok := buf.(*cpuBuffer)
	if !ok || b == nil || b.owner != c {
		return nil, fmt.Errorf("%w: not a buffer of this cpu backend", ErrInvalidBuffer)
	}
	if b.freed {
		return nil, fmt.Errorf("%w: buffer already freed", ErrInvalidBuffer)
	}
	return b, nil
}

// getTotalSystemMemory returns the memory the Go runtime has obtained from the OS.
func getTotalSystemMemory() int64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return int64(ms.Sys)
}
