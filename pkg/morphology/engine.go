package morphology

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/fxnlabs/gpu-morphology/internal/gpu"
	"github.com/fxnlabs/gpu-morphology/pkg/config"
	"github.com/fxnlabs/gpu-morphology/pkg/ndarray"
	"go.uber.org/zap"
)

type (
	// Precision is the accumulation format of the structuring-element correlation.
	Precision = gpu.Precision
	// DeviceInfo describes the device an Engine runs on.
	DeviceInfo = gpu.DeviceInfo
	// MemoryStats is the backend's device buffer accounting.
	MemoryStats = gpu.MemoryStats
)

const (
	Float32 = gpu.Float32
	Float16 = gpu.Float16
	Int32   = gpu.Int32
)

// Backend names accepted in Options.
const (
	BackendAuto   = gpu.BackendAuto
	BackendCPU    = gpu.BackendCPU
	BackendCUDA   = gpu.BackendCUDA
	BackendWebGPU = gpu.BackendWebGPU
)

// ParsePrecision converts "float16", "float32" or "int32" to a Precision.
func ParsePrecision(s string) (Precision, error) {
	return gpu.ParsePrecision(s)
}

// Options selects the device and accumulation precision of an Engine.
type Options struct {
	// Backend is "auto", "cpu", "cuda" or "webgpu". Empty means auto.
	// Only auto falls back to the CPU when no accelerator is usable.
	Backend string
	// DeviceIndex selects the device within the backend.
	DeviceIndex int
	Precision   Precision
}

// OptionsFromConfig builds Options from the device and precision settings.
func OptionsFromConfig(cfg *config.Config) (Options, error) {
	if err := cfg.Validate(); err != nil {
		return Options{}, err
	}
	p, err := cfg.ParsedPrecision()
	if err != nil {
		return Options{}, err
	}
	return Options{
		Backend:     cfg.Device.Backend,
		DeviceIndex: cfg.Device.Index,
		Precision:   p,
	}, nil
}

// Engine runs morphology operations on one device. It is safe for
// concurrent use; the backend serializes device access.
type Engine struct {
	manager   *gpu.Manager
	backend   gpu.GPUBackend
	precision Precision
	log       *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// New selects and initializes the device described by opts.
func New(opts Options, log *zap.Logger) (*Engine, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("morphology")

	switch opts.Precision {
	case Float32, Float16, Int32:
	default:
		return nil, fmt.Errorf("morphology: unknown precision %v", opts.Precision)
	}

	manager, err := gpu.NewManager(slog.Default(), opts.Backend, opts.DeviceIndex)
	if err != nil {
		log.Error("Failed to create device manager", zap.String("backend", opts.Backend), zap.Int("device", opts.DeviceIndex), zap.Error(err))
		return nil, err
	}

	backend := manager.GetBackend()
	if err := checkPrecision(backend, opts.Precision); err != nil {
		log.Error("Precision not supported by backend", zap.String("backend", backend.Name()), zap.Error(err))
		if cerr := manager.Cleanup(); cerr != nil {
			log.Warn("Failed to clean up device manager", zap.Error(cerr))
		}
		return nil, err
	}

	info := manager.GetDeviceInfo()
	log.Info("Morphology backend initialized",
		zap.String("backend", manager.GetBackendType()),
		zap.String("device", info.Name),
		zap.Int("index", manager.DeviceIndex()),
		zap.Stringer("precision", opts.Precision))

	if info.CUDAVersion != "" {
		log.Info("CUDA information",
			zap.String("cuda_version", info.CUDAVersion),
			zap.String("driver_version", info.DriverVersion),
			zap.String("compute_capability", info.ComputeCapability),
			zap.Int64("total_memory_mb", info.TotalMemory/(1024*1024)),
			zap.Int64("available_memory_mb", info.AvailableMemory/(1024*1024)))
	}

	return &Engine{
		manager:   manager,
		backend:   backend,
		precision: opts.Precision,
		log:       log,
	}, nil
}

func checkPrecision(backend gpu.GPUBackend, p Precision) error {
	if !backend.SupportsPrecision(p) {
		return fmt.Errorf("%w: %s on %s backend", ErrUnsupportedPrecision, p, backend.Name())
	}
	return nil
}

// Backend returns the name of the active backend.
func (e *Engine) Backend() string { return e.backend.Name() }

// DeviceInfo describes the active device.
func (e *Engine) DeviceInfo() DeviceInfo { return e.backend.GetDeviceInfo() }

// Precision returns the accumulation precision.
func (e *Engine) Precision() Precision { return e.precision }

// MemoryStats returns the backend's buffer accounting. After every
// operation has returned, ActiveBuffers is zero unless DeviceVolumes
// are still held.
func (e *Engine) MemoryStats() MemoryStats { return e.backend.MemoryStats() }

// Close releases the device. DeviceVolumes uploaded to the engine become
// unusable. Close is idempotent.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	e.log.Debug("Closing morphology engine", zap.String("backend", e.backend.Name()))
	return e.manager.Cleanup()
}

// Upload copies a host array to the device.
func (e *Engine) Upload(b *ndarray.Bool) (*DeviceVolume, error) {
	if b == nil {
		return nil, fmt.Errorf("%w: nil array", ErrInvalidArray)
	}
	if err := b.Shape().Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArray, err)
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrClosed
	}

	buf, err := e.backend.Upload(b.Float32())
	if err != nil {
		return nil, err
	}
	e.publishMemory()
	return &DeviceVolume{engine: e, shape: b.Shape().Clone(), buf: buf}, nil
}
