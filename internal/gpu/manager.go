package gpu

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

// Backend names accepted by NewManager.
const (
	BackendAuto   = "auto"
	BackendCPU    = "cpu"
	BackendCUDA   = "cuda"
	BackendWebGPU = "webgpu"
)

// Manager handles backend selection and lifecycle for one device
type Manager struct {
	backend GPUBackend
	mu      sync.RWMutex
	logger  *slog.Logger
	index   int
}

// NewManager selects and initializes the backend named by backend on the
// device with the given index. An explicitly named backend that cannot be
// used fails with ErrDeviceUnavailable; only BackendAuto falls back to CPU.
func NewManager(logger *slog.Logger, backend string, deviceIndex int) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if deviceIndex < 0 {
		return nil, fmt.Errorf("%w: negative device index %d", ErrDeviceUnavailable, deviceIndex)
	}

	m := &Manager{
		logger: logger,
		index:  deviceIndex,
	}

	if err := m.detectAndInitialize(strings.ToLower(strings.TrimSpace(backend))); err != nil {
		return nil, err
	}

	return m, nil
}

// detectAndInitialize creates and initializes the requested backend
func (m *Manager) detectAndInitialize(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch name {
	case BackendCPU:
		if m.index != 0 {
			return fmt.Errorf("%w: cpu backend has only device 0, got %d", ErrDeviceUnavailable, m.index)
		}
		return m.useLocked(NewCPUBackend(m.logger))
	case BackendCUDA:
		return m.useLocked(m.tryCreateCUDABackend())
	case BackendWebGPU:
		return m.useLocked(m.tryCreateWebGPUBackend())
	case BackendAuto, "":
		backend := NewGPUBackend(m.logger, m.index)
		err := m.useLocked(backend)
		if _, isCPU := backend.(*CPUBackend); err == nil || isCPU {
			return err
		}
		m.logger.Warn("GPU backend failed to initialize, falling back to CPU", "backend", backend.Name(), "error", err)
		return m.useLocked(NewCPUBackend(m.logger))
	default:
		return fmt.Errorf("%w: unknown backend %q", ErrDeviceUnavailable, name)
	}
}

func (m *Manager) useLocked(backend GPUBackend) error {
	if backend == nil || !backend.IsAvailable() {
		return fmt.Errorf("%w: backend not compiled in or no device present", ErrDeviceUnavailable)
	}
	if err := backend.Initialize(); err != nil {
		// If initialization failed, try cleanup
		_ = backend.Cleanup()
		return fmt.Errorf("%w: failed to initialize %s backend: %v", ErrDeviceUnavailable, backend.Name(), err)
	}
	m.backend = backend
	return nil
}

// GetBackend returns the current backend
func (m *Manager) GetBackend() GPUBackend {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.backend
}

// GetDeviceInfo returns device information from the current backend
func (m *Manager) GetDeviceInfo() DeviceInfo {
	backend := m.GetBackend()
	if backend == nil {
		return DeviceInfo{Name: "No backend available"}
	}
	return backend.GetDeviceInfo()
}

// IsGPUAvailable returns true if an accelerator backend is active
func (m *Manager) IsGPUAvailable() bool {
	backend := m.GetBackend()
	if backend == nil {
		return false
	}
	_, isCPU := backend.(*CPUBackend)
	return !isCPU
}

// Cleanup releases resources held by the current backend
func (m *Manager) Cleanup() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.backend != nil {
		if err := m.backend.Cleanup(); err != nil {
			return err
		}
		m.backend = nil
	}
	return nil
}

// GetBackendType returns a string describing the current backend type
func (m *Manager) GetBackendType() string {
	backend := m.GetBackend()
	if backend == nil {
		return "none"
	}
	return backend.Name()
}

// DeviceIndex returns the device index the manager was created for.
func (m *Manager) DeviceIndex() int {
	return m.index
}
