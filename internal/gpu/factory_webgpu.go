//go:build webgpu && !cuda
// +build webgpu,!cuda

package gpu

import (
	"log/slog"
)

// NewGPUBackend creates an appropriate backend based on available hardware
// It will try WebGPU first, then fall back to CPU
func NewGPUBackend(logger *slog.Logger, deviceIndex int) GPUBackend {
	webgpuBackend := NewWebGPUBackend(logger, deviceIndex)
	if webgpuBackend.IsAvailable() {
		logger.Info("Using WebGPU backend", "device", deviceIndex)
		return webgpuBackend
	}

	// Fall back to CPU
	logger.Info("Using CPU backend (no GPU available)")
	return NewCPUBackend(logger)
}
