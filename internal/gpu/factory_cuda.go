//go:build cuda && !webgpu
// +build cuda,!webgpu

package gpu

import (
	"log/slog"
)

// NewGPUBackend creates an appropriate backend based on available hardware
// It will try CUDA first, then fall back to CPU
func NewGPUBackend(logger *slog.Logger, deviceIndex int) GPUBackend {
	cudaBackend := NewCUDABackend(logger, deviceIndex)
	if cudaBackend.IsAvailable() {
		logger.Info("Using CUDA GPU backend", "device", deviceIndex)
		return cudaBackend
	}

	// Fall back to CPU
	logger.Info("Using CPU backend (no GPU available)")
	return NewCPUBackend(logger)
}
