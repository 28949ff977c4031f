//go:build webgpu && cuda
// +build webgpu,cuda

package gpu

import (
	"log/slog"
)

// NewGPUBackend creates an appropriate backend based on available hardware
// When both CUDA and WebGPU are compiled in, prefer CUDA
func NewGPUBackend(logger *slog.Logger, deviceIndex int) GPUBackend {
	cudaBackend := NewCUDABackend(logger, deviceIndex)
	if cudaBackend.IsAvailable() {
		logger.Info("Using CUDA GPU backend", "device", deviceIndex)
		return cudaBackend
	}

	webgpuBackend := NewWebGPUBackend(logger, deviceIndex)
	if webgpuBackend.IsAvailable() {
		logger.Info("Using WebGPU backend", "device", deviceIndex)
		return webgpuBackend
	}

	// Fall back to CPU
	logger.Info("Using CPU backend (no GPU available)")
	return NewCPUBackend(logger)
}
