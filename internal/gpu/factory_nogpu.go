//go:build !cuda && !webgpu
// +build !cuda,!webgpu

package gpu

import (
	"log/slog"
)

// NewGPUBackend creates an appropriate backend based on available hardware
// Without GPU support, it will always return CPU backend
func NewGPUBackend(logger *slog.Logger, deviceIndex int) GPUBackend {
	// Only CPU backend available
	logger.Info("Using CPU backend (compiled without GPU support)")
	return NewCPUBackend(logger)
}
