//go:build webgpu
// +build webgpu

package gpu

// tryCreateWebGPUBackend attempts to create a WebGPU backend when webgpu build tag is present
func (m *Manager) tryCreateWebGPUBackend() GPUBackend {
	return NewWebGPUBackend(m.logger, m.index)
}
