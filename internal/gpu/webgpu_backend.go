//go:build webgpu
// +build webgpu

package gpu

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"unsafe"

	"github.com/fxnlabs/gpu-morphology/pkg/ndarray"
	"github.com/go-webgpu/webgpu/wgpu"
)

// maxWorkgroupsPerDim is the WebGPU limit on workgroups along one dispatch axis.
const maxWorkgroupsPerDim = 65535

// webgpuBuffer is a storage buffer of float32 values.
type webgpuBuffer struct {
	owner  *WebGPUBackend
	buffer *wgpu.Buffer
	n      int
	freed  bool
}

func (b *webgpuBuffer) Len() int { return b.n }

// WebGPUBackend implements GPUBackend with WGSL compute shaders through
// go-webgpu. WebGPU exposes a single default adapter, so only device 0 exists.
type WebGPUBackend struct {
	logger      *slog.Logger
	index       int
	initialized bool
	available   bool

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
	info     DeviceInfo

	// maxBinding caps every storage buffer in bytes
	maxBinding uint64

	// mu serializes queue submission and the pipeline cache
	mu        sync.Mutex
	pipelines map[string]*wgpu.ComputePipeline
	shaders   map[string]*wgpu.ShaderModule
	stats     bufferStats
}

// NewWebGPUBackend creates a new WebGPU backend instance
func NewWebGPUBackend(logger *slog.Logger, deviceIndex int) *WebGPUBackend {
	backend := &WebGPUBackend{
		logger:     logger,
		index:      deviceIndex,
		maxBinding: webgpuMaxStorageBinding,
		pipelines:  make(map[string]*wgpu.ComputePipeline),
		shaders:    make(map[string]*wgpu.ShaderModule),
	}

	if deviceIndex != 0 {
		logger.Warn("WebGPU exposes only the default adapter", "device", deviceIndex)
		return backend
	}
	backend.available = webgpuAdapterPresent()
	if !backend.available {
		logger.Warn("WebGPU adapter not available")
	}
	return backend
}

// webgpuAdapterPresent requests and drops an adapter. go-webgpu panics when
// the native library cannot be loaded, so the probe recovers.
func webgpuAdapterPresent() (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
		}
	}()

	instance := wgpu.CreateInstance(nil)
	defer instance.Release()

	adapter, err := instance.RequestAdapter(nil)
	if err != nil {
		return false
	}
	adapter.Release()
	return true
}

// Name returns "webgpu".
func (w *WebGPUBackend) Name() string { return BackendWebGPU }

// Initialize requests the adapter, device and queue.
func (w *WebGPUBackend) Initialize() (err error) {
	if !w.available {
		return fmt.Errorf("WebGPU device %d not available", w.index)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.initialized {
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("webgpu: native library not available: %v", r)
		}
	}()

	instance := wgpu.CreateInstance(nil)
	adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		PowerPreference: wgpu.PowerPreferenceHighPerformance,
	})
	if err != nil {
		instance.Release()
		return fmt.Errorf("webgpu: failed to request adapter: %w", err)
	}

	device, err := adapter.RequestDevice(nil)
	if err != nil {
		adapter.Release()
		instance.Release()
		return fmt.Errorf("webgpu: failed to request device: %w", err)
	}

	queue := device.GetQueue()
	if queue == nil {
		device.Release()
		adapter.Release()
		instance.Release()
		return fmt.Errorf("webgpu: failed to get queue")
	}

	adapterInfo := adapter.GetInfo()
	w.instance, w.adapter, w.device, w.queue = instance, adapter, device, queue
	w.info = DeviceInfo{
		Name:              fmt.Sprintf("WebGPU (%s %s)", adapterInfo.Device, adapterInfo.Vendor),
		Backend:           BackendWebGPU,
		Index:             w.index,
		ComputeCapability: "WGSL",
		DriverVersion:     adapterInfo.Description,
	}
	w.initialized = true
	w.logger.Info("WebGPU backend initialized", "device", w.info.Name)
	return nil
}

// Upload copies data into a new storage buffer.
func (w *WebGPUBackend) Upload(data []float32) (DeviceBuffer, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.initialized {
		return nil, ErrNotInitialized
	}
	if err := checkBufferSize(len(data), w.maxBinding); err != nil {
		return nil, err
	}
	return w.storageBufferLocked(float32Bytes(data), len(data)), nil
}

// Download reads a storage buffer back through a staging buffer.
func (w *WebGPUBackend) Download(buf DeviceBuffer) ([]float32, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	b, err := w.own(buf)
	if err != nil {
		return nil, err
	}
	if b.n == 0 {
		return []float32{}, nil
	}
	raw, err := w.readBufferLocked(b.buffer, uint64(b.n)*4)
	if err != nil {
		return nil, err
	}
	return bytesFloat32(raw), nil
}

// SupportsPrecision reports false for Int32; the shader accumulates in f32.
func (w *WebGPUBackend) SupportsPrecision(p Precision) bool { return p != Int32 }

// Correlate dispatches the correlation shader. Float16 weights are rounded
// on the host and accumulated in f32.
func (w *WebGPUBackend) Correlate(src DeviceBuffer, shape ndarray.Shape, kernel *ndarray.Kernel, p Precision) (DeviceBuffer, error) {
	if !w.SupportsPrecision(p) {
		return nil, fmt.Errorf("%w: webgpu backend accumulates in f32", ErrUnsupportedPrecision)
	}
	if shape.Rank() > MaxRank {
		return nil, fmt.Errorf("%w: %d > %d", ErrUnsupportedRank, shape.Rank(), MaxRank)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	in, err := w.own(src)
	if err != nil {
		return nil, err
	}
	if err := validateCorrelation(in.n, shape, kernel); err != nil {
		return nil, fmt.Errorf("webgpu correlate: %w", err)
	}
	if err := checkBufferSize(in.n, w.maxBinding); err != nil {
		return nil, err
	}
	if err := checkBufferSize(len(kernel.Weights()), w.maxBinding); err != nil {
		return nil, err
	}

	weights := p.RoundWeights(kernel.Weights())
	bufferWeights := w.createBufferLocked(float32Bytes(weights), wgpu.BufferUsageStorage)
	defer bufferWeights.Release()

	dims := make([]byte, 4*2*shape.Rank())
	for d := range shape {
		binary.LittleEndian.PutUint32(dims[4*d:], uint32(shape[d]))
		binary.LittleEndian.PutUint32(dims[4*(shape.Rank()+d):], uint32(kernel.Shape()[d]))
	}
	bufferDims := w.createBufferLocked(dims, wgpu.BufferUsageStorage)
	defer bufferDims.Release()

	out := w.emptyStorageBufferLocked(in.n)

	params := make([]byte, 16)
	binary.LittleEndian.PutUint32(params[0:4], uint32(in.n))
	binary.LittleEndian.PutUint32(params[4:8], uint32(shape.Rank()))
	binary.LittleEndian.PutUint32(params[8:12], uint32(len(weights)))
	bufferParams := w.createUniformBufferLocked(params)
	defer bufferParams.Release()

	size := uint64(in.n) * 4
	w.dispatchLocked("correlate", correlateShader, in.n, []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, in.buffer, 0, size),
		wgpu.BufferBindingEntry(1, bufferWeights, 0, uint64(len(weights))*4),
		wgpu.BufferBindingEntry(2, bufferDims, 0, uint64(len(dims))),
		wgpu.BufferBindingEntry(3, out.buffer, 0, size),
		wgpu.BufferBindingEntry(4, bufferParams, 0, 16),
	})
	return out, nil
}

// Threshold dispatches the threshold shader.
func (w *WebGPUBackend) Threshold(src DeviceBuffer, mode ThresholdMode, total float32) (DeviceBuffer, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	in, err := w.own(src)
	if err != nil {
		return nil, err
	}
	if err := checkBufferSize(in.n, w.maxBinding); err != nil {
		return nil, err
	}
	out := w.emptyStorageBufferLocked(in.n)

	params := make([]byte, 16)
	binary.LittleEndian.PutUint32(params[0:4], uint32(in.n))
	binary.LittleEndian.PutUint32(params[4:8], uint32(mode))
	binary.LittleEndian.PutUint32(params[8:12], math.Float32bits(total))
	bufferParams := w.createUniformBufferLocked(params)
	defer bufferParams.Release()

	size := uint64(in.n) * 4
	w.dispatchLocked("threshold", thresholdShader, in.n, []wgpu.BindGroupEntry{
		wgpu.BufferBindingEntry(0, in.buffer, 0, size),
		wgpu.BufferBindingEntry(1, out.buffer, 0, size),
		wgpu.BufferBindingEntry(2, bufferParams, 0, 16),
	})
	return out, nil
}

// Free releases the storage buffer. WebGPU has no allocator cache to keep.
func (w *WebGPUBackend) Free(buf DeviceBuffer) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	b, err := w.own(buf)
	if err != nil {
		return err
	}
	b.freed = true
	b.buffer.Release()
	b.buffer = nil
	w.stats.freed(int64(b.n) * 4)
	return nil
}

// EmptyCache is a no-op: Free releases storage buffers to the driver directly.
func (w *WebGPUBackend) EmptyCache() error {
	return nil
}

// MemoryStats reports buffer accounting.
func (w *WebGPUBackend) MemoryStats() MemoryStats {
	return w.stats.snapshot()
}

// GetDeviceInfo returns adapter information.
func (w *WebGPUBackend) GetDeviceInfo() DeviceInfo {
	return w.info
}

// IsAvailable reports whether an adapter was found.
func (w *WebGPUBackend) IsAvailable() bool {
	return w.available
}

// Cleanup releases pipelines, shaders and the device.
func (w *WebGPUBackend) Cleanup() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.initialized {
		return nil
	}

	for name, p := range w.pipelines {
		p.Release()
		delete(w.pipelines, name)
	}
	for name, s := range w.shaders {
		s.Release()
		delete(w.shaders, name)
	}
	w.queue.Release()
	w.device.Release()
	w.adapter.Release()
	w.instance.Release()
	w.queue, w.device, w.adapter, w.instance = nil, nil, nil, nil
	w.initialized = false
	return nil
}

// dispatchLocked submits shader over n elements. Queue order guarantees the
// work completes before any later Download maps its output.
func (w *WebGPUBackend) dispatchLocked(name, code string, n int, entries []wgpu.BindGroupEntry) {
	pipeline := w.pipelineLocked(name, code)

	bindGroupLayout := pipeline.GetBindGroupLayout(0)
	bindGroup := w.device.CreateBindGroupSimple(bindGroupLayout, entries)
	defer bindGroup.Release()

	encoder := w.device.CreateCommandEncoder(nil)
	computePass := encoder.BeginComputePass(nil)
	computePass.SetPipeline(pipeline)
	computePass.SetBindGroup(0, bindGroup, nil)

	groups := (n + workgroupSize - 1) / workgroupSize
	groupsX := min(groups, maxWorkgroupsPerDim)
	groupsY := (groups + maxWorkgroupsPerDim - 1) / maxWorkgroupsPerDim
	computePass.DispatchWorkgroups(uint32(max(groupsX, 1)), uint32(max(groupsY, 1)), 1)
	computePass.End()

	cmdBuffer := encoder.Finish(nil)
	w.queue.Submit(cmdBuffer)
}

func (w *WebGPUBackend) pipelineLocked(name, code string) *wgpu.ComputePipeline {
	if pipeline, ok := w.pipelines[name]; ok {
		return pipeline
	}
	shader, ok := w.shaders[name]
	if !ok {
		shader = w.device.CreateShaderModuleWGSL(code)
		w.shaders[name] = shader
	}
	pipeline := w.device.CreateComputePipelineSimple(nil, shader, "main")
	w.pipelines[name] = pipeline
	return pipeline
}

// storageBufferLocked uploads data into a tracked storage buffer of n floats.
func (w *WebGPUBackend) storageBufferLocked(data []byte, n int) *webgpuBuffer {
	buffer := w.createBufferLocked(data, wgpu.BufferUsageStorage|wgpu.BufferUsageCopySrc|wgpu.BufferUsageCopyDst)
	w.stats.allocated(int64(n) * 4)
	return &webgpuBuffer{owner: w, buffer: buffer, n: n}
}

func (w *WebGPUBackend) emptyStorageBufferLocked(n int) *webgpuBuffer {
	buffer := w.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageStorage | wgpu.BufferUsageCopySrc | wgpu.BufferUsageCopyDst,
		Size:  alignedSize(uint64(n) * 4),
	})
	w.stats.allocated(int64(n) * 4)
	return &webgpuBuffer{owner: w, buffer: buffer, n: n}
}

// createBufferLocked creates a GPU buffer with initial data via MappedAtCreation.
func (w *WebGPUBackend) createBufferLocked(data []byte, usage wgpu.BufferUsage) *wgpu.Buffer {
	size := alignedSize(uint64(len(data)))
	buffer := w.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage:            usage,
		Size:             size,
		MappedAtCreation: wgpu.True,
	})

	mappedPtr := buffer.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice over the mapped range
	mapped := unsafe.Slice((*byte)(mappedPtr), size)
	copy(mapped, data)
	buffer.Unmap()
	return buffer
}

// createUniformBufferLocked creates a 16-byte aligned uniform buffer.
func (w *WebGPUBackend) createUniformBufferLocked(data []byte) *wgpu.Buffer {
	return w.createBufferLocked(data, wgpu.BufferUsageUniform|wgpu.BufferUsageCopyDst)
}

// readBufferLocked copies src into a MapRead staging buffer and reads it.
func (w *WebGPUBackend) readBufferLocked(src *wgpu.Buffer, size uint64) ([]byte, error) {
	staging := w.device.CreateBuffer(&wgpu.BufferDescriptor{
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
		Size:  size,
	})
	defer staging.Release()

	encoder := w.device.CreateCommandEncoder(nil)
	encoder.CopyBufferToBuffer(src, 0, staging, 0, size)
	w.queue.Submit(encoder.Finish(nil))

	if err := staging.MapAsync(w.device, wgpu.MapModeRead, 0, size); err != nil {
		return nil, fmt.Errorf("failed to map staging buffer: %w", err)
	}
	mappedPtr := staging.GetMappedRange(0, size)
	//nolint:gosec // unsafe.Slice over the mapped range
	mapped := unsafe.Slice((*byte)(mappedPtr), size)
	out := make([]byte, size)
	copy(out, mapped)
	staging.Unmap()
	return out, nil
}

func (w *WebGPUBackend) own(buf DeviceBuffer) (*webgpuBuffer, error) {
	b, ok := buf.(*webgpuBuffer)
	if !ok || b == nil || b.owner != w {
		return nil, fmt.Errorf("%w: not a buffer of this webgpu backend", ErrInvalidBuffer)
	}
	if b.freed {
		return nil, fmt.Errorf("%w: buffer already freed", ErrInvalidBuffer)
	}
	return b, nil
}

// alignedSize rounds up to 16 bytes; zero-sized bindings are invalid.
func alignedSize(size uint64) uint64 {
	if size == 0 {
		return 16
	}
	return (size + 15) &^ 15
}

func float32Bytes(data []float32) []byte {
	out := make([]byte, 4*len(data))
	for i, v := range data {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(v))
	}
	return out
}

func bytesFloat32(raw []byte) []float32 {
	out := make([]float32, len(raw)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
	}
	return out
}
