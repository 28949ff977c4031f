package gpu

import (
	"errors"
	"log/slog"
	"math/rand"
	"sync"
	"testing"

	"github.com/fxnlabs/gpu-morphology/pkg/ndarray"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func TestCPUBackend_Initialize(t *testing.T) {
	logger := slog.Default()
	backend := NewCPUBackend(logger)

	// CPU backend should always be available
	assert.True(t, backend.IsAvailable())
	assert.Equal(t, "cpu", backend.Name())

	err := backend.Initialize()
	assert.NoError(t, err)
	assert.True(t, backend.initialized)

	info := backend.GetDeviceInfo()
	assert.Contains(t, info.Name, "CPU")
	assert.Equal(t, "cpu", info.Backend)
	assert.Greater(t, info.TotalMemory, int64(0))
	assert.Equal(t, "N/A", info.ComputeCapability)

	// Test double initialization (should be idempotent)
	err = backend.Initialize()
	assert.NoError(t, err)

	err = backend.Cleanup()
	assert.NoError(t, err)
	assert.False(t, backend.initialized)
}

func TestCPUBackend_Conformance(t *testing.T) {
	backend := NewCPUBackend(slog.Default())
	require.NoError(t, backend.Initialize())
	defer backend.Cleanup()

	runBackendConformance(t, backend)
}

func TestCPUBackend_Precision(t *testing.T) {
	backend := NewCPUBackend(slog.Default())
	require.NoError(t, backend.Initialize())
	defer backend.Cleanup()

	kernel, err := ndarray.NewKernel(ndarray.Shape{1}, []float32{0.1})
	require.NoError(t, err)

	t.Run("float32 keeps weights", func(t *testing.T) {
		got := correlate(t, backend, []float32{1}, ndarray.Shape{1}, kernel, Float32)
		assert.Equal(t, float32(0.1), got[0])
	})

	t.Run("float16 rounds weights", func(t *testing.T) {
		got := correlate(t, backend, []float32{1}, ndarray.Shape{1}, kernel, Float16)
		assert.Equal(t, float16.Fromfloat32(0.1).Float32(), got[0])
		assert.NotEqual(t, float32(0.1), got[0])
	})

	t.Run("float16 partial sums round", func(t *testing.T) {
		// 2048 + 1 is not representable in half precision
		big, err := ndarray.NewKernel(ndarray.Shape{3}, []float32{2048, 1, 0})
		require.NoError(t, err)
		got := correlate(t, backend, []float32{1, 1, 1}, ndarray.Shape{3}, big, Float16)
		assert.Equal(t, float32(2048), got[1])

		got = correlate(t, backend, []float32{1, 1, 1}, ndarray.Shape{3}, big, Float32)
		assert.Equal(t, float32(2049), got[1])
	})

	t.Run("int32 truncates weights", func(t *testing.T) {
		frac, err := ndarray.NewKernel(ndarray.Shape{1}, []float32{2.7})
		require.NoError(t, err)
		got := correlate(t, backend, []float32{1}, ndarray.Shape{1}, frac, Int32)
		assert.Equal(t, float32(2), got[0])
	})
}

func TestCPUBackend_Cache(t *testing.T) {
	backend := NewCPUBackend(slog.Default())
	require.NoError(t, backend.Initialize())
	defer backend.Cleanup()

	buf, err := backend.Upload([]float32{1, 2, 3, 4})
	require.NoError(t, err)
	require.NoError(t, backend.Free(buf))

	stats := backend.MemoryStats()
	assert.Equal(t, int64(0), stats.ActiveBuffers)
	assert.Equal(t, int64(16), stats.CachedBytes)
	assert.Equal(t, int64(16), stats.PeakBytes)

	// a cache hit must come back zeroed
	out, err := backend.Threshold(mustUpload(t, backend, []float32{0, 0, 0, 0}), ThresholdPositive, 0)
	require.NoError(t, err)
	got, err := backend.Download(out)
	require.NoError(t, err)
	assert.Equal(t, []float32{0, 0, 0, 0}, got)

	require.NoError(t, backend.EmptyCache())
	assert.Equal(t, int64(0), backend.MemoryStats().CachedBytes)
}

func TestCPUBackend_NotInitialized(t *testing.T) {
	backend := NewCPUBackend(slog.Default())

	assert.False(t, backend.initialized)
	_, err := backend.Upload([]float32{1})
	assert.True(t, errors.Is(err, ErrNotInitialized))
}

func TestCPUBackend_Concurrent(t *testing.T) {
	backend := NewCPUBackend(slog.Default())
	require.NoError(t, backend.Initialize())
	defer backend.Cleanup()

	shape := ndarray.Shape{16, 16, 16}
	kernel := ndarray.Ones(3, 3, 3)
	rng := rand.New(rand.NewSource(1))
	inputs := make([][]float32, 8)
	for i := range inputs {
		inputs[i] = randomBinary(rng, shape.Size(), 0.3)
	}

	var wg sync.WaitGroup
	results := make([][]float32, len(inputs))
	for i := range inputs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			in, err := backend.Upload(inputs[i])
			if err != nil {
				return
			}
			defer backend.Free(in)
			out, err := backend.Correlate(in, shape, kernel, Float32)
			if err != nil {
				return
			}
			defer backend.Free(out)
			results[i], _ = backend.Download(out)
		}()
	}
	wg.Wait()

	for i := range inputs {
		assert.Equal(t, referenceCorrelate(inputs[i], shape, kernel), results[i], "input %d", i)
	}
	assert.Equal(t, int64(0), backend.MemoryStats().ActiveBuffers)
}

func mustUpload(t *testing.T, backend GPUBackend, data []float32) DeviceBuffer {
	t.Helper()
	buf, err := backend.Upload(data)
	require.NoError(t, err)
	return buf
}
