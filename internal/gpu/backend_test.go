package gpu

import (
	"errors"
	"math/rand"
	"testing"

	"github.com/fxnlabs/gpu-morphology/pkg/ndarray"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// referenceCorrelate is a direct per-coordinate evaluation of the
// zero-padded cross-correlation used to check the backends.
func referenceCorrelate(src []float32, shape ndarray.Shape, kernel *ndarray.Kernel) []float32 {
	out := make([]float32, len(src))
	kshape := kernel.Shape()
	pad := kernel.Padding()
	coord := make([]int, shape.Rank())
	kcoord := make([]int, kshape.Rank())
	at := make([]int, shape.Rank())

	for i := range out {
		shape.Unravel(i, coord)
		var acc float32
		for k, w := range kernel.Weights() {
			kshape.Unravel(k, kcoord)
			for d := range coord {
				at[d] = coord[d] + kcoord[d] - pad[d]
			}
			if off := shape.Offset(at...); off >= 0 {
				acc += src[off] * w
			}
		}
		out[i] = acc
	}
	return out
}

func randomBinary(rng *rand.Rand, n int, density float64) []float32 {
	out := make([]float32, n)
	for i := range out {
		if rng.Float64() < density {
			out[i] = 1
		}
	}
	return out
}

// correlate uploads src, runs Correlate and downloads the result, freeing
// every buffer it allocates.
func correlate(t *testing.T, backend GPUBackend, src []float32, shape ndarray.Shape, kernel *ndarray.Kernel, p Precision) []float32 {
	t.Helper()
	in, err := backend.Upload(src)
	require.NoError(t, err)
	defer func() { require.NoError(t, backend.Free(in)) }()

	out, err := backend.Correlate(in, shape, kernel, p)
	require.NoError(t, err)
	defer func() { require.NoError(t, backend.Free(out)) }()

	result, err := backend.Download(out)
	require.NoError(t, err)
	return result
}

// runBackendConformance checks the behaviour every GPUBackend must share.
// The backend must already be initialized.
func runBackendConformance(t *testing.T, backend GPUBackend) {
	t.Run("upload download roundtrip", func(t *testing.T) {
		data := []float32{0, 1, 2.5, -3}
		buf, err := backend.Upload(data)
		require.NoError(t, err)
		assert.Equal(t, 4, buf.Len())

		got, err := backend.Download(buf)
		require.NoError(t, err)
		assert.Equal(t, data, got)
		require.NoError(t, backend.Free(buf))
	})

	t.Run("correlate 1d", func(t *testing.T) {
		kernel, err := ndarray.NewKernel(ndarray.Shape{3}, []float32{1, 2, 3})
		require.NoError(t, err)

		got := correlate(t, backend, []float32{0, 1, 0, 0, 1}, ndarray.Shape{5}, kernel, Float32)
		assert.Equal(t, []float32{3, 2, 1, 3, 2}, got)
	})

	t.Run("correlate 2d zero padding", func(t *testing.T) {
		src := []float32{1, 1, 1, 1, 1, 1, 1, 1, 1}
		got := correlate(t, backend, src, ndarray.Shape{3, 3}, ndarray.Ones(3, 3), Float32)
		assert.Equal(t, []float32{4, 6, 4, 6, 9, 6, 4, 6, 4}, got)
	})

	t.Run("correlate kernel larger than input", func(t *testing.T) {
		got := correlate(t, backend, []float32{1, 1}, ndarray.Shape{2}, ndarray.Ones(7), Float32)
		assert.Equal(t, []float32{2, 2}, got)
	})

	t.Run("correlate matches reference on random volumes", func(t *testing.T) {
		rng := rand.New(rand.NewSource(7))
		cases := []struct {
			shape  ndarray.Shape
			kshape ndarray.Shape
		}{
			{ndarray.Shape{17}, ndarray.Shape{5}},
			{ndarray.Shape{9, 13}, ndarray.Shape{3, 5}},
			{ndarray.Shape{6, 7, 8}, ndarray.Shape{3, 3, 3}},
			{ndarray.Shape{32, 32, 16}, ndarray.Shape{5, 3, 1}},
			{ndarray.Shape{3, 4, 3, 4}, ndarray.Shape{3, 1, 3, 1}},
		}
		for _, tc := range cases {
			t.Run(tc.shape.String(), func(t *testing.T) {
				src := randomBinary(rng, tc.shape.Size(), 0.4)
				weights := randomBinary(rng, tc.kshape.Size(), 0.7)
				kernel, err := ndarray.NewKernel(tc.kshape, weights)
				require.NoError(t, err)

				got := correlate(t, backend, src, tc.shape, kernel, Float32)
				assert.Equal(t, referenceCorrelate(src, tc.shape, kernel), got)
			})
		}
	})

	t.Run("correlate rejects bad arguments", func(t *testing.T) {
		in, err := backend.Upload(make([]float32, 6))
		require.NoError(t, err)
		defer backend.Free(in)

		_, err = backend.Correlate(in, ndarray.Shape{2, 3}, ndarray.Ones(3), Float32)
		assert.Error(t, err, "rank mismatch")
		_, err = backend.Correlate(in, ndarray.Shape{2, 3}, ndarray.Ones(3, 2), Float32)
		assert.Error(t, err, "even extent")
		_, err = backend.Correlate(in, ndarray.Shape{7}, ndarray.Ones(3), Float32)
		assert.Error(t, err, "length mismatch")
	})

	t.Run("precision support matches correlate", func(t *testing.T) {
		in, err := backend.Upload([]float32{1, 1, 1})
		require.NoError(t, err)
		defer backend.Free(in)

		for _, p := range []Precision{Float32, Float16, Int32} {
			out, err := backend.Correlate(in, ndarray.Shape{3}, ndarray.Ones(3), p)
			if !backend.SupportsPrecision(p) {
				assert.True(t, errors.Is(err, ErrUnsupportedPrecision), "%s: %v", p, err)
				continue
			}
			require.NoError(t, err, p.String())
			got, err := backend.Download(out)
			require.NoError(t, err)
			assert.Equal(t, []float32{2, 3, 2}, got, p.String())
			require.NoError(t, backend.Free(out))
		}
		assert.True(t, backend.SupportsPrecision(Float32))
	})

	t.Run("threshold", func(t *testing.T) {
		in, err := backend.Upload([]float32{0, 0.5, 3, -1})
		require.NoError(t, err)
		defer backend.Free(in)

		pos, err := backend.Threshold(in, ThresholdPositive, 0)
		require.NoError(t, err)
		defer backend.Free(pos)
		got, err := backend.Download(pos)
		require.NoError(t, err)
		assert.Equal(t, []float32{0, 1, 1, 0}, got)

		eq, err := backend.Threshold(in, ThresholdEqual, 3)
		require.NoError(t, err)
		defer backend.Free(eq)
		got, err = backend.Download(eq)
		require.NoError(t, err)
		assert.Equal(t, []float32{0, 0, 1, 0}, got)
	})

	t.Run("free", func(t *testing.T) {
		buf, err := backend.Upload([]float32{1})
		require.NoError(t, err)
		require.NoError(t, backend.Free(buf))

		err = backend.Free(buf)
		assert.True(t, errors.Is(err, ErrInvalidBuffer), "double free: %v", err)
		_, err = backend.Download(buf)
		assert.True(t, errors.Is(err, ErrInvalidBuffer), "use after free: %v", err)
	})

	t.Run("foreign buffer", func(t *testing.T) {
		other := NewCPUBackend(nil)
		require.NoError(t, other.Initialize())
		defer other.Cleanup()

		buf, err := other.Upload([]float32{1})
		require.NoError(t, err)
		defer other.Free(buf)

		_, err = backend.Download(buf)
		assert.True(t, errors.Is(err, ErrInvalidBuffer))
	})

	t.Run("no leaked buffers", func(t *testing.T) {
		require.NoError(t, backend.EmptyCache())
		stats := backend.MemoryStats()
		assert.Equal(t, int64(0), stats.ActiveBuffers)
		assert.Equal(t, int64(0), stats.ActiveBytes)
		assert.Equal(t, int64(0), stats.CachedBytes)
		assert.Greater(t, stats.TotalAllocations, uint64(0))
	})
}
