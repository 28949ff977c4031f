package gpu

import (
	"fmt"
	"runtime"

	"github.com/fxnlabs/gpu-morphology/pkg/ndarray"
	"github.com/x448/float16"
	"golang.org/x/sync/errgroup"
)

// MaxRank is the largest rank the device shaders accept.
const MaxRank = 8

// minChunk keeps tiny volumes on a single goroutine.
const minChunk = 4096

// tap is one nonzero structuring-element weight with its offset from the center.
type tap struct {
	offset []int // per axis
	delta  int   // flat offset in the input
	weight float32
}

func validateCorrelation(n int, shape ndarray.Shape, kernel *ndarray.Kernel) error {
	if n != shape.Size() {
		return fmt.Errorf("buffer length %d does not match shape %s", n, shape)
	}
	if kernel.Shape().Rank() != shape.Rank() {
		return fmt.Errorf("kernel rank %d does not match input rank %d", kernel.Shape().Rank(), shape.Rank())
	}
	if !kernel.OddExtents() {
		return fmt.Errorf("kernel shape %s has an even extent", kernel.Shape())
	}
	return nil
}

// buildTaps lists the nonzero weights of kernel, rounded to p, with their
// offsets relative to the kernel center.
func buildTaps(shape ndarray.Shape, kernel *ndarray.Kernel, p Precision) []tap {
	kshape := kernel.Shape()
	pad := kernel.Padding()
	strides := shape.Strides()
	coord := make([]int, kshape.Rank())

	var taps []tap
	for i, w := range kernel.Weights() {
		w = p.Round(w)
		if w == 0 {
			continue
		}
		kshape.Unravel(i, coord)
		t := tap{offset: make([]int, len(coord)), weight: w}
		for d, c := range coord {
			t.offset[d] = c - pad[d]
			t.delta += t.offset[d] * strides[d]
		}
		taps = append(taps, t)
	}
	return taps
}

// correlateCPU writes the zero-padded cross-correlation of src with kernel
// into dst, splitting the output across goroutines.
func correlateCPU(dst, src []float32, shape ndarray.Shape, kernel *ndarray.Kernel, p Precision) error {
	taps := buildTaps(shape, kernel, p)
	n := len(dst)

	workers := runtime.GOMAXPROCS(0)
	if n/workers < minChunk {
		workers = max(1, n/minChunk)
	}
	chunk := (n + workers - 1) / workers

	var g errgroup.Group
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		g.Go(func() error {
			correlateRange(dst, src, shape, taps, p, start, end)
			return nil
		})
	}
	return g.Wait()
}

func correlateRange(dst, src []float32, shape ndarray.Shape, taps []tap, p Precision, start, end int) {
	coord := make([]int, shape.Rank())
	for idx := start; idx < end; idx++ {
		shape.Unravel(idx, coord)

		var facc float32
		var iacc int32
		for _, t := range taps {
			inside := true
			for d, o := range t.offset {
				c := coord[d] + o
				if c < 0 || c >= shape[d] {
					inside = false
					break
				}
			}
			if !inside {
				continue
			}
			v := src[idx+t.delta]
			switch p {
			case Int32:
				iacc += int32(v) * int32(t.weight)
			case Float16:
				prod := float16.Fromfloat32(float16.Fromfloat32(v).Float32() * t.weight).Float32()
				facc = float16.Fromfloat32(facc + prod).Float32()
			default:
				facc += v * t.weight
			}
		}
		if p == Int32 {
			dst[idx] = float32(iacc)
		} else {
			dst[idx] = facc
		}
	}
}

func thresholdCPU(dst, src []float32, mode ThresholdMode, total float32) {
	for i, v := range src {
		var hit bool
		switch mode {
		case ThresholdEqual:
			hit = v == total
		default:
			hit = v > 0
		}
		if hit {
			dst[i] = 1
		} else {
			dst[i] = 0
		}
	}
}
