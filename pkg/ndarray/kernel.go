package ndarray

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Kernel is a structuring element: an N-dimensional float32 weight mask.
// Morphology requires every extent to be odd so the element has a center.
type Kernel struct {
	shape   Shape
	weights []float32
}

// NewKernel copies weights into a kernel of the given shape.
func NewKernel(shape Shape, weights []float32) (*Kernel, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if len(weights) != shape.Size() {
		return nil, fmt.Errorf("ndarray: %d weights do not match kernel shape %s", len(weights), shape)
	}
	w := make([]float32, len(weights))
	copy(w, weights)
	return &Kernel{shape: shape.Clone(), weights: w}, nil
}

// KernelFromBool converts a boolean mask into a 0/1 kernel.
func KernelFromBool(mask *Bool) *Kernel {
	return &Kernel{shape: mask.Shape().Clone(), weights: mask.Float32()}
}

// Ones returns an all-ones kernel, the box structuring element.
func Ones(shape ...int) *Kernel {
	s := Shape(shape).Clone()
	w := make([]float32, s.Size())
	for i := range w {
		w[i] = 1
	}
	return &Kernel{shape: s, weights: w}
}

// Shape returns the kernel shape. Callers must not modify it.
func (k *Kernel) Shape() Shape { return k.shape }

// Weights exposes the row-major weights.
func (k *Kernel) Weights() []float32 { return k.weights }

// At returns the weight at the given coordinates, or 0 out of bounds.
func (k *Kernel) At(idx ...int) float32 {
	off := k.shape.Offset(idx...)
	if off < 0 {
		return 0
	}
	return k.weights[off]
}

// OddExtents reports whether every extent is odd.
func (k *Kernel) OddExtents() bool {
	for _, e := range k.shape {
		if e%2 == 0 {
			return false
		}
	}
	return len(k.shape) > 0
}

// Padding returns the per-axis zero padding (extent-1)/2 that keeps the
// correlation output the same shape as its input.
func (k *Kernel) Padding() []int {
	pad := make([]int, len(k.shape))
	for i, e := range k.shape {
		pad[i] = (e - 1) / 2
	}
	return pad
}

// Sum returns the total weight.
func (k *Kernel) Sum() float64 {
	return floats.Sum(k.float64s())
}

// AbsSum returns the sum of absolute weights, the largest magnitude any
// partial correlation sum over a binary input can reach.
func (k *Kernel) AbsSum() float64 {
	w := k.float64s()
	return floats.Norm(w, 1)
}

// Integral reports whether every weight is a whole number.
func (k *Kernel) Integral() bool {
	for _, w := range k.weights {
		if float64(w) != math.Trunc(float64(w)) {
			return false
		}
	}
	return true
}

// Reflect returns the kernel mirrored through its center on every axis.
func (k *Kernel) Reflect() *Kernel {
	n := len(k.weights)
	w := make([]float32, n)
	for i, v := range k.weights {
		w[n-1-i] = v
	}
	return &Kernel{shape: k.shape.Clone(), weights: w}
}

// Symmetric reports whether the kernel equals its reflection.
func (k *Kernel) Symmetric() bool {
	n := len(k.weights)
	for i := range k.weights {
		if k.weights[i] != k.weights[n-1-i] {
			return false
		}
	}
	return true
}

func (k *Kernel) float64s() []float64 {
	out := make([]float64, len(k.weights))
	for i, w := range k.weights {
		out[i] = float64(w)
	}
	return out
}
