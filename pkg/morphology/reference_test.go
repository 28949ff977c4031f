package morphology_test

import (
	"math/rand"

	"github.com/fxnlabs/gpu-morphology/pkg/ndarray"
)

// referenceMorph is a direct set-based evaluation of dilation (any) and
// erosion (all) over the nonzero support of selem. Outside the array
// counts as false.
func referenceMorph(in *ndarray.Bool, selem *ndarray.Kernel, all bool) *ndarray.Bool {
	shape := in.Shape()
	kshape := selem.Shape()
	pad := selem.Padding()
	out := ndarray.NewBool(shape...)

	coord := make([]int, shape.Rank())
	kcoord := make([]int, kshape.Rank())
	at := make([]int, shape.Rank())
	for i := range out.Data() {
		shape.Unravel(i, coord)
		hit := all
		for k, w := range selem.Weights() {
			if w == 0 {
				continue
			}
			kshape.Unravel(k, kcoord)
			for d := range coord {
				at[d] = coord[d] + kcoord[d] - pad[d]
			}
			v := in.At(at...)
			if all && !v {
				hit = false
				break
			}
			if !all && v {
				hit = true
				break
			}
		}
		out.Data()[i] = hit
	}
	return out
}

func referenceDilate(in *ndarray.Bool, selem *ndarray.Kernel) *ndarray.Bool {
	return referenceMorph(in, selem, false)
}

func referenceErode(in *ndarray.Bool, selem *ndarray.Kernel) *ndarray.Bool {
	return referenceMorph(in, selem, true)
}

func randomVolume(rng *rand.Rand, density float64, shape ...int) *ndarray.Bool {
	b := ndarray.NewBool(shape...)
	for i := range b.Data() {
		b.Data()[i] = rng.Float64() < density
	}
	return b
}

// clearBorder sets every element within pad of an edge to false.
func clearBorder(b *ndarray.Bool, pad []int) {
	shape := b.Shape()
	coord := make([]int, shape.Rank())
	for i := range b.Data() {
		shape.Unravel(i, coord)
		for d, c := range coord {
			if c < pad[d] || c >= shape[d]-pad[d] {
				b.Data()[i] = false
				break
			}
		}
	}
}

// cross returns the rank-dimensional plus-shaped element of extent 3.
func cross(rank int) *ndarray.Kernel {
	shape := make(ndarray.Shape, rank)
	for d := range shape {
		shape[d] = 3
	}
	mask := ndarray.NewBool(shape...)
	center := make([]int, rank)
	for d := range center {
		center[d] = 1
	}
	mask.Set(true, center...)
	for d := range rank {
		idx := append([]int(nil), center...)
		idx[d] = 0
		mask.Set(true, idx...)
		idx[d] = 2
		mask.Set(true, idx...)
	}
	return ndarray.KernelFromBool(mask)
}
