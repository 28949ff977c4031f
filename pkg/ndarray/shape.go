// Package ndarray holds the host-side data model for binary morphology:
// row-major N-dimensional boolean arrays and float32 structuring elements.
package ndarray

import (
	"fmt"
	"strings"
)

// Shape lists the extent of every axis, outermost first.
type Shape []int

// Rank returns the number of axes.
func (s Shape) Rank() int {
	return len(s)
}

// Size returns the number of elements. A shape with any zero extent has size 0.
func (s Shape) Size() int {
	if len(s) == 0 {
		return 0
	}
	n := 1
	for _, e := range s {
		n *= e
	}
	return n
}

// Equal reports whether both shapes have the same rank and extents.
func (s Shape) Equal(other Shape) bool {
	if len(s) != len(other) {
		return false
	}
	for i := range s {
		if s[i] != other[i] {
			return false
		}
	}
	return true
}

// Strides returns row-major element strides.
func (s Shape) Strides() []int {
	strides := make([]int, len(s))
	stride := 1
	for i := len(s) - 1; i >= 0; i-- {
		strides[i] = stride
		stride *= s[i]
	}
	return strides
}

// Clone returns a copy that does not alias s.
func (s Shape) Clone() Shape {
	out := make(Shape, len(s))
	copy(out, s)
	return out
}

// Offset converts coordinates to a flat row-major index.
// It returns -1 if the coordinates are out of bounds or of the wrong rank.
func (s Shape) Offset(idx ...int) int {
	if len(idx) != len(s) {
		return -1
	}
	off := 0
	for i, c := range idx {
		if c < 0 || c >= s[i] {
			return -1
		}
		off = off*s[i] + c
	}
	return off
}

// Unravel writes the coordinates of flat index off into coord.
func (s Shape) Unravel(off int, coord []int) {
	for i := len(s) - 1; i >= 0; i-- {
		coord[i] = off % s[i]
		off /= s[i]
	}
}

// Validate checks that the shape has at least one axis and no negative extent.
func (s Shape) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("ndarray: shape must have at least one axis")
	}
	for i, e := range s {
		if e < 0 {
			return fmt.Errorf("ndarray: negative extent %d on axis %d", e, i)
		}
	}
	return nil
}

func (s Shape) String() string {
	parts := make([]string, len(s))
	for i, e := range s {
		parts[i] = fmt.Sprint(e)
	}
	return "(" + strings.Join(parts, "x") + ")"
}
