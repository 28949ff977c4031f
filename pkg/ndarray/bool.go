package ndarray

import "fmt"

// Bool is a dense row-major N-dimensional boolean array.
type Bool struct {
	shape Shape
	data  []bool
}

// NewBool allocates an all-false array of the given shape.
func NewBool(shape ...int) *Bool {
	s := Shape(shape).Clone()
	return &Bool{shape: s, data: make([]bool, s.Size())}
}

// FromBools wraps data (not copied) in an array of the given shape.
func FromBools(shape Shape, data []bool) (*Bool, error) {
	if err := shape.Validate(); err != nil {
		return nil, err
	}
	if len(data) != shape.Size() {
		return nil, fmt.Errorf("ndarray: data length %d does not match shape %s", len(data), shape)
	}
	return &Bool{shape: shape.Clone(), data: data}, nil
}

// FromFloat32 builds an array from a float32 slice, treating any nonzero value as true.
func FromFloat32(shape Shape, values []float32) (*Bool, error) {
	if len(values) != shape.Size() {
		return nil, fmt.Errorf("ndarray: data length %d does not match shape %s", len(values), shape)
	}
	b := NewBool(shape...)
	for i, v := range values {
		b.data[i] = v != 0
	}
	return b, nil
}

// Shape returns the array shape. Callers must not modify it.
func (b *Bool) Shape() Shape { return b.shape }

// Len returns the number of elements.
func (b *Bool) Len() int { return len(b.data) }

// Data exposes the backing slice in row-major order.
func (b *Bool) Data() []bool { return b.data }

// At returns the value at the given coordinates. Out-of-bounds reads are false.
func (b *Bool) At(idx ...int) bool {
	off := b.shape.Offset(idx...)
	if off < 0 {
		return false
	}
	return b.data[off]
}

// Set stores v at the given coordinates and panics when they are out of bounds.
func (b *Bool) Set(v bool, idx ...int) {
	off := b.shape.Offset(idx...)
	if off < 0 {
		panic(fmt.Sprintf("ndarray: index %v out of bounds for shape %s", idx, b.shape))
	}
	b.data[off] = v
}

// Count returns the number of true elements.
func (b *Bool) Count() int {
	n := 0
	for _, v := range b.data {
		if v {
			n++
		}
	}
	return n
}

// Clone returns a deep copy.
func (b *Bool) Clone() *Bool {
	out := &Bool{shape: b.shape.Clone(), data: make([]bool, len(b.data))}
	copy(out.data, b.data)
	return out
}

// Not returns the elementwise complement.
func (b *Bool) Not() *Bool {
	out := &Bool{shape: b.shape.Clone(), data: make([]bool, len(b.data))}
	for i, v := range b.data {
		out.data[i] = !v
	}
	return out
}

// Equal reports whether both arrays have the same shape and values.
func (b *Bool) Equal(other *Bool) bool {
	if other == nil || !b.shape.Equal(other.shape) {
		return false
	}
	for i := range b.data {
		if b.data[i] != other.data[i] {
			return false
		}
	}
	return true
}

// Float32 returns the array as 0/1 float32 values, the layout device buffers use.
func (b *Bool) Float32() []float32 {
	out := make([]float32, len(b.data))
	for i, v := range b.data {
		if v {
			out[i] = 1
		}
	}
	return out
}
