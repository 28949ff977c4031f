package gpu

import (
	"fmt"
	"strings"

	"github.com/x448/float16"
)

// Precision is the numeric format the correlation accumulates in.
//
// A binary input makes every partial sum a sum of weights. With integral
// weights that sum is exact as long as the sum of absolute weights stays
// within ExactLimit. Callers enforce that bound before dispatching work.
type Precision int

const (
	// Float32 accumulates in IEEE single precision.
	Float32 Precision = iota
	// Float16 accumulates in IEEE half precision.
	Float16
	// Int32 accumulates in 32-bit integers and requires integral weights.
	Int32
)

// ParsePrecision converts a configuration string into a Precision.
// The empty string selects Float32.
func ParsePrecision(s string) (Precision, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "float32", "f32", "single":
		return Float32, nil
	case "float16", "f16", "half":
		return Float16, nil
	case "int32", "i32", "int":
		return Int32, nil
	default:
		return Float32, fmt.Errorf("unknown precision %q", s)
	}
}

func (p Precision) String() string {
	switch p {
	case Float32:
		return "float32"
	case Float16:
		return "float16"
	case Int32:
		return "int32"
	default:
		return fmt.Sprintf("Precision(%d)", int(p))
	}
}

// ExactLimit returns the largest magnitude up to which every integer is
// representable in p. Int32 values travel through float32 device buffers,
// so its limit is float32's.
func (p Precision) ExactLimit() float64 {
	switch p {
	case Float16:
		return 2048
	case Float32, Int32:
		return 1 << 24
	default:
		return 0
	}
}

// Round returns v as stored in p. Int32 truncates toward zero.
func (p Precision) Round(v float32) float32 {
	switch p {
	case Float16:
		return float16.Fromfloat32(v).Float32()
	case Int32:
		return float32(int32(v))
	default:
		return v
	}
}

// RoundWeights returns the kernel weights as stored in p.
func (p Precision) RoundWeights(weights []float32) []float32 {
	out := make([]float32, len(weights))
	for i, w := range weights {
		out[i] = p.Round(w)
	}
	return out
}

// Total returns the correlation of weights with an all-ones window as the
// CPU backend accumulates it in p. It is the erosion threshold.
func (p Precision) Total(weights []float32) float32 {
	var facc float32
	var iacc int32
	for _, w := range weights {
		w = p.Round(w)
		if w == 0 {
			continue
		}
		switch p {
		case Int32:
			iacc += int32(w)
		case Float16:
			facc = float16.Fromfloat32(facc + w).Float32()
		default:
			facc += w
		}
	}
	if p == Int32 {
		return float32(iacc)
	}
	return facc
}
