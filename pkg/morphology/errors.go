package morphology

import (
	"errors"

	"github.com/fxnlabs/gpu-morphology/internal/gpu"
)

var (
	// ErrInvalidStructuringElement is returned when the structuring element
	// is missing or has an even extent.
	ErrInvalidStructuringElement = errors.New("morphology: structuring element extents must all be odd")

	// ErrRankMismatch is returned when the array and structuring element ranks differ.
	ErrRankMismatch = errors.New("morphology: array and structuring element ranks differ")

	// ErrInvalidArray is returned for nil arrays and arrays without a valid shape.
	ErrInvalidArray = errors.New("morphology: invalid array")

	// ErrPrecisionOverflow is returned when the structuring element's total
	// absolute weight is not exactly representable in the engine's precision.
	ErrPrecisionOverflow = errors.New("morphology: structuring element weight exceeds exact range of precision")

	// ErrNonIntegralWeights is returned for fractional weights in erosion or
	// under int32 precision.
	ErrNonIntegralWeights = errors.New("morphology: integral weights required")

	// ErrDeviceMismatch is returned when a DeviceVolume is passed to an engine
	// other than the one that uploaded it.
	ErrDeviceMismatch = errors.New("morphology: device volume belongs to another engine")

	// ErrReleased is returned when a DeviceVolume is used after Release.
	ErrReleased = errors.New("morphology: device volume released")

	// ErrClosed is returned when an Engine is used after Close.
	ErrClosed = errors.New("morphology: engine closed")

	ErrDeviceUnavailable    = gpu.ErrDeviceUnavailable
	ErrAllocationFailure    = gpu.ErrAllocationFailure
	ErrUnsupportedPrecision = gpu.ErrUnsupportedPrecision
)
