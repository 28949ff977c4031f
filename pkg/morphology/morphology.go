// Package morphology implements binary dilation, erosion, opening and
// closing of N-dimensional boolean arrays. The structuring element is
// applied as a zero-padded cross-correlation on the Engine's device,
// followed by a device-side threshold.
package morphology

import (
	"errors"
	"fmt"
	"time"

	"github.com/fxnlabs/gpu-morphology/internal/gpu"
	"github.com/fxnlabs/gpu-morphology/internal/metrics"
	"github.com/fxnlabs/gpu-morphology/pkg/ndarray"
	"go.uber.org/zap"
)

// Volume is a binary array on the host or on a device. Every operation
// returns the same kind of volume it was given.
type Volume interface {
	*ndarray.Bool | *DeviceVolume
}

var errNilEngine = errors.New("morphology: nil engine")

type operation string

const (
	opDilate operation = "dilate"
	opErode  operation = "erode"
	opOpen   operation = "open"
	opClose  operation = "close"
)

// erodes reports whether op thresholds against the full weight total.
func (op operation) erodes() bool { return op != opDilate }

// Dilate sets every element whose translated structuring element overlaps
// a true element of v.
func Dilate[V Volume](e *Engine, v V, selem *ndarray.Kernel) (V, error) {
	return apply(e, opDilate, v, selem)
}

// Erode keeps the elements whose translated structuring element lies
// entirely inside the true region of v. Outside the array counts as false.
func Erode[V Volume](e *Engine, v V, selem *ndarray.Kernel) (V, error) {
	return apply(e, opErode, v, selem)
}

// Open is Dilate(Erode(v)).
func Open[V Volume](e *Engine, v V, selem *ndarray.Kernel) (V, error) {
	return compose(e, opOpen, v, selem, opErode, opDilate)
}

// Close is Erode(Dilate(v)).
func Close[V Volume](e *Engine, v V, selem *ndarray.Kernel) (V, error) {
	return compose(e, opClose, v, selem, opDilate, opErode)
}

func compose[V Volume](e *Engine, op operation, v V, selem *ndarray.Kernel, first, second operation) (result V, err error) {
	if e == nil {
		return result, errNilEngine
	}
	start := time.Now()
	defer func() { e.observe(op, start, err) }()

	if err := e.checkWeights(op, selem); err != nil {
		return result, err
	}
	mid, err := apply(e, first, v, selem)
	if err != nil {
		return result, err
	}
	defer releaseVolume(mid)
	return apply(e, second, mid, selem)
}

func releaseVolume[V Volume](v V) {
	if dv, ok := any(v).(*DeviceVolume); ok {
		_ = dv.Release()
	}
}

func apply[V Volume](e *Engine, op operation, v V, selem *ndarray.Kernel) (V, error) {
	var zero V
	if e == nil {
		return zero, errNilEngine
	}

	var (
		out any
		err error
	)
	switch in := any(v).(type) {
	case *ndarray.Bool:
		out, err = e.applyHost(op, in, selem)
	case *DeviceVolume:
		out, err = e.applyDevice(op, in, selem)
	}
	if err != nil {
		return zero, err
	}
	return out.(V), nil
}

// applyHost runs one upload, correlate, threshold, download cycle.
func (e *Engine) applyHost(op operation, in *ndarray.Bool, selem *ndarray.Kernel) (out *ndarray.Bool, err error) {
	if in == nil {
		return nil, fmt.Errorf("%w: nil array", ErrInvalidArray)
	}
	shape := in.Shape()
	if err := e.validate(op, shape, selem); err != nil {
		return nil, err
	}
	if shape.Size() == 0 {
		return ndarray.NewBool(shape...), nil
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrClosed
	}

	start := time.Now()
	defer func() { e.observe(op, start, err) }()
	defer e.reclaim()

	src, err := e.backend.Upload(in.Float32())
	if err != nil {
		return nil, err
	}
	defer e.free(src)

	res, err := e.run(op, src, shape, selem)
	if err != nil {
		return nil, err
	}
	defer e.free(res)

	data, err := e.backend.Download(res)
	if err != nil {
		return nil, err
	}
	e.log.Debug("Morphology operation completed",
		zap.String("op", string(op)),
		zap.String("backend", e.backend.Name()),
		zap.Stringer("shape", shape),
		zap.Duration("duration", time.Since(start)))
	return ndarray.FromFloat32(shape.Clone(), data)
}

// applyDevice runs correlate and threshold on a resident volume.
func (e *Engine) applyDevice(op operation, in *DeviceVolume, selem *ndarray.Kernel) (out *DeviceVolume, err error) {
	if in == nil {
		return nil, fmt.Errorf("%w: nil volume", ErrInvalidArray)
	}
	if in.engine != e {
		return nil, ErrDeviceMismatch
	}
	shape := in.Shape()
	if err := e.validate(op, shape, selem); err != nil {
		return nil, err
	}
	src, err := in.buffer()
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return nil, ErrClosed
	}

	if shape.Size() == 0 {
		buf, err := e.backend.Upload(nil)
		if err != nil {
			return nil, err
		}
		return &DeviceVolume{engine: e, shape: shape.Clone(), buf: buf}, nil
	}

	start := time.Now()
	defer func() { e.observe(op, start, err) }()
	defer e.reclaim()

	res, err := e.run(op, src, shape, selem)
	if err != nil {
		return nil, err
	}
	e.log.Debug("Morphology operation completed",
		zap.String("op", string(op)),
		zap.String("backend", e.backend.Name()),
		zap.Stringer("shape", shape),
		zap.Bool("resident", true),
		zap.Duration("duration", time.Since(start)))
	return &DeviceVolume{engine: e, shape: shape.Clone(), buf: res}, nil
}

// run correlates src with selem and thresholds the sums. The returned
// buffer belongs to the caller; the correlation buffer is freed here.
func (e *Engine) run(op operation, src gpu.DeviceBuffer, shape ndarray.Shape, selem *ndarray.Kernel) (gpu.DeviceBuffer, error) {
	corr, err := e.backend.Correlate(src, shape, selem, e.precision)
	if err != nil {
		return nil, err
	}
	defer e.free(corr)

	mode, total := gpu.ThresholdPositive, float32(0)
	if op == opErode {
		mode, total = gpu.ThresholdEqual, e.precision.Total(selem.Weights())
	}
	return e.backend.Threshold(corr, mode, total)
}

// validate checks everything that can be checked without the device.
func (e *Engine) validate(op operation, shape ndarray.Shape, selem *ndarray.Kernel) error {
	if err := shape.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArray, err)
	}
	if selem == nil {
		return fmt.Errorf("%w: nil structuring element", ErrInvalidStructuringElement)
	}
	if !selem.OddExtents() {
		return fmt.Errorf("%w: shape %s", ErrInvalidStructuringElement, selem.Shape())
	}
	if selem.Shape().Rank() != shape.Rank() {
		return fmt.Errorf("%w: array %s, structuring element %s", ErrRankMismatch, shape, selem.Shape())
	}
	if err := e.checkWeights(op, selem); err != nil {
		return err
	}
	if limit, sum := e.precision.ExactLimit(), selem.AbsSum(); sum > limit {
		return fmt.Errorf("%w: total %g exceeds %g for %s", ErrPrecisionOverflow, sum, limit, e.precision)
	}
	return nil
}

// checkWeights rejects fractional weights wherever a partial sum could round
// onto the erosion total, and under Int32 which truncates them.
func (e *Engine) checkWeights(op operation, selem *ndarray.Kernel) error {
	if selem == nil || selem.Integral() {
		return nil
	}
	if op.erodes() {
		return fmt.Errorf("%w: %s", ErrNonIntegralWeights, op)
	}
	if e.precision == gpu.Int32 {
		return fmt.Errorf("%w: %s precision", ErrNonIntegralWeights, e.precision)
	}
	return nil
}

func (e *Engine) free(buf gpu.DeviceBuffer) {
	if err := e.backend.Free(buf); err != nil {
		e.log.Warn("Failed to free device buffer", zap.Error(err))
	}
}

// reclaim returns cached device memory after an operation.
func (e *Engine) reclaim() {
	if err := e.backend.EmptyCache(); err != nil {
		e.log.Warn("Failed to empty device cache", zap.Error(err))
	}
	e.publishMemory()
}

func (e *Engine) publishMemory() {
	stats := e.backend.MemoryStats()
	metrics.SetDeviceMemory(e.backend.Name(), stats.ActiveBytes, stats.ActiveBuffers)
}

func (e *Engine) observe(op operation, start time.Time, err error) {
	metrics.ObserveOperation(string(op), e.backend.Name(), float64(time.Since(start).Microseconds())/1000, err)
}
