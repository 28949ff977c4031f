package morphology

import (
	"fmt"
	"sync"

	"github.com/fxnlabs/gpu-morphology/internal/gpu"
	"github.com/fxnlabs/gpu-morphology/pkg/ndarray"
)

// DeviceVolume is a binary array resident on an Engine's device. Operations
// on a DeviceVolume return a new DeviceVolume on the same engine; the
// caller releases every volume it receives.
type DeviceVolume struct {
	engine *Engine
	shape  ndarray.Shape

	mu  sync.Mutex
	buf gpu.DeviceBuffer // nil once released
}

// Shape returns the volume's extents.
func (v *DeviceVolume) Shape() ndarray.Shape { return v.shape }

// Engine returns the engine the volume lives on.
func (v *DeviceVolume) Engine() *Engine { return v.engine }

// Download copies the volume back to a host array.
func (v *DeviceVolume) Download() (*ndarray.Bool, error) {
	buf, err := v.buffer()
	if err != nil {
		return nil, err
	}

	v.engine.mu.RLock()
	defer v.engine.mu.RUnlock()
	if v.engine.closed {
		return nil, ErrClosed
	}

	data, err := v.engine.backend.Download(buf)
	if err != nil {
		return nil, err
	}
	return ndarray.FromFloat32(v.shape, data)
}

// Release frees the device buffer. Releasing twice is a no-op.
func (v *DeviceVolume) Release() error {
	v.mu.Lock()
	buf := v.buf
	v.buf = nil
	v.mu.Unlock()
	if buf == nil {
		return nil
	}

	v.engine.mu.RLock()
	defer v.engine.mu.RUnlock()
	if v.engine.closed {
		// the backend dropped every buffer on Close
		return nil
	}
	err := v.engine.backend.Free(buf)
	v.engine.reclaim()
	return err
}

func (v *DeviceVolume) buffer() (gpu.DeviceBuffer, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.buf == nil {
		return nil, ErrReleased
	}
	return v.buf, nil
}

func (v *DeviceVolume) String() string {
	return fmt.Sprintf("DeviceVolume%s@%s", v.shape, v.engine.Backend())
}
