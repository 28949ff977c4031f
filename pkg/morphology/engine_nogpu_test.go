//go:build !cuda && !webgpu
// +build !cuda,!webgpu

package morphology_test

import (
	"errors"
	"testing"

	"github.com/fxnlabs/gpu-morphology/pkg/morphology"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_NoFallbackForNamedBackend(t *testing.T) {
	for _, backend := range []string{morphology.BackendCUDA, morphology.BackendWebGPU} {
		_, err := morphology.New(morphology.Options{Backend: backend}, nil)
		assert.True(t, errors.Is(err, morphology.ErrDeviceUnavailable), backend)
	}

	engine, err := morphology.New(morphology.Options{Backend: morphology.BackendAuto}, nil)
	require.NoError(t, err)
	defer engine.Close()
	assert.Equal(t, morphology.BackendCPU, engine.Backend())
}
