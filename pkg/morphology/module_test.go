package morphology_test

import (
	"errors"
	"testing"

	"github.com/fxnlabs/gpu-morphology/pkg/config"
	"github.com/fxnlabs/gpu-morphology/pkg/morphology"
	"github.com/fxnlabs/gpu-morphology/pkg/ndarray"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func TestModule(t *testing.T) {
	var engine *morphology.Engine

	app := fxtest.New(t,
		fx.Provide(
			func() *config.Config {
				cfg := config.Default()
				cfg.Device.Backend = "cpu"
				cfg.Precision = "int32"
				return cfg
			},
			func() *zap.Logger { return zaptest.NewLogger(t) },
		),
		morphology.Module,
		fx.Populate(&engine),
	)

	app.RequireStart()
	require.NotNil(t, engine)
	assert.Equal(t, "cpu", engine.Backend())
	assert.Equal(t, morphology.Int32, engine.Precision())

	out, err := morphology.Dilate(engine, singleVoxel(), ndarray.Ones(3, 3, 3))
	require.NoError(t, err)
	assert.Equal(t, 27, out.Count())

	app.RequireStop()

	_, err = morphology.Dilate(engine, singleVoxel(), ndarray.Ones(3, 3, 3))
	assert.True(t, errors.Is(err, morphology.ErrClosed))
}

func TestModule_InvalidConfig(t *testing.T) {
	app := fx.New(
		fx.NopLogger,
		fx.Provide(
			func() *config.Config {
				cfg := config.Default()
				cfg.Device.Backend = "opencl"
				return cfg
			},
			zap.NewNop,
		),
		morphology.Module,
		fx.Invoke(func(*morphology.Engine) {}),
	)
	assert.Error(t, app.Err())
}

func TestOptionsFromConfig(t *testing.T) {
	cfg, err := config.LoadConfig("../../fixtures/tests/config/valid_config.yaml")
	require.NoError(t, err)

	opts, err := morphology.OptionsFromConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, morphology.Options{Backend: "cpu", DeviceIndex: 0, Precision: morphology.Float16}, opts)

	cfg.Precision = "float64"
	_, err = morphology.OptionsFromConfig(cfg)
	assert.Error(t, err)
}
