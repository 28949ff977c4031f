package morphology

import (
	"context"

	"github.com/fxnlabs/gpu-morphology/pkg/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides an *Engine built from *config.Config and *zap.Logger and
// closes it when the application stops.
var Module = fx.Module("morphology",
	fx.Provide(NewFromConfig),
)

// NewFromConfig creates an Engine from the configuration and ties its
// lifetime to lc.
func NewFromConfig(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (*Engine, error) {
	opts, err := OptionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}
	engine, err := New(opts, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return engine.Close()
		},
	})
	return engine, nil
}
