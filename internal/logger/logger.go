package logger

import (
	"github.com/fxnlabs/gpu-morphology/pkg/config"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func New(verbosity string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	level, err := zap.ParseAtomicLevel(verbosity)
	if err != nil {
		return nil, err
	}
	cfg.Level = level
	return cfg.Build()
}

// FromConfig builds the logger described by cfg.Logger.
func FromConfig(cfg *config.Config) (*zap.Logger, error) {
	return New(cfg.Logger.Verbosity)
}

// Module provides a *zap.Logger from *config.Config and routes fx's own
// events through it.
var Module = fx.Options(
	fx.Provide(FromConfig),
	fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
		return &fxevent.ZapLogger{Logger: log.Named("fx")}
	}),
)
