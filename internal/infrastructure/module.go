// Package infrastructure provides core infrastructure components and their Fx modules.
package infrastructure

import (
	"context"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Raikerian/go-room-egress/internal/config"
	pkginfra "github.com/Raikerian/go-room-egress/pkg/infrastructure"
)

// LoggerModule provides logging infrastructure.
var LoggerModule = fx.Module("logger",
	fx.Provide(NewZapLogger),
)

// NewZapLoggerParams holds dependencies for NewZapLogger.
type NewZapLoggerParams struct {
	fx.In
	Cfg *config.Config
	LC  fx.Lifecycle
}

// NewZapLogger builds a development logger for debug and a production JSON
// logger at the configured level otherwise.
func NewZapLogger(params NewZapLoggerParams) (*zap.Logger, error) {
	zapConfig, err := zapConfigFor(params.Cfg.LogLevel)
	if err != nil {
		return nil, err
	}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to create zap logger: %w", err)
	}
	logger = logger.With(zap.String("service", "room-egress"))

	params.LC.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			// Sync on a terminal stderr returns EINVAL.
			_ = logger.Sync()
			return nil
		},
	})

	return logger, nil
}

func zapConfigFor(level string) (zap.Config, error) {
	if level == "debug" {
		return zap.NewDevelopmentConfig(), nil
	}

	lvl := zapcore.InfoLevel
	if level != "" {
		parsed, err := zapcore.ParseLevel(level)
		if err != nil {
			return zap.Config{}, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		lvl = parsed
	}

	zapConfig := zap.NewProductionConfig()
	zapConfig.Level = zap.NewAtomicLevelAt(lvl)
	zapConfig.EncoderConfig.TimeKey = "ts"
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return zapConfig, nil
}

// NewFxLoggerAdapter creates a new Fx logger adapter using the public package.
func NewFxLoggerAdapter(logger *zap.Logger) fxevent.Logger {
	return pkginfra.NewFxLoggerAdapter(logger)
}
