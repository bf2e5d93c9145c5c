package logger

import (
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/studkg/cashier/pkg/config"
)

// New builds the process logger: JSON in prod, console in dev. level
// overrides the default info level when set.
func New(env config.Env, level string) (*zap.SugaredLogger, error) {
	cfg := zap.NewProductionConfig()
	if env == config.EnvDev {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.TimeKey = "time"
	if level != "" {
		lvl, err := zapcore.ParseLevel(level)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		cfg.Level = zap.NewAtomicLevelAt(lvl)
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

func provide(cfg *config.Config) (*zap.SugaredLogger, error) {
	return New(cfg.Env, cfg.LogLevel)
}

var Module = fx.Options(
	fx.Provide(provide),
)
