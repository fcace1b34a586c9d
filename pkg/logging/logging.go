// Package logging builds the zap logger shared by the compiler, the code
// cache and the CLI.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"psxrec/pkg/config"
	"psxrec/pkg/errors"
)

// New returns a JSON production logger, or a console development logger
// when cfg.Development is set, at the configured level.
func New(cfg config.Log) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, errors.Wrapf(err, "log level")
	}

	zc := zap.NewProductionConfig()
	if cfg.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}
	zc.DisableStacktrace = !cfg.Development

	logger, err := zc.Build()
	if err != nil {
		return nil, errors.Wrapf(err, "build logger")
	}
	return logger, nil
}

// Hex formats a guest address the way every log entry prints one.
func Hex(key string, v uint32) zap.Field {
	return zap.String(key, fmt.Sprintf("0x%08x", v))
}
