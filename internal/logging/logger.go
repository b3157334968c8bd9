// Package logging provides zap logger helpers.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// L is the process-wide logger. It starts as a no-op so packages can log
// before the application container runs; Set replaces it during startup.
var L = zap.NewNop()

// Set installs logger as the package-level default and the zap globals.
func Set(logger *zap.Logger) {
	if logger == nil {
		return
	}
	L = logger
	zap.ReplaceGlobals(logger)
}

// FileConfig controls the optional rotating file sink.
type FileConfig struct {
	Enabled    bool
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// New builds a zap.Logger configured for development or production.
func New(development bool) (*zap.Logger, error) {
	return NewWithFile(development, FileConfig{})
}

// NewWithFile builds a logger that writes to the console and, when enabled,
// to a size-rotated file. The file sink always uses the JSON encoder so log
// shippers get structured lines regardless of the console format.
func NewWithFile(development bool, file FileConfig) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	if development {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg.DisableStacktrace = false
	}
	cfg.EncoderConfig.TimeKey = "ts"

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	if !file.Enabled {
		return logger, nil
	}
	if file.Path == "" {
		return nil, fmt.Errorf("file logging enabled without a path")
	}

	rotator := &lumberjack.Logger{
		Filename:   file.Path,
		MaxSize:    file.MaxSizeMB,
		MaxBackups: file.MaxBackups,
		MaxAge:     file.MaxAgeDays,
		Compress:   true,
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	fileCore := zapcore.NewCore(
		zapcore.NewJSONEncoder(encCfg),
		zapcore.AddSync(rotator),
		cfg.Level,
	)
	combined := logger.WithOptions(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, fileCore)
	}))
	return combined, nil
}
