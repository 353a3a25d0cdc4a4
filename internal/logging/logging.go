// Package logging builds the zap loggers used by the twine binaries.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	// LevelNone disables logging.
	LevelNone = "none"
)

// New returns a logger at level. dev selects the human-readable console
// encoder; otherwise output is JSON.
func New(level string, dev bool) (*zap.Logger, error) {
	if level == LevelNone {
		return zap.NewNop(), nil
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	if dev {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	return cfg.Build()
}

// Must is New that panics on error.
func Must(level string, dev bool) *zap.Logger {
	l, err := New(level, dev)
	if err != nil {
		panic(err)
	}
	return l
}
