// Package logging provides leveled, named loggers for the consensus modules.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the logging interface used throughout the repository.
type Logger interface {
	Debug(args ...any)
	Debugf(format string, args ...any)
	Info(args ...any)
	Infof(format string, args ...any)
	Warn(args ...any)
	Warnf(format string, args ...any)
	Error(args ...any)
	Errorf(format string, args ...any)
}

// New returns a named logger. The log level is read from the MERIDIAN_LOG
// environment variable (debug, info, warn, error); it defaults to info.
func New(name string) Logger {
	return NewWithLevel(name, os.Getenv("MERIDIAN_LOG"))
}

// NewWithLevel returns a named logger at the given level.
func NewWithLevel(name, level string) Logger {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, err := cfg.Build()
	if err != nil {
		// zap only fails on invalid configuration, which is fixed above.
		panic(err)
	}
	return logger.Named(name).Sugar()
}

// NewNop returns a logger that discards everything. Used by tests.
func NewNop() Logger {
	return zap.NewNop().Sugar()
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
