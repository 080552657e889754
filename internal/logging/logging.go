// Package logging builds zap loggers and adapts them to the key/value Logger
// interfaces accepted by the driver packages.
package logging

import (
	"fmt"
	"io"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a logger writing to stderr. level is a zap level name ("debug",
// "info", "warn", "error"); format is "console" or "json".
func New(level, format string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = lvl
	cfg.Sampling = nil
	cfg.DisableStacktrace = true

	switch format {
	case "", "console":
		cfg.Encoding = "console"
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	case "json":
		cfg.Encoding = "json"
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	return cfg.Build()
}

// NewWriter builds a JSON logger writing to w at the given level.
func NewWriter(w io.Writer, level zapcore.Level) *zap.Logger {
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()),
		zapcore.AddSync(w),
		level,
	)
	return zap.New(core)
}

// KV adapts a zap logger to the Debug/Info/Error(msg, keysAndValues...)
// interface used by the flash and imu packages.
type KV struct {
	s *zap.SugaredLogger
}

// Sugar wraps l. A nil logger discards everything.
func Sugar(l *zap.Logger) *KV {
	if l == nil {
		l = zap.NewNop()
	}
	return &KV{s: l.Sugar()}
}

// Named returns a KV logging under a child logger name.
func (k *KV) Named(name string) *KV {
	return &KV{s: k.s.Named(name)}
}

// Debug logs a debug message with optional key-value pairs.
func (k *KV) Debug(msg string, keysAndValues ...interface{}) {
	k.s.Debugw(msg, keysAndValues...)
}

// Info logs an info message with optional key-value pairs.
func (k *KV) Info(msg string, keysAndValues ...interface{}) {
	k.s.Infow(msg, keysAndValues...)
}

// Warn logs a warning with optional key-value pairs.
func (k *KV) Warn(msg string, keysAndValues ...interface{}) {
	k.s.Warnw(msg, keysAndValues...)
}

// Error logs an error message with optional key-value pairs.
func (k *KV) Error(msg string, keysAndValues ...interface{}) {
	k.s.Errorw(msg, keysAndValues...)
}
