package core

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger provides debug logging for the Observable SDK.
//
// Debug and Info are only written when debug logging is enabled; Warn and
// Error are always written. Secrets are never passed to the logger, only
// the names of the values involved.
type Logger struct {
	enabled bool
	zl      *zap.SugaredLogger
}

// NewLogger creates a new logger writing console output to stderr.
func NewLogger(enabled bool) *Logger {
	level := zapcore.WarnLevel
	if enabled {
		level = zapcore.DebugLevel
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.EncodeTime = zapcore.RFC3339TimeEncoder
	cfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	cfg.DisableStacktrace = true

	zl, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		zl = zap.NewNop()
	}
	return NewLoggerFromZap(enabled, zl)
}

// NewLoggerFromZap wraps an existing zap logger.
func NewLoggerFromZap(enabled bool, zl *zap.Logger) *Logger {
	if zl == nil {
		zl = zap.NewNop()
	}
	return &Logger{
		enabled: enabled,
		zl:      zl.Named("observable-go").Sugar(),
	}
}

// NopLogger returns a logger that discards everything.
func NopLogger() *Logger {
	return &Logger{zl: zap.NewNop().Sugar()}
}

// With returns a logger that adds the given key/value pairs to every entry.
func (l *Logger) With(keysAndValues ...any) *Logger {
	return &Logger{enabled: l.enabled, zl: l.zl.With(keysAndValues...)}
}

// Debug logs a debug message (only if debug is enabled).
func (l *Logger) Debug(message string, args ...any) {
	if l.enabled {
		l.zl.Debugf(message, args...)
	}
}

// Info logs an info message (only if debug is enabled).
func (l *Logger) Info(message string, args ...any) {
	if l.enabled {
		l.zl.Infof(message, args...)
	}
}

// Warn logs a warning message (always logged).
func (l *Logger) Warn(message string, args ...any) {
	l.zl.Warnf(message, args...)
}

// Error logs an error message (always logged).
func (l *Logger) Error(message string, args ...any) {
	l.zl.Errorf(message, args...)
}

// Timing logs request timing information.
func (l *Logger) Timing(method, url string, duration time.Duration) {
	if l.enabled {
		l.Debug("%s %s completed in %dms", method, url, duration.Milliseconds())
	}
}

// Retry logs retry attempt information.
func (l *Logger) Retry(attempt, maxAttempts int, delay time.Duration, reason string) {
	if l.enabled {
		l.Debug("Retry %d/%d in %dms: %s", attempt, maxAttempts, delay.Milliseconds(), reason)
	}
}

// Token logs token operations (without exposing the actual token).
func (l *Logger) Token(operation string) {
	if l.enabled {
		l.Debug("Token %s", operation)
	}
}

// Enabled returns whether debug logging is enabled.
func (l *Logger) Enabled() bool {
	return l.enabled
}

// Sync flushes buffered log entries.
func (l *Logger) Sync() error {
	return l.zl.Sync()
}
