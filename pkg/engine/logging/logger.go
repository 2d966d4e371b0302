package logging

import (
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger interface for basic logging operations
type Logger interface {
	Printf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

// ZapLogger implements the Logger interface on top of a zap SugaredLogger
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// ParseLevel converts a level name (debug, info, warn, error) into a zap level.
func ParseLevel(level string) (zapcore.Level, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		return lvl, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return lvl, nil
}

// NewZapLogger creates a console logger writing to writer at the given level.
func NewZapLogger(level string, writer io.Writer) (*ZapLogger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	encoderCfg := zap.NewDevelopmentEncoderConfig()
	encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		zapcore.AddSync(writer),
		lvl,
	)

	return NewFromZap(zap.New(core)), nil
}

// NewFromZap wraps an existing zap logger.
func NewFromZap(logger *zap.Logger) *ZapLogger {
	return &ZapLogger{sugar: logger.Sugar()}
}

// NewNopLogger returns a logger that discards everything.
func NewNopLogger() *ZapLogger {
	return NewFromZap(zap.NewNop())
}

// Printf logs a message with printf formatting
func (l *ZapLogger) Printf(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

// Errorf logs an error message with printf formatting
func (l *ZapLogger) Errorf(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// Debugf logs a debug message with printf formatting
func (l *ZapLogger) Debugf(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

// Named returns a child logger with the given name segment.
func (l *ZapLogger) Named(name string) *ZapLogger {
	return &ZapLogger{sugar: l.sugar.Named(name)}
}

// Sync flushes buffered log entries.
func (l *ZapLogger) Sync() error {
	return l.sugar.Sync()
}
