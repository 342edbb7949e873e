package logger

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// -----------------------------------------------------------------------------

// Logger provides structured logging functionality
type Logger struct {
	name   string
	base   *zap.Logger
	sugar  *zap.SugaredLogger
	config interface{}
}

type levelConfig interface {
	GetLogLevel() string
}

// -----------------------------------------------------------------------------

// NewLogger creates a new Logger instance. The level comes from config when it
// exposes GetLogLevel, otherwise INFO.
func NewLogger(config interface{}, name string) *Logger {
	level := zapcore.InfoLevel
	if lc, ok := config.(levelConfig); ok {
		level = ParseLevel(lc.GetLogLevel())
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.DisableStacktrace = true

	base, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		base = zap.NewNop()
	}
	return FromZap(base, config, name)
}

// -----------------------------------------------------------------------------

// FromZap wraps an existing zap logger, e.g. an observer core in tests.
func FromZap(base *zap.Logger, config interface{}, name string) *Logger {
	return &Logger{
		name:   name,
		base:   base,
		sugar:  base.With(zap.String("component", name)).Sugar(),
		config: config,
	}
}

// -----------------------------------------------------------------------------

// Nop discards everything.
func Nop(name string) *Logger {
	return FromZap(zap.NewNop(), nil, name)
}

// -----------------------------------------------------------------------------

// ParseLevel maps the config names (DEBUG, INFO, WARNING, ERROR) to zap levels.
func ParseLevel(s string) zapcore.Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "DEBUG":
		return zapcore.DebugLevel
	case "WARN", "WARNING":
		return zapcore.WarnLevel
	case "ERROR", "CRITICAL":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// -----------------------------------------------------------------------------

func (l *Logger) Name() string {
	return l.name
}

// -----------------------------------------------------------------------------

// Named returns a child logger sharing the same sink.
func (l *Logger) Named(name string) *Logger {
	return FromZap(l.base, l.config, name)
}

// -----------------------------------------------------------------------------

func (l *Logger) Debug(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

// -----------------------------------------------------------------------------

func (l *Logger) Warning(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

// -----------------------------------------------------------------------------

// Info logs informational messages
func (l *Logger) Info(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

// -----------------------------------------------------------------------------

// Error logs error messages
func (l *Logger) Error(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// -----------------------------------------------------------------------------

// Critical logs critical errors and exits the application
func (l *Logger) Critical(format string, args ...interface{}) {
	l.sugar.Errorf("CRITICAL: "+format, args...)
	_ = l.sugar.Sync()
	os.Exit(1)
}

// -----------------------------------------------------------------------------

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}
