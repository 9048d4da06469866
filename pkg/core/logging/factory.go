// ============================================================================
// emubench - Mobile Test Environment Orchestrator
// ============================================================================
//
// Package:     logging
// Description: Factory functions for creating zap-backed loggers
// Author:      Mike Stoffels
// Created:     2025-12-06
// License:     MIT
// ============================================================================

package logging

import (
	"io"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Process-wide defaults applied by New
	defaultConfig = LoggerConfig{Level: "info", Format: "text"}
	defaultMu     sync.RWMutex
)

// LoggerConfig holds configuration for creating loggers
type LoggerConfig struct {
	// Service name
	ServiceName string

	// Log level (debug, info, warn, error)
	Level string

	// Output format
	Format string // "json" or "text" (default: text)

	// Output writer (default: os.Stdout)
	Output io.Writer

	// Additional outputs (besides Output)
	AdditionalOutputs []io.Writer
}

// DefaultLoggerConfig returns a default configuration
func DefaultLoggerConfig(serviceName string) LoggerConfig {
	defaultMu.RLock()
	defer defaultMu.RUnlock()

	cfg := defaultConfig
	cfg.ServiceName = serviceName
	return cfg
}

// Configure sets the defaults used by New and DefaultLoggerConfig.
// Call it once at process entry before components create their loggers.
func Configure(cfg LoggerConfig) {
	defaultMu.Lock()
	defer defaultMu.Unlock()

	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "text"
	}
	cfg.ServiceName = ""
	defaultConfig = cfg
}

// NewLogger creates a new zap logger from the configuration
func NewLogger(cfg LoggerConfig) *zap.Logger {
	var output io.Writer = os.Stdout
	if cfg.Output != nil {
		output = cfg.Output
	}
	if len(cfg.AdditionalOutputs) > 0 {
		writers := append([]io.Writer{output}, cfg.AdditionalOutputs...)
		output = io.MultiWriter(writers...)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "timestamp"
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05")
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.AddSync(output), parseLevel(cfg.Level))
	logger := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	if cfg.ServiceName != "" {
		logger = logger.Named(cfg.ServiceName)
	}
	return logger
}

// parseLevel converts a string level to a zap level
func parseLevel(level string) zapcore.Level {
	switch level {
	case "trace", "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}

// Logger wraps a sugared zap logger with key-value methods
type Logger struct {
	base  *zap.Logger
	sugar *zap.SugaredLogger
	name  string
}

// New creates a named logger using the process-wide defaults
func New(name string) *Logger {
	return wrap(NewLogger(DefaultLoggerConfig(name)), name)
}

// NewWithCore creates a logger on top of an existing zap core.
// Tests use it with zaptest/observer to assert on emitted entries.
func NewWithCore(name string, core zapcore.Core) *Logger {
	return wrap(zap.New(core, zap.AddCallerSkip(1)).Named(name), name)
}

// Nop returns a logger that discards everything
func Nop() *Logger {
	return wrap(zap.NewNop(), "nop")
}

func wrap(base *zap.Logger, name string) *Logger {
	return &Logger{base: base, sugar: base.Sugar(), name: name}
}

// Name returns the logger name
func (l *Logger) Name() string {
	return l.name
}

// With returns a child logger that adds the given key-value pairs to every entry
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	child := l.sugar.With(keysAndValues...)
	return &Logger{base: child.Desugar(), sugar: child, name: l.name}
}

// WithLevel returns a logger that drops entries below level.
// zap can only raise the level of an existing core, never lower it.
func (l *Logger) WithLevel(level Level) *Logger {
	base := l.base.WithOptions(zap.IncreaseLevel(level.zapLevel()))
	return &Logger{base: base, sugar: base.Sugar(), name: l.name}
}

// Debug logs a debug message with key-value pairs
func (l *Logger) Debug(msg string, keysAndValues ...interface{}) {
	l.sugar.Debugw(msg, keysAndValues...)
}

// Info logs an info message with key-value pairs
func (l *Logger) Info(msg string, keysAndValues ...interface{}) {
	l.sugar.Infow(msg, keysAndValues...)
}

// Warn logs a warning message with key-value pairs
func (l *Logger) Warn(msg string, keysAndValues ...interface{}) {
	l.sugar.Warnw(msg, keysAndValues...)
}

// Error logs an error message with key-value pairs
func (l *Logger) Error(msg string, keysAndValues ...interface{}) {
	l.sugar.Errorw(msg, keysAndValues...)
}

// Sync flushes buffered entries
func (l *Logger) Sync() error {
	return l.base.Sync()
}
