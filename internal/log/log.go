package log

import (
	"context"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps zap with context-derived fields.
type Logger struct {
	zl    *zap.Logger
	level zap.AtomicLevel
	hooks []Hook
}

// New builds a Logger from config.
func New(cfg Config) *Logger {
	level := zap.NewAtomicLevelAt(parseLevel(cfg.Level))

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if cfg.Format == "json" {
		encoder = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	}

	sink := zapcore.Lock(os.Stderr)

	var core zapcore.Core
	if cfg.File.Path != "" {
		fileSink := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSizeMB,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAgeDays,
			Compress:   cfg.File.Compress,
		})
		core = zapcore.NewTee(
			zapcore.NewCore(encoder, sink, level),
			zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), fileSink, level),
		)
	} else {
		core = zapcore.NewCore(encoder, sink, level)
	}

	zl := zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	if cfg.Name != "" {
		zl = zl.Named(cfg.Name)
	}

	return &Logger{
		zl:    zl,
		level: level,
		hooks: defaultHooks,
	}
}

func parseLevel(s string) zapcore.Level {
	switch s {
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

// WithHooks returns a logger with extra context hooks appended.
func (l *Logger) WithHooks(hooks ...Hook) *Logger {
	clone := *l
	clone.hooks = append(append([]Hook{}, l.hooks...), hooks...)

	return &clone
}

func (l *Logger) contextFields(ctx context.Context, msg string, fields []Field) []Field {
	for _, hook := range l.hooks {
		fields = append(fields, hook.Apply(ctx, msg)...)
	}

	return fields
}

func (l *Logger) Debug(ctx context.Context, msg string, fields ...Field) {
	l.zl.Debug(msg, l.contextFields(ctx, msg, fields)...)
}

func (l *Logger) Info(ctx context.Context, msg string, fields ...Field) {
	l.zl.Info(msg, l.contextFields(ctx, msg, fields)...)
}

func (l *Logger) Warn(ctx context.Context, msg string, fields ...Field) {
	l.zl.Warn(msg, l.contextFields(ctx, msg, fields)...)
}

func (l *Logger) Error(ctx context.Context, msg string, fields ...Field) {
	l.zl.Error(msg, l.contextFields(ctx, msg, fields)...)
}

// DebugEnabled reports whether debug entries would be emitted, so callers can
// skip expensive field construction.
func (l *Logger) DebugEnabled() bool {
	return l.level.Enabled(zapcore.DebugLevel)
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.zl.Sync()
}

var globalLogger = New(Config{Level: "info", Format: "console"})

// SetGlobalLogger replaces the process-wide logger used by the package-level
// functions.
func SetGlobalLogger(l *Logger) {
	globalLogger = l
}

// GetGlobalLogger returns the process-wide logger.
func GetGlobalLogger() *Logger {
	return globalLogger
}

func Debug(ctx context.Context, msg string, fields ...Field) {
	globalLogger.Debug(ctx, msg, fields...)
}

func Info(ctx context.Context, msg string, fields ...Field) {
	globalLogger.Info(ctx, msg, fields...)
}

func Warn(ctx context.Context, msg string, fields ...Field) {
	globalLogger.Warn(ctx, msg, fields...)
}

func Error(ctx context.Context, msg string, fields ...Field) {
	globalLogger.Error(ctx, msg, fields...)
}

// DebugEnabled reports whether the global logger emits debug entries.
func DebugEnabled(ctx context.Context) bool {
	return globalLogger.DebugEnabled()
}
