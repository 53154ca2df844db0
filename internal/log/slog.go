package log

import (
	"context"
	"log/slog"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// AsSlog exposes the logger through the standard slog interface, for
// libraries (e.g. executors) that accept *slog.Logger.
func (l *Logger) AsSlog() *slog.Logger {
	return slog.New(&slogHandler{zl: l.zl, level: l.level})
}

type slogHandler struct {
	zl    *zap.Logger
	level zap.AtomicLevel
	attrs []zap.Field
}

func (h *slogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return h.level.Enabled(slogToZapLevel(level))
}

func (h *slogHandler) Handle(_ context.Context, record slog.Record) error {
	fields := append([]zap.Field{}, h.attrs...)

	record.Attrs(func(attr slog.Attr) bool {
		fields = append(fields, zap.Any(attr.Key, attr.Value.Any()))
		return true
	})

	if ce := h.zl.Check(slogToZapLevel(record.Level), record.Message); ce != nil {
		ce.Write(fields...)
	}

	return nil
}

func (h *slogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	fields := append([]zap.Field{}, h.attrs...)
	for _, attr := range attrs {
		fields = append(fields, zap.Any(attr.Key, attr.Value.Any()))
	}

	return &slogHandler{zl: h.zl, level: h.level, attrs: fields}
}

func (h *slogHandler) WithGroup(name string) slog.Handler {
	return &slogHandler{zl: h.zl.Named(name), level: h.level, attrs: h.attrs}
}

func slogToZapLevel(level slog.Level) zapcore.Level {
	switch {
	case level >= slog.LevelError:
		return zapcore.ErrorLevel
	case level >= slog.LevelWarn:
		return zapcore.WarnLevel
	case level >= slog.LevelInfo:
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}
