// Package alog provides the structured loggers used throughout livestore.
// All loggers are plain *slog.Logger values, so they can be passed to any
// component expecting one.
package alog

import (
	"context"
	"log/slog"
	"slices"
)

// Logger interface is a subset of slog.Logger, with the aim to:
//  1. encourage the use of the methods offering context.Context, so that tracing information can be correlated.
//  2. encourage the use of the levels `DEBUG` and `INFO` over others, but without preventing them.
type Logger interface {
	Log(ctx context.Context, level slog.Level, msg string, args ...any)
	LogAttrs(ctx context.Context, level slog.Level, msg string, attrs ...slog.Attr)
	DebugContext(ctx context.Context, msg string, args ...any)
	InfoContext(ctx context.Context, msg string, args ...any)
}

var _ Logger = (*slog.Logger)(nil)

const (
	// LevelInfo is used to see what is going on inside livestore.
	LevelInfo = slog.Level(-8)

	// LevelDebug is used by livestore developers, if you really want to know what is going on.
	LevelDebug = slog.Level(-12)
)

// MapLogLevelsToName replaces the default name of a custom log level with a speaking name for the livestore levels.
func MapLogLevelsToName(_ []string, attr slog.Attr) slog.Attr {
	if attr.Key == slog.LevelKey {
		level, _ := attr.Value.Any().(slog.Level)

		levelLabel, exists := levelNames()[level]
		if !exists {
			levelLabel = level.String()
		}

		attr.Value = slog.StringValue(levelLabel)
	}

	return attr
}

func levelNames() map[slog.Level]string {
	return map[slog.Level]string{
		LevelInfo:  "LIVESTORE:INFO",
		LevelDebug: "LIVESTORE:DEBUG",
	}
}

// ParseLevel accepts the slog level names as well as the livestore levels.
func ParseLevel(s string) (slog.Level, error) {
	for level, name := range levelNames() {
		if name == s {
			return level, nil
		}
	}

	var level slog.Level

	err := level.UnmarshalText([]byte(s))

	return level, err //nolint:wrapcheck // slog's error is descriptive
}

type ctxAttrKey struct{}

// AddAttr returns a copy of ctx, carrying attr.
// Each record logged with the returned ctx has the attribute.
func AddAttr(ctx context.Context, attr slog.Attr) context.Context {
	return AddAttrs(ctx, attr)
}

// AddAttrs is like AddAttr for multiple attributes.
func AddAttrs(ctx context.Context, attrs ...slog.Attr) context.Context {
	return context.WithValue(ctx, ctxAttrKey{}, append(slices.Clone(FromContext(ctx)), attrs...))
}

// ClearAttrs returns a copy of ctx without any attributes.
func ClearAttrs(ctx context.Context) context.Context {
	return context.WithValue(ctx, ctxAttrKey{}, []slog.Attr{})
}

// FromContext returns the attributes added via AddAttr and AddAttrs.
// It never returns nil.
func FromContext(ctx context.Context) []slog.Attr {
	if attrs, ok := ctx.Value(ctxAttrKey{}).([]slog.Attr); ok {
		return attrs
	}

	return []slog.Attr{}
}

// Error returns an attribute for err under the key "err".
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String("err", "<nil>")
	}

	return slog.String("err", err.Error())
}

// NewNoop returns a logger that discards everything.
// Ideal as dependency in tests.
func NewNoop() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}
