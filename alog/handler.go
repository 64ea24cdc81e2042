package alog

import (
	"context"
	"errors"
	"log/slog"
	"os"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Option configures a logger created with New.
type Option func(h *handler)

// WithHandler adds a slog.Handler the records are written to.
// Use it as often as needed; the first use replaces the default JSON handler.
func WithHandler(h slog.Handler) Option {
	return func(lh *handler) {
		lh.outputs = append(lh.outputs, h)
	}
}

// WithLevel sets the initial level.
// Change it later with Unwrap(logger).SetLevel(level).
func WithLevel(level slog.Level) Option {
	return func(h *handler) {
		h.level.Set(level)
	}
}

// New returns a logger that writes every record to all its handlers and
// correlates it with the span in the context of the call.
//
// Without WithHandler, records are written as JSON to os.Stderr.
func New(opts ...Option) *slog.Logger {
	return slog.New(newHandler(opts...))
}

// NewDevelopment returns a logger writing text to os.Stderr, including the livestore levels.
func NewDevelopment() *slog.Logger {
	return New(
		WithLevel(LevelDebug),
		WithHandler(slog.NewTextHandler(os.Stderr, textOptions())),
	)
}

func newHandler(opts ...Option) *handler {
	h := &handler{level: &slog.LevelVar{}}
	h.level.Set(slog.LevelInfo)

	for _, opt := range opts {
		opt(h)
	}

	if len(h.outputs) == 0 {
		h.outputs = []slog.Handler{slog.NewJSONHandler(os.Stderr, jsonOptions())}
	}

	return h
}

// handler fans records out to its outputs.
// All handlers derived with WithAttrs or WithGroup share one level,
// the levels of the outputs are ignored.
type handler struct {
	level   *slog.LevelVar
	outputs []slog.Handler
}

var (
	_ slog.Handler    = (*handler)(nil)
	_ LevelController = (*handler)(nil)
)

func (h *handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle records a "log" span for itself, so slow outputs show up in traces.
func (h *handler) Handle(ctx context.Context, record slog.Record) error {
	parent := trace.SpanFromContext(ctx)

	ctx, span := parent.TracerProvider().Tracer("livestore.log").Start(ctx, "log")
	defer span.End()

	correlate(parent, &record)

	if attrs := FromContext(ctx); len(attrs) > 0 {
		record.AddAttrs(attrs...)
	}

	annotate(parent, record)

	var err error
	for _, out := range h.outputs {
		err = errors.Join(err, out.Handle(ctx, record))
	}

	return err
}

func (h *handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return h.derive(func(out slog.Handler) slog.Handler { return out.WithAttrs(attrs) })
}

func (h *handler) WithGroup(name string) slog.Handler {
	return h.derive(func(out slog.Handler) slog.Handler { return out.WithGroup(name) })
}

func (h *handler) derive(fn func(slog.Handler) slog.Handler) *handler {
	outputs := make([]slog.Handler, 0, len(h.outputs))
	for _, out := range h.outputs {
		outputs = append(outputs, fn(out))
	}

	return &handler{level: h.level, outputs: outputs}
}

func (h *handler) SetLevel(level slog.Level) { h.level.Set(level) }

func (h *handler) Level() slog.Level { return h.level.Level() }

// correlate adds the ids of span to record, so log lines can be found from a trace.
func correlate(span trace.Span, record *slog.Record) {
	sc := span.SpanContext()

	if sc.HasTraceID() {
		record.AddAttrs(slog.String("traceID", sc.TraceID().String()))
	}

	if sc.HasSpanID() {
		record.AddAttrs(slog.String("spanID", sc.SpanID().String()))
	}
}

// annotate adds record as event to span. Errors mark the span as failed.
func annotate(span trace.Span, record slog.Record) {
	attrs := make([]attribute.KeyValue, 0, record.NumAttrs()+2) //nolint:mnd // severity and message
	attrs = append(attrs,
		attribute.String("log.severity", record.Level.String()),
		attribute.String("log.message", record.Message),
	)

	record.Attrs(func(a slog.Attr) bool {
		attrs = append(attrs, attribute.String(a.Key, a.Value.String()))

		return true
	})

	span.SetAttributes(attrs...)
	span.AddEvent("log", trace.WithAttributes(attrs...))

	if record.Level >= slog.LevelError {
		span.SetStatus(codes.Error, record.Message)
	}
}

// LevelController changes the level of a logger at run time.
// Get one with Unwrap.
type LevelController interface {
	SetLevel(level slog.Level)
	Level() slog.Level
}

// Unwrap returns the LevelController of a logger created by this package,
// or nil for any other logger.
func Unwrap(logger Logger) LevelController { //nolint:ireturn // TestLogger or handler
	switch l := logger.(type) {
	case *TestLogger:
		return l
	case *slog.Logger:
		if h, ok := l.Handler().(*handler); ok {
			return h
		}
	}

	return nil
}

func jsonOptions() *slog.HandlerOptions {
	return &slog.HandlerOptions{
		AddSource:   true,
		Level:       LevelDebug, // filtered by handler
		ReplaceAttr: MapLogLevelsToName,
	}
}

func textOptions() *slog.HandlerOptions {
	opts := jsonOptions()
	opts.AddSource = false

	return opts
}
