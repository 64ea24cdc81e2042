package alog_test

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/embedded"
)

const applicationMsg = "application message"

var (
	ctx          = context.Background()
	errSomething = errors.New("some error")
)

// fakeSpan is an implementation of Span that is minimal for asserting tests.
type fakeSpan struct {
	embedded.Span

	eventName    string
	eventOptions []trace.EventOption

	statusErrorCode codes.Code
	statusErrorMsg  string

	tracer *fakeTracer
}

var _ trace.Span = (*fakeSpan)(nil)

func (*fakeSpan) SpanContext() trace.SpanContext {
	return trace.SpanContext{}.WithTraceID([16]byte{1}).WithSpanID([8]byte{1})
}

func (s *fakeSpan) IsRecording() bool { return false }

func (s *fakeSpan) SetStatus(code codes.Code, msg string) {
	s.statusErrorCode = code
	s.statusErrorMsg = msg
}

func (s *fakeSpan) SetAttributes(...attribute.KeyValue) {}

func (s *fakeSpan) End(...trace.SpanEndOption) {}

func (s *fakeSpan) RecordError(error, ...trace.EventOption) {}

func (s *fakeSpan) AddEvent(name string, opts ...trace.EventOption) {
	s.eventName = name
	s.eventOptions = opts
}

func (s *fakeSpan) AddLink(trace.Link) {}

func (s *fakeSpan) SetName(string) {}

func (s *fakeSpan) TracerProvider() trace.TracerProvider { //nolint:ireturn // required by the interface
	if s.tracer == nil {
		s.tracer = &fakeTracer{}
	}

	return &fakeTraceProvider{tracer: s.tracer}
}

type fakeTraceProvider struct {
	embedded.TracerProvider

	tracer *fakeTracer
}

func (f *fakeTraceProvider) Tracer(_ string, _ ...trace.TracerOption) trace.Tracer { //nolint:ireturn // required by the interface
	return f.tracer
}

type fakeTracer struct {
	embedded.Tracer

	mu    sync.Mutex
	spans []string
}

func (f *fakeTracer) Start(ctx context.Context, spanName string, _ ...trace.SpanStartOption) (context.Context, trace.Span) { //nolint:ireturn,lll // required by the interface
	f.mu.Lock()
	f.spans = append(f.spans, spanName)
	f.mu.Unlock()

	return ctx, &fakeSpan{}
}

func (f *fakeTracer) started() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]string{}, f.spans...)
}

type failingHandler struct{}

var _ slog.Handler = (*failingHandler)(nil)

func (f failingHandler) Enabled(_ context.Context, _ slog.Level) bool { return true }

func (f failingHandler) Handle(_ context.Context, _ slog.Record) error { return errSomething }

func (f failingHandler) WithAttrs(_ []slog.Attr) slog.Handler { return f }

func (f failingHandler) WithGroup(_ string) slog.Handler { return f }

// fakeT records failed assertions of a TestLogger.
type fakeT struct {
	mu     sync.Mutex
	errors []string
}

func (f *fakeT) Errorf(format string, args ...any) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.errors = append(f.errors, fmt.Sprintf(format, args...))
}

func (f *fakeT) Helper() {}
