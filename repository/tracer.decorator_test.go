package repository_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/embedded"

	"github.com/go-arrower/livestore/alog"
	"github.com/go-arrower/livestore/repository"
	"github.com/go-arrower/livestore/repository/testdata"
)

func TestRepositoryTracingDecorator(t *testing.T) {
	t.Parallel()

	t.Run("successful operations", func(t *testing.T) {
		t.Parallel()

		repo := repository.NewTracedRepository[testdata.Item](newFakeTracer(t), succeedingRepository())

		for _, err := range allOperations(repo) {
			assert.NoError(t, err)
		}
	})

	t.Run("failed operations", func(t *testing.T) {
		t.Parallel()

		repo := repository.NewTracedRepository[testdata.Item](newFakeTracer(t), failingRepository())

		for _, err := range allOperations(repo) {
			assert.ErrorIs(t, err, errRepositoryFailed)
		}
	})
}

func TestNewInstrumentedRepository(t *testing.T) {
	t.Parallel()

	registry, meterProvider := newMeterProvider(t)

	repo := repository.NewInstrumentedRepository[testdata.Item](
		newFakeTracer(t), meterProvider, alog.Test(t), failingRepository(),
	)

	err := repo.Save(ctx)
	assert.ErrorIs(t, err, errRepositoryFailed)

	families, err := registry.Gather()
	assert.NoError(t, err)
	assert.NotEmpty(t, families)
}

func newFakeTracer(t *testing.T) trace.TracerProvider { //nolint:ireturn
	t.Helper()

	return &fakeTracerProvider{t: t}
}

type (
	fakeTracerProvider struct {
		embedded.TracerProvider
		t *testing.T
	}
	fakeTracer struct {
		embedded.Tracer
		t *testing.T
	}
	fakeSpan struct {
		embedded.Span
		t *testing.T
	}
)

var _ trace.TracerProvider = (*fakeTracerProvider)(nil)

func (f fakeTracerProvider) Tracer(name string, _ ...trace.TracerOption) trace.Tracer { //nolint:ireturn
	f.t.Helper()

	assert.Equal(f.t, "livestore.repository", name)

	return &fakeTracer{t: f.t}
}

var _ trace.Tracer = (*fakeTracer)(nil)

func (f fakeTracer) Start( //nolint:ireturn
	ctx context.Context,
	spanName string,
	opts ...trace.SpanStartOption,
) (context.Context, trace.Span) {
	f.t.Helper()

	assert.True(f.t, strings.HasPrefix(spanName, "repository."), spanName)

	cfg := trace.NewSpanStartConfig(opts...)
	attrs := cfg.Attributes()
	assert.Contains(f.t, attrs, attribute.String("entity", testdata.ItemEntity))
	assert.Contains(f.t, attrs, attribute.String("operation", strings.TrimPrefix(spanName, "repository.")))

	return ctx, &fakeSpan{t: f.t}
}

var _ trace.Span = (*fakeSpan)(nil)

func (f fakeSpan) End(_ ...trace.SpanEndOption) {}

func (f fakeSpan) AddEvent(_ string, _ ...trace.EventOption) {
	panic("implement me")
}

func (f fakeSpan) AddLink(_ trace.Link) {
	panic("implement me")
}

func (f fakeSpan) IsRecording() bool {
	panic("implement me")
}

func (f fakeSpan) RecordError(_ error, _ ...trace.EventOption) {
	panic("implement me")
}

func (f fakeSpan) SpanContext() trace.SpanContext {
	panic("implement me")
}

func (f fakeSpan) SetStatus(code codes.Code, description string) {
	f.t.Helper()

	// only set if the operation failed
	assert.Equal(f.t, codes.Error, code)
	assert.Equal(f.t, errRepositoryFailed.Error(), description)
}

func (f fakeSpan) SetName(_ string) {
	panic("implement me")
}

func (f fakeSpan) SetAttributes(_ ...attribute.KeyValue) {
	panic("implement me")
}

func (f fakeSpan) TracerProvider() trace.TracerProvider { //nolint:ireturn
	panic("implement me")
}
