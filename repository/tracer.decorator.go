package repository

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/go-arrower/livestore/alog"
	"github.com/go-arrower/livestore/q"
)

// NewTracedRepository starts a span for every operation of repo.
func NewTracedRepository[E Record[E]](traceProvider trace.TracerProvider, repo Repository[E]) Repository[E] {
	return &repositoryTracingDecorator[E]{
		tracer: traceProvider.Tracer("livestore.repository"),
		entity: entityName[E](),
		base:   repo,
	}
}

// NewInstrumentedRepository is a convenience helper for easy dependency setup.
// The order of dependencies represents the order of calling.
func NewInstrumentedRepository[E Record[E]](
	traceProvider trace.TracerProvider,
	meterProvider metric.MeterProvider,
	logger alog.Logger,
	repo Repository[E],
) Repository[E] {
	return NewTracedRepository(traceProvider, NewMeteredRepository(meterProvider, NewLoggedRepository(logger, repo)))
}

type repositoryTracingDecorator[E Record[E]] struct {
	tracer trace.Tracer
	entity string
	base   Repository[E]
}

func (d *repositoryTracingDecorator[E]) Create(ctx context.Context, record E) error {
	return d.trace(ctx, "create", func(ctx context.Context) error { return d.base.Create(ctx, record) })
}

func (d *repositoryTracingDecorator[E]) Fetch(ctx context.Context, query q.Query) ([]E, error) {
	var records []E

	err := d.trace(ctx, "fetch", func(ctx context.Context) error {
		var err error
		records, err = d.base.Fetch(ctx, query)

		return err //nolint:wrapcheck // decorate but not change anything
	})

	return records, err
}

func (d *repositoryTracingDecorator[E]) FindByID(ctx context.Context, id string) (E, error) {
	var record E

	err := d.trace(ctx, "find_by_id", func(ctx context.Context) error {
		var err error
		record, err = d.base.FindByID(ctx, id)

		return err //nolint:wrapcheck // decorate but not change anything
	})

	return record, err
}

func (d *repositoryTracingDecorator[E]) Update(ctx context.Context, record E) error {
	return d.trace(ctx, "update", func(ctx context.Context) error { return d.base.Update(ctx, record) })
}

func (d *repositoryTracingDecorator[E]) Delete(ctx context.Context, record E) error {
	return d.trace(ctx, "delete", func(ctx context.Context) error { return d.base.Delete(ctx, record) })
}

func (d *repositoryTracingDecorator[E]) BatchDelete(ctx context.Context, records []E) error {
	return d.trace(ctx, "batch_delete", func(ctx context.Context) error { return d.base.BatchDelete(ctx, records) })
}

func (d *repositoryTracingDecorator[E]) DeleteAll(ctx context.Context) error {
	return d.trace(ctx, "delete_all", func(ctx context.Context) error { return d.base.DeleteAll(ctx) })
}

func (d *repositoryTracingDecorator[E]) Save(ctx context.Context) error {
	return d.trace(ctx, "save", func(ctx context.Context) error { return d.base.Save(ctx) })
}

func (d *repositoryTracingDecorator[E]) Count(ctx context.Context, query q.Query) (int, error) {
	var count int

	err := d.trace(ctx, "count", func(ctx context.Context) error {
		var err error
		count, err = d.base.Count(ctx, query)

		return err //nolint:wrapcheck // decorate but not change anything
	})

	return count, err
}

func (d *repositoryTracingDecorator[E]) trace(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	newCtx, span := d.tracer.Start(ctx, "repository."+op,
		trace.WithAttributes(
			attribute.String("operation", op),
			attribute.String("entity", d.entity),
		),
	)
	defer span.End()

	err := fn(newCtx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}

	return err
}
