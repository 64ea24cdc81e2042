package repository

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/go-arrower/livestore/q"
)

// NewMeteredRepository counts and times every operation of repo.
func NewMeteredRepository[E Record[E]](meterProvider metric.MeterProvider, repo Repository[E]) Repository[E] {
	meter := meterProvider.Meter("livestore.repository")

	counter, _ := meter.Int64Counter("repository_operations",
		metric.WithDescription("number of repository operations"))
	duration, _ := meter.Float64Histogram("repository_operations_duration_seconds",
		metric.WithDescription("duration of repository operations"))

	return &repositoryMeteringDecorator[E]{
		counter:  counter,
		duration: duration,
		entity:   entityName[E](),
		base:     repo,
	}
}

type repositoryMeteringDecorator[E Record[E]] struct {
	counter  metric.Int64Counter
	duration metric.Float64Histogram
	entity   string
	base     Repository[E]
}

func (d *repositoryMeteringDecorator[E]) Create(ctx context.Context, record E) error {
	return d.measure(ctx, "create", func() error { return d.base.Create(ctx, record) })
}

func (d *repositoryMeteringDecorator[E]) Fetch(ctx context.Context, query q.Query) ([]E, error) {
	var records []E

	err := d.measure(ctx, "fetch", func() error {
		var err error
		records, err = d.base.Fetch(ctx, query)

		return err //nolint:wrapcheck // decorate but not change anything
	})

	return records, err
}

func (d *repositoryMeteringDecorator[E]) FindByID(ctx context.Context, id string) (E, error) {
	var record E

	err := d.measure(ctx, "find_by_id", func() error {
		var err error
		record, err = d.base.FindByID(ctx, id)

		return err //nolint:wrapcheck // decorate but not change anything
	})

	return record, err
}

func (d *repositoryMeteringDecorator[E]) Update(ctx context.Context, record E) error {
	return d.measure(ctx, "update", func() error { return d.base.Update(ctx, record) })
}

func (d *repositoryMeteringDecorator[E]) Delete(ctx context.Context, record E) error {
	return d.measure(ctx, "delete", func() error { return d.base.Delete(ctx, record) })
}

func (d *repositoryMeteringDecorator[E]) BatchDelete(ctx context.Context, records []E) error {
	return d.measure(ctx, "batch_delete", func() error { return d.base.BatchDelete(ctx, records) })
}

func (d *repositoryMeteringDecorator[E]) DeleteAll(ctx context.Context) error {
	return d.measure(ctx, "delete_all", func() error { return d.base.DeleteAll(ctx) })
}

func (d *repositoryMeteringDecorator[E]) Save(ctx context.Context) error {
	return d.measure(ctx, "save", func() error { return d.base.Save(ctx) })
}

func (d *repositoryMeteringDecorator[E]) Count(ctx context.Context, query q.Query) (int, error) {
	var count int

	err := d.measure(ctx, "count", func() error {
		var err error
		count, err = d.base.Count(ctx, query)

		return err //nolint:wrapcheck // decorate but not change anything
	})

	return count, err
}

func (d *repositoryMeteringDecorator[E]) measure(ctx context.Context, op string, fn func() error) error {
	status := "success"

	start := time.Now()
	defer func() { //nolint:wsl_v5
		opt := metric.WithAttributes(
			attribute.String("operation", op),
			attribute.String("entity", d.entity),
			attribute.String("status", status),
		)

		d.counter.Add(ctx, 1, opt)
		d.duration.Record(ctx, time.Since(start).Seconds(), opt)
	}()

	err := fn()
	if err != nil {
		status = "failure"
	}

	return err
}
