package repository

import (
	"context"
	"log/slog"

	"github.com/go-arrower/livestore/alog"
	"github.com/go-arrower/livestore/q"
)

// NewLoggedRepository logs every operation of repo at debug level.
func NewLoggedRepository[E Record[E]](logger alog.Logger, repo Repository[E]) Repository[E] {
	return &repositoryLoggingDecorator[E]{
		logger: logger,
		entity: entityName[E](),
		base:   repo,
	}
}

type repositoryLoggingDecorator[E Record[E]] struct {
	logger alog.Logger
	entity string
	base   Repository[E]
}

func (d *repositoryLoggingDecorator[E]) Create(ctx context.Context, record E) error {
	return d.log(ctx, "create", func() error { return d.base.Create(ctx, record) })
}

func (d *repositoryLoggingDecorator[E]) Fetch(ctx context.Context, query q.Query) ([]E, error) {
	var records []E

	err := d.log(ctx, "fetch", func() error {
		var err error
		records, err = d.base.Fetch(ctx, query)

		return err //nolint:wrapcheck // decorate but not change anything
	}, slog.String("query", query.String()))

	return records, err
}

func (d *repositoryLoggingDecorator[E]) FindByID(ctx context.Context, id string) (E, error) {
	var record E

	err := d.log(ctx, "find_by_id", func() error {
		var err error
		record, err = d.base.FindByID(ctx, id)

		return err //nolint:wrapcheck // decorate but not change anything
	}, slog.String("id", id))

	return record, err
}

func (d *repositoryLoggingDecorator[E]) Update(ctx context.Context, record E) error {
	return d.log(ctx, "update", func() error { return d.base.Update(ctx, record) },
		slog.String("id", record.Identity()))
}

func (d *repositoryLoggingDecorator[E]) Delete(ctx context.Context, record E) error {
	return d.log(ctx, "delete", func() error { return d.base.Delete(ctx, record) },
		slog.String("id", record.Identity()))
}

func (d *repositoryLoggingDecorator[E]) BatchDelete(ctx context.Context, records []E) error {
	return d.log(ctx, "batch_delete", func() error { return d.base.BatchDelete(ctx, records) },
		slog.Int("records", len(records)))
}

func (d *repositoryLoggingDecorator[E]) DeleteAll(ctx context.Context) error {
	return d.log(ctx, "delete_all", func() error { return d.base.DeleteAll(ctx) })
}

func (d *repositoryLoggingDecorator[E]) Save(ctx context.Context) error {
	return d.log(ctx, "save", func() error { return d.base.Save(ctx) })
}

func (d *repositoryLoggingDecorator[E]) Count(ctx context.Context, query q.Query) (int, error) {
	var count int

	err := d.log(ctx, "count", func() error {
		var err error
		count, err = d.base.Count(ctx, query)

		return err //nolint:wrapcheck // decorate but not change anything
	}, slog.String("query", query.String()))

	return count, err
}

func (d *repositoryLoggingDecorator[E]) log(ctx context.Context, op string, fn func() error, attrs ...slog.Attr) error {
	attrs = append([]slog.Attr{slog.String("operation", op), slog.String("entity", d.entity)}, attrs...)

	d.logger.LogAttrs(ctx, slog.LevelDebug, "executing repository operation", attrs...)

	err := fn()

	if err != nil {
		d.logger.LogAttrs(ctx, slog.LevelDebug, "failed to execute repository operation", append(attrs, alog.Error(err))...)
	} else {
		d.logger.LogAttrs(ctx, slog.LevelDebug, "repository operation executed successfully", attrs...)
	}

	return err
}
