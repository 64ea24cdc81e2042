package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-arrower/livestore/alog"
	"github.com/go-arrower/livestore/q"
	"github.com/go-arrower/livestore/store"
)

// NewStoreRepository returns a Repository working on the store.Context sctx.
// All operations are performed on sctx's worker, so two repositories
// on different contexts run concurrently, while operations on the same
// context are serialised.
func NewStoreRepository[E Record[E]](sctx *store.Context, opts ...Option) *StoreRepository[E] {
	conf := options{logger: alog.NewNoop()}
	for _, opt := range opts {
		opt(&conf)
	}

	return &StoreRepository[E]{
		sctx:   sctx,
		entity: entityName[E](),
		opts:   conf,
	}
}

// StoreRepository is the Repository on top of the livestore.
type StoreRepository[E Record[E]] struct {
	sctx   *store.Context
	entity string
	opts   options
}

func (repo *StoreRepository[E]) Create(ctx context.Context, r E) error {
	if r.Identity() == "" {
		return fmt.Errorf("%w: %w", ErrPersist, ErrMissingID)
	}

	return repo.perform(ctx, ErrPersist, func(ctx context.Context, c *store.Context) error {
		r.ToEntity(c)

		_, err := c.Save(ctx)
		if errors.Is(err, store.ErrAlreadyExists) {
			return fmt.Errorf("%w: %s %s", ErrAlreadyExists, repo.entity, r.Identity())
		}

		return err //nolint:wrapcheck // wrapped by perform
	})
}

func (repo *StoreRepository[E]) Fetch(ctx context.Context, query q.Query) ([]E, error) {
	var (
		records []E
		sq      = query.Sendable()
	)

	err := repo.perform(ctx, ErrFetch, func(ctx context.Context, c *store.Context) error {
		objects, err := c.Fetch(ctx, repo.entity, sq.Get())
		if err != nil {
			return err //nolint:wrapcheck // wrapped by perform
		}

		records = convert[E](objects)

		return nil
	})

	return records, err
}

func (repo *StoreRepository[E]) FindByID(ctx context.Context, id string) (E, error) {
	var r E

	err := repo.perform(ctx, ErrFetch, func(ctx context.Context, c *store.Context) error {
		o, err := c.ObjectWithID(ctx, repo.entity, id)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s %s", ErrNotFound, repo.entity, id)
		}

		if err != nil {
			return err //nolint:wrapcheck // wrapped by perform
		}

		r = r.FromEntity(o)

		return nil
	})

	return r, err
}

func (repo *StoreRepository[E]) Update(ctx context.Context, r E) error {
	if r.Identity() == "" {
		return fmt.Errorf("%w: %w", ErrUpdate, ErrMissingID)
	}

	return repo.perform(ctx, ErrUpdate, func(ctx context.Context, c *store.Context) error {
		o, err := repo.lookup(ctx, c, r.Identity())
		if err != nil || o == nil {
			return err
		}

		r.ApplyMutableFields(o)

		return repo.save(ctx, c)
	})
}

func (repo *StoreRepository[E]) Delete(ctx context.Context, r E) error {
	if r.Identity() == "" {
		return fmt.Errorf("%w: %w", ErrDelete, ErrMissingID)
	}

	return repo.perform(ctx, ErrDelete, func(ctx context.Context, c *store.Context) error {
		o, err := repo.lookup(ctx, c, r.Identity())
		if err != nil || o == nil {
			return err
		}

		c.DeleteObject(o)

		return repo.save(ctx, c)
	})
}

func (repo *StoreRepository[E]) BatchDelete(ctx context.Context, records []E) error {
	if len(records) == 0 {
		return nil
	}

	ids := make([]any, 0, len(records))
	unique := make(map[string]struct{}, len(records))

	for _, r := range records {
		if r.Identity() == "" {
			return fmt.Errorf("%w: %w", ErrDelete, ErrMissingID)
		}

		if _, ok := unique[r.Identity()]; !ok {
			unique[r.Identity()] = struct{}{}
			ids = append(ids, r.Identity())
		}
	}

	query := q.Where(store.IDField).In(ids...).Sendable()

	return repo.perform(ctx, ErrDelete, func(ctx context.Context, c *store.Context) error {
		objects, err := c.Fetch(ctx, repo.entity, query.Get())
		if err != nil {
			return err //nolint:wrapcheck // wrapped by perform
		}

		if repo.opts.missingRecordError && len(objects) != len(ids) {
			return fmt.Errorf("%w: %d of %d %s", ErrNotFound, len(ids)-len(objects), len(ids), repo.entity)
		}

		for _, o := range objects {
			c.DeleteObject(o)
		}

		return repo.save(ctx, c)
	})
}

func (repo *StoreRepository[E]) DeleteAll(ctx context.Context) error {
	return repo.perform(ctx, ErrDelete, func(ctx context.Context, c *store.Context) error {
		if repo.opts.bulkDeleteAll {
			// pending changes of other entities would be lost by the reset in BatchDelete
			if err := repo.save(ctx, c); err != nil {
				return err
			}

			_, err := c.BatchDelete(ctx, repo.entity, q.All())

			return err //nolint:wrapcheck // wrapped by perform
		}

		objects, err := c.Fetch(ctx, repo.entity, q.All())
		if err != nil {
			return err //nolint:wrapcheck // wrapped by perform
		}

		for _, o := range objects {
			c.DeleteObject(o)
		}

		return repo.save(ctx, c)
	})
}

func (repo *StoreRepository[E]) Save(ctx context.Context) error {
	return repo.perform(ctx, ErrSave, repo.save)
}

func (repo *StoreRepository[E]) Count(ctx context.Context, query q.Query) (int, error) {
	var (
		count int
		sq    = query.Sendable()
	)

	err := repo.perform(ctx, ErrCount, func(ctx context.Context, c *store.Context) error {
		var err error
		count, err = c.Count(ctx, repo.entity, sq.Get())

		return err //nolint:wrapcheck // wrapped by perform
	})

	return count, err
}

// perform runs fn in the repository's context. If fn fails, all pending
// changes of the context are rolled back, so the next operation starts clean.
func (repo *StoreRepository[E]) perform(
	ctx context.Context,
	kind error,
	fn func(ctx context.Context, c *store.Context) error,
) error {
	err := repo.sctx.Perform(ctx, func(ctx context.Context, c *store.Context) error {
		err := fn(ctx, c)
		if err != nil {
			c.Rollback()
		}

		return err
	})
	if err == nil {
		return nil
	}

	repo.opts.logger.Log(ctx, alog.LevelInfo, "repository operation failed",
		slog.String("entity", repo.entity),
		alog.Error(err),
	)

	return fmt.Errorf("%w: %w", kind, err)
}

// save saves c. Rows removed by another store in the meantime are missing
// records: their objects are evicted by the store and the remaining changes
// are saved again.
func (repo *StoreRepository[E]) save(ctx context.Context, c *store.Context) error {
	_, err := c.Save(ctx)

	for errors.Is(err, store.ErrNotFound) {
		if repo.opts.missingRecordError {
			return fmt.Errorf("%w: %w", ErrNotFound, err)
		}

		repo.opts.logger.Log(ctx, alog.LevelDebug, "record removed by another store, ignoring",
			slog.String("entity", repo.entity),
			alog.Error(err),
		)

		// each failed Save evicts at least one object, so this ends
		_, err = c.Save(ctx)
	}

	return err //nolint:wrapcheck // wrapped by perform
}

// lookup returns the object with id, or nil if it does not exist
// and missing records are not an error.
func (repo *StoreRepository[E]) lookup(ctx context.Context, c *store.Context, id string) (*store.Object, error) {
	o, err := c.ObjectWithID(ctx, repo.entity, id)
	if errors.Is(err, store.ErrNotFound) {
		if repo.opts.missingRecordError {
			return nil, fmt.Errorf("%w: %s %s", ErrNotFound, repo.entity, id)
		}

		repo.opts.logger.Log(ctx, alog.LevelDebug, "record does not exist, ignoring",
			slog.String("entity", repo.entity),
			slog.String("id", id),
		)

		return nil, nil //nolint:nilnil // a missing record is no error
	}

	return o, err //nolint:wrapcheck // wrapped by perform
}

func convert[E Record[E]](objects []*store.Object) []E {
	var zero E

	records := make([]E, 0, len(objects))
	for _, o := range objects {
		records = append(records, zero.FromEntity(o))
	}

	return records
}
