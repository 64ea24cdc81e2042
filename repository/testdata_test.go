package repository_test

import (
	"context"
	"errors"

	"github.com/go-arrower/livestore/q"
	"github.com/go-arrower/livestore/repository"
	"github.com/go-arrower/livestore/repository/testdata"
)

var errRepositoryFailed = errors.New("repository failed")

// stubRepository returns err for every operation.
type stubRepository struct {
	err error
}

var _ repository.Repository[testdata.Item] = (*stubRepository)(nil)

func (r *stubRepository) Create(context.Context, testdata.Item) error { return r.err }

func (r *stubRepository) Fetch(context.Context, q.Query) ([]testdata.Item, error) {
	return []testdata.Item{}, r.err
}

func (r *stubRepository) FindByID(context.Context, string) (testdata.Item, error) {
	return testdata.Item{}, r.err
}

func (r *stubRepository) Update(context.Context, testdata.Item) error        { return r.err }
func (r *stubRepository) Delete(context.Context, testdata.Item) error        { return r.err }
func (r *stubRepository) BatchDelete(context.Context, []testdata.Item) error { return r.err }
func (r *stubRepository) DeleteAll(context.Context) error                    { return r.err }
func (r *stubRepository) Save(context.Context) error                         { return r.err }

func (r *stubRepository) Count(context.Context, q.Query) (int, error) { return 0, r.err }

func succeedingRepository() *stubRepository { return &stubRepository{} }

func failingRepository() *stubRepository { return &stubRepository{err: errRepositoryFailed} }

// allOperations calls every operation of repo once.
func allOperations(repo repository.Repository[testdata.Item]) []error {
	item := testdata.NewItem()

	_, fetchErr := repo.Fetch(ctx, q.All())
	_, findErr := repo.FindByID(ctx, item.ID)
	_, countErr := repo.Count(ctx, q.All())

	return []error{
		repo.Create(ctx, item),
		fetchErr,
		findErr,
		repo.Update(ctx, item),
		repo.Delete(ctx, item),
		repo.BatchDelete(ctx, []testdata.Item{item}),
		repo.DeleteAll(ctx),
		repo.Save(ctx),
		countErr,
	}
}
