package repository_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-arrower/livestore/aassert"
	"github.com/go-arrower/livestore/alog"
	"github.com/go-arrower/livestore/q"
	"github.com/go-arrower/livestore/repository"
	"github.com/go-arrower/livestore/repository/testdata"
	"github.com/go-arrower/livestore/store"
)

var ctx = context.Background()

func TestStoreRepository(t *testing.T) {
	t.Parallel()

	repository.TestSuite(t, func(t *testing.T, opts ...repository.Option) repository.Repository[testdata.Item] {
		t.Helper()

		return repository.NewStoreRepository[testdata.Item](openStore(t).NewBackgroundContext(), opts...)
	})
}

func TestItem(t *testing.T) {
	t.Parallel()

	aassert.MapsSchema(t, testdata.Schema, testdata.Item{})
}

func TestStoreRepository_Contexts(t *testing.T) {
	t.Parallel()

	t.Run("changes are visible in other contexts", func(t *testing.T) {
		t.Parallel()

		s := openStore(t)
		writer := repository.NewStoreRepository[testdata.Item](s.NewBackgroundContext())
		reader := repository.NewStoreRepository[testdata.Item](s.ViewContext())

		item := testdata.NewItem()
		require.NoError(t, writer.Create(ctx, item))

		got, err := reader.FindByID(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, item, got)

		item.Name = "renamed"
		require.NoError(t, writer.Update(ctx, item))

		got, err = reader.FindByID(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, "renamed", got.Name, "cached object is refreshed")

		require.NoError(t, writer.DeleteAll(ctx))

		all, err := reader.Fetch(ctx, q.All())
		require.NoError(t, err)
		assert.Empty(t, all)
	})

	t.Run("bulk delete evicts cached objects of other contexts", func(t *testing.T) {
		t.Parallel()

		s := openStore(t)
		writer := repository.NewStoreRepository[testdata.Item](s.NewBackgroundContext(), repository.WithBulkDeleteAll())
		reader := repository.NewStoreRepository[testdata.Item](s.ViewContext())

		item := testdata.NewItem()
		require.NoError(t, writer.Create(ctx, item))

		_, err := reader.FindByID(ctx, item.ID)
		require.NoError(t, err)

		require.NoError(t, writer.DeleteAll(ctx))

		_, err = reader.FindByID(ctx, item.ID)
		assert.ErrorIs(t, err, repository.ErrNotFound)
	})

	t.Run("concurrent writers", func(t *testing.T) {
		t.Parallel()

		s := openStore(t)

		const writers, records = 4, 10

		wg := sync.WaitGroup{}
		wg.Add(writers)

		for range writers {
			go func() {
				defer wg.Done()

				repo := repository.NewStoreRepository[testdata.Item](s.NewBackgroundContext())
				for range records {
					assert.NoError(t, repo.Create(ctx, testdata.NewItem()))
				}
			}()
		}

		wg.Wait()

		count, err := repository.NewStoreRepository[testdata.Item](s.ViewContext()).Count(ctx, q.All())
		assert.NoError(t, err)
		assert.Equal(t, writers*records, count)
	})
}

func TestStoreRepository_BatchDelete(t *testing.T) {
	t.Parallel()

	t.Run("empty writes nothing", func(t *testing.T) {
		t.Parallel()

		s := openStore(t)
		c := s.NewBackgroundContext()
		repo := repository.NewStoreRepository[testdata.Item](c)

		require.NoError(t, repo.Create(ctx, testdata.NewItem()))

		before, err := s.HistorySince(ctx, "")
		require.NoError(t, err)

		var fired atomic.Int32

		remove := c.AddChangeListener(func(store.ChangeSet) { fired.Add(1) })
		defer remove()

		assert.NoError(t, repo.BatchDelete(ctx, nil))
		assert.NoError(t, repo.BatchDelete(ctx, []testdata.Item{}))

		after, err := s.HistorySince(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, before, after, "no history is written")
		assert.Zero(t, fired.Load(), "no listener is called")
	})
}

func TestStoreRepository_RemovedByAnotherStore(t *testing.T) {
	t.Parallel()

	// setup creates an item through local and removes it through a second
	// store on the same database, while local still caches it.
	setup := func(t *testing.T, opts ...repository.Option) (*store.Store, repository.Repository[testdata.Item], testdata.Item) {
		t.Helper()

		dir := t.TempDir()
		local := openStoreIn(t, dir)
		remote := openStoreIn(t, dir)

		repo := repository.NewStoreRepository[testdata.Item](local.NewBackgroundContext(), opts...)

		item := testdata.NewItem()
		require.NoError(t, repo.Create(ctx, item))
		require.NoError(t, repository.NewStoreRepository[testdata.Item](remote.NewBackgroundContext()).Delete(ctx, item))

		return local, repo, item
	}

	ops := func(t *testing.T, s *store.Store) []string {
		t.Helper()

		history, err := s.HistorySince(ctx, "")
		require.NoError(t, err)

		ops := make([]string, 0, len(history))
		for _, e := range history {
			ops = append(ops, string(e.Op))
		}

		return ops
	}

	t.Run("update", func(t *testing.T) {
		t.Parallel()

		t.Run("missing record error", func(t *testing.T) {
			t.Parallel()

			s, repo, item := setup(t, repository.WithMissingRecordError())

			item.Name = "renamed"
			err := repo.Update(ctx, item)
			assert.ErrorIs(t, err, repository.ErrUpdate)
			assert.ErrorIs(t, err, repository.ErrNotFound)

			assert.Equal(t, []string{"insert", "delete"}, ops(t, s), "no update is recorded")
		})

		t.Run("ignore missing record", func(t *testing.T) {
			t.Parallel()

			s, repo, item := setup(t)

			item.Name = "renamed"
			assert.NoError(t, repo.Update(ctx, item))

			assert.Equal(t, []string{"insert", "delete"}, ops(t, s), "no update is recorded")

			count, err := repo.Count(ctx, q.All())
			assert.NoError(t, err)
			assert.Zero(t, count)
		})
	})

	t.Run("delete", func(t *testing.T) {
		t.Parallel()

		t.Run("missing record error", func(t *testing.T) {
			t.Parallel()

			s, repo, item := setup(t, repository.WithMissingRecordError())

			err := repo.Delete(ctx, item)
			assert.ErrorIs(t, err, repository.ErrDelete)
			assert.ErrorIs(t, err, repository.ErrNotFound)

			assert.Equal(t, []string{"insert", "delete"}, ops(t, s), "one delete is recorded")
		})

		t.Run("ignore missing record", func(t *testing.T) {
			t.Parallel()

			s, repo, item := setup(t)

			assert.NoError(t, repo.Delete(ctx, item))

			assert.Equal(t, []string{"insert", "delete"}, ops(t, s), "one delete is recorded")
		})
	})
}

func TestStoreRepository_Failures(t *testing.T) {
	t.Parallel()

	t.Run("closed store", func(t *testing.T) {
		t.Parallel()

		s := openStore(t)
		repo := repository.NewStoreRepository[testdata.Item](s.NewBackgroundContext())
		require.NoError(t, s.Close(ctx))

		err := repo.Create(ctx, testdata.NewItem())
		assert.ErrorIs(t, err, repository.ErrPersist)
		assert.ErrorIs(t, err, store.ErrStoreClosed)

		_, err = repo.Fetch(ctx, q.All())
		assert.ErrorIs(t, err, repository.ErrFetch)

		err = repo.Save(ctx)
		assert.ErrorIs(t, err, repository.ErrSave)

		_, err = repo.Count(ctx, q.All())
		assert.ErrorIs(t, err, repository.ErrCount)
	})

	t.Run("cancelled before start", func(t *testing.T) {
		t.Parallel()

		repo := repository.NewStoreRepository[testdata.Item](openStore(t).NewBackgroundContext())

		cctx, cancel := context.WithCancel(ctx)
		cancel()

		err := repo.Create(cctx, testdata.NewItem())
		if err != nil {
			assert.ErrorIs(t, err, context.Canceled)
		}
	})

	t.Run("log failures", func(t *testing.T) {
		t.Parallel()

		logger := alog.Test(t)
		repo := repository.NewStoreRepository[testdata.Item](openStore(t).NewBackgroundContext(),
			repository.WithLogger(logger), repository.WithMissingRecordError())

		err := repo.Delete(ctx, testdata.NewItem())
		assert.Error(t, err)

		logger.Contains("repository operation failed")
		logger.Contains("entity=Item")
	})
}

func openStore(t *testing.T) *store.Store {
	t.Helper()

	return openStoreIn(t, t.TempDir())
}

// openStoreIn opens a store in dir, so that stores of the same dir share one database.
func openStoreIn(t *testing.T, dir string) *store.Store {
	t.Helper()

	s, err := store.Open(ctx, store.Config{
		Dir:    dir,
		Name:   "repository",
		Schema: []store.EntityDescription{testdata.Schema},
	}, store.WithLogger(alog.Test(t).Logger))
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close(context.Background()) })

	return s
}
