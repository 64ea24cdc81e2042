package repository

import (
	"context"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-arrower/livestore/q"
	"github.com/go-arrower/livestore/repository/testdata"
)

// TestSuite is the behaviour every Repository implementation has to show.
// newRepo has to return an empty repository for testdata.Item.
func TestSuite(
	t *testing.T,
	newRepo func(t *testing.T, opts ...Option) Repository[testdata.Item],
) { //nolint:tparallel // t.Parallel can only be called ones! The caller decides
	t.Helper()

	if newRepo == nil {
		t.Fatal("repository constructor is nil")
	}

	ctx := context.Background()

	t.Run("new", func(t *testing.T) {
		t.Parallel()

		repo := newRepo(t)
		assert.NotNil(t, repo)

		count, err := repo.Count(ctx, q.All())
		assert.NoError(t, err)
		assert.Equal(t, 0, count, "new repository should be empty")
	})

	t.Run("Create", func(t *testing.T) {
		t.Parallel()

		t.Run("create", func(t *testing.T) {
			t.Parallel()

			repo := newRepo(t)
			item := testdata.NewItem()

			err := repo.Create(ctx, item)
			assert.NoError(t, err)

			got, err := repo.FindByID(ctx, item.ID)
			assert.NoError(t, err)
			assert.Equal(t, item, got)
		})

		t.Run("create same again", func(t *testing.T) {
			t.Parallel()

			repo := newRepo(t)
			item := testdata.NewItem()

			err := repo.Create(ctx, item)
			assert.NoError(t, err)

			err = repo.Create(ctx, item)
			assert.ErrorIs(t, err, ErrPersist)
			assert.ErrorIs(t, err, ErrAlreadyExists)

			all, err := repo.Fetch(ctx, q.All())
			assert.NoError(t, err)
			assert.Equal(t, []testdata.Item{item}, all, "failed create leaves no trace")
		})

		t.Run("missing id", func(t *testing.T) {
			t.Parallel()

			repo := newRepo(t)

			err := repo.Create(ctx, testdata.Item{Name: gofakeit.Name()})
			assert.ErrorIs(t, err, ErrPersist)
			assert.ErrorIs(t, err, ErrMissingID)
		})
	})

	t.Run("Fetch", func(t *testing.T) {
		t.Parallel()

		t.Run("empty", func(t *testing.T) {
			t.Parallel()

			repo := newRepo(t)

			all, err := repo.Fetch(ctx, q.All())
			assert.NoError(t, err)
			assert.NotNil(t, all)
			assert.Empty(t, all)
		})

		t.Run("sort keys and insertion order", func(t *testing.T) {
			t.Parallel()

			repo := newRepo(t)

			i0, i1, i2, i3 := testdata.NewItemWithRank(0), testdata.NewItemWithRank(1),
				testdata.NewItemWithRank(2), testdata.NewItemWithRank(1)

			for _, item := range []testdata.Item{i0, i1, i2, i3} {
				require.NoError(t, repo.Create(ctx, item))
			}

			all, err := repo.Fetch(ctx, q.OrderBy("Rank").Descending())
			assert.NoError(t, err)
			assert.Equal(t, []testdata.Item{i2, i1, i3, i0}, all)

			all, err = repo.Fetch(ctx, q.OrderBy("rank").Ascending().OrderBy("name").Descending())
			assert.NoError(t, err)
			assert.Equal(t, i0, all[0])
			assert.Equal(t, i2, all[3])

			all, err = repo.Fetch(ctx, q.All())
			assert.NoError(t, err)
			assert.Equal(t, []testdata.Item{i0, i1, i2, i3}, all)
		})

		t.Run("filter", func(t *testing.T) {
			t.Parallel()

			repo := newRepo(t)

			low, high := testdata.NewItemWithRank(1), testdata.NewItemWithRank(8)
			require.NoError(t, repo.Create(ctx, low))
			require.NoError(t, repo.Create(ctx, high))

			all, err := repo.Fetch(ctx, q.Where("rank").GreaterThan(5))
			assert.NoError(t, err)
			assert.Equal(t, []testdata.Item{high}, all)

			all, err = repo.Fetch(ctx, q.Where("name").Is(low.Name))
			assert.NoError(t, err)
			assert.Equal(t, []testdata.Item{low}, all)
		})

		t.Run("unknown field", func(t *testing.T) {
			t.Parallel()

			repo := newRepo(t)

			_, err := repo.Fetch(ctx, q.Where("colour").Is("red"))
			assert.ErrorIs(t, err, ErrFetch)
		})
	})

	t.Run("FindByID", func(t *testing.T) {
		t.Parallel()

		repo := newRepo(t)

		item, err := repo.FindByID(ctx, uuid.NewString())
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Empty(t, item)
	})

	t.Run("Update", func(t *testing.T) {
		t.Parallel()

		t.Run("update", func(t *testing.T) {
			t.Parallel()

			repo := newRepo(t)
			item := testdata.NewItem()
			require.NoError(t, repo.Create(ctx, item))

			item.Name = gofakeit.Name()
			item.Rank++

			err := repo.Update(ctx, item)
			assert.NoError(t, err)

			got, err := repo.FindByID(ctx, item.ID)
			assert.NoError(t, err)
			assert.Equal(t, item, got)
		})

		t.Run("keep immutable fields", func(t *testing.T) {
			t.Parallel()

			repo := newRepo(t)
			item := testdata.NewItem()
			require.NoError(t, repo.Create(ctx, item))

			changed := item
			changed.Name = gofakeit.Name()
			changed.CreatedAt = item.CreatedAt.Add(time.Hour)

			err := repo.Update(ctx, changed)
			assert.NoError(t, err)

			got, err := repo.FindByID(ctx, item.ID)
			assert.NoError(t, err)
			assert.Equal(t, changed.Name, got.Name)
			assert.Equal(t, item.CreatedAt, got.CreatedAt)
		})

		t.Run("does not exist", func(t *testing.T) {
			t.Parallel()

			repo := newRepo(t)
			existing := testdata.NewItem()
			require.NoError(t, repo.Create(ctx, existing))

			err := repo.Update(ctx, testdata.NewItem())
			assert.NoError(t, err)

			all, err := repo.Fetch(ctx, q.All())
			assert.NoError(t, err)
			assert.Equal(t, []testdata.Item{existing}, all, "no observable change")
		})

		t.Run("does not exist, strict", func(t *testing.T) {
			t.Parallel()

			repo := newRepo(t, WithMissingRecordError())

			err := repo.Update(ctx, testdata.NewItem())
			assert.ErrorIs(t, err, ErrUpdate)
			assert.ErrorIs(t, err, ErrNotFound)
		})

		t.Run("missing id", func(t *testing.T) {
			t.Parallel()

			repo := newRepo(t)

			err := repo.Update(ctx, testdata.Item{})
			assert.ErrorIs(t, err, ErrMissingID)
		})
	})

	t.Run("Delete", func(t *testing.T) {
		t.Parallel()

		t.Run("delete", func(t *testing.T) {
			t.Parallel()

			repo := newRepo(t)
			item := testdata.NewItem()
			require.NoError(t, repo.Create(ctx, item))

			err := repo.Delete(ctx, item)
			assert.NoError(t, err)

			_, err = repo.FindByID(ctx, item.ID)
			assert.ErrorIs(t, err, ErrNotFound)
		})

		t.Run("delete twice", func(t *testing.T) {
			t.Parallel()

			repo := newRepo(t)
			item, other := testdata.NewItem(), testdata.NewItem()
			require.NoError(t, repo.Create(ctx, item))
			require.NoError(t, repo.Create(ctx, other))

			assert.NoError(t, repo.Delete(ctx, item))
			assert.NoError(t, repo.Delete(ctx, item))

			all, err := repo.Fetch(ctx, q.All())
			assert.NoError(t, err)
			assert.Equal(t, []testdata.Item{other}, all)
		})

		t.Run("does not exist, strict", func(t *testing.T) {
			t.Parallel()

			repo := newRepo(t, WithMissingRecordError())

			err := repo.Delete(ctx, testdata.NewItem())
			assert.ErrorIs(t, err, ErrDelete)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	})

	t.Run("BatchDelete", func(t *testing.T) {
		t.Parallel()

		t.Run("delete some", func(t *testing.T) {
			t.Parallel()

			repo := newRepo(t)
			i0, i1, i2 := testdata.NewItem(), testdata.NewItem(), testdata.NewItem()

			for _, item := range []testdata.Item{i0, i1, i2} {
				require.NoError(t, repo.Create(ctx, item))
			}

			err := repo.BatchDelete(ctx, []testdata.Item{i0, i2, i2, testdata.NewItem()})
			assert.NoError(t, err)

			all, err := repo.Fetch(ctx, q.All())
			assert.NoError(t, err)
			assert.Equal(t, []testdata.Item{i1}, all)
		})

		t.Run("empty", func(t *testing.T) {
			t.Parallel()

			repo := newRepo(t)
			item := testdata.NewItem()
			require.NoError(t, repo.Create(ctx, item))

			assert.NoError(t, repo.BatchDelete(ctx, nil))
			assert.NoError(t, repo.BatchDelete(ctx, []testdata.Item{}))

			cancelled, cancel := context.WithCancel(ctx)
			cancel()
			assert.NoError(t, repo.BatchDelete(cancelled, nil), "returns before touching the storage")

			all, err := repo.Fetch(ctx, q.All())
			assert.NoError(t, err)
			assert.Equal(t, []testdata.Item{item}, all)
		})

		t.Run("does not exist, strict", func(t *testing.T) {
			t.Parallel()

			repo := newRepo(t, WithMissingRecordError())
			item := testdata.NewItem()
			require.NoError(t, repo.Create(ctx, item))

			err := repo.BatchDelete(ctx, []testdata.Item{item, testdata.NewItem()})
			assert.ErrorIs(t, err, ErrNotFound)

			all, err := repo.Fetch(ctx, q.All())
			assert.NoError(t, err)
			assert.Len(t, all, 1, "nothing is deleted")
		})
	})

	t.Run("DeleteAll", func(t *testing.T) {
		t.Parallel()

		for name, opts := range map[string][]Option{
			"per object": nil,
			"bulk":       {WithBulkDeleteAll()},
		} {
			t.Run(name, func(t *testing.T) {
				t.Parallel()

				repo := newRepo(t, opts...)
				require.NoError(t, repo.Create(ctx, testdata.NewItem()))
				require.NoError(t, repo.Create(ctx, testdata.NewItem()))

				err := repo.DeleteAll(ctx)
				assert.NoError(t, err)

				all, err := repo.Fetch(ctx, q.All())
				assert.NoError(t, err)
				assert.Empty(t, all)

				assert.NoError(t, repo.DeleteAll(ctx), "delete all on empty repository")
			})
		}
	})

	t.Run("Save", func(t *testing.T) {
		t.Parallel()

		repo := newRepo(t)

		assert.NoError(t, repo.Save(ctx), "nothing to save")
	})

	t.Run("Count", func(t *testing.T) {
		t.Parallel()

		repo := newRepo(t)
		require.NoError(t, repo.Create(ctx, testdata.NewItemWithRank(1)))
		require.NoError(t, repo.Create(ctx, testdata.NewItemWithRank(5)))

		count, err := repo.Count(ctx, q.All())
		assert.NoError(t, err)
		assert.Equal(t, 2, count)

		count, err = repo.Count(ctx, q.Where("rank").LessOrEqual(1))
		assert.NoError(t, err)
		assert.Equal(t, 1, count)
	})
}
