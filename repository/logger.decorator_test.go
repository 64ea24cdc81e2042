package repository_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/go-arrower/livestore/alog"
	"github.com/go-arrower/livestore/q"
	"github.com/go-arrower/livestore/repository"
	"github.com/go-arrower/livestore/repository/testdata"
)

func TestRepositoryLoggingDecorator(t *testing.T) {
	t.Parallel()

	t.Run("successful operation", func(t *testing.T) {
		t.Parallel()

		logger := alog.Test(t)
		repo := repository.NewLoggedRepository[testdata.Item](logger, succeedingRepository())

		item := testdata.NewItem()
		err := repo.Update(ctx, item)
		assert.NoError(t, err)

		logger.Total(2)
		logger.Contains(`msg="executing repository operation"`)
		logger.Contains(`operation=update`)
		logger.Contains(`entity=Item`)
		logger.Contains(`id=` + item.ID)
		logger.Contains(`msg="repository operation executed successfully"`)
		logger.NotContains(`err=`)
	})

	t.Run("failed operation", func(t *testing.T) {
		t.Parallel()

		logger := alog.Test(t)
		repo := repository.NewLoggedRepository[testdata.Item](logger, failingRepository())

		_, err := repo.Fetch(ctx, q.Where("rank").Is(1))
		assert.ErrorIs(t, err, errRepositoryFailed)

		logger.Contains(`msg="executing repository operation"`)
		logger.Contains(`operation=fetch`)
		logger.Contains(`msg="failed to execute repository operation"`)
		logger.Contains(`err="repository failed"`)
	})

	t.Run("every operation", func(t *testing.T) {
		t.Parallel()

		logger := alog.Test(t)
		repo := repository.NewLoggedRepository[testdata.Item](logger, succeedingRepository())

		for _, err := range allOperations(repo) {
			assert.NoError(t, err)
		}

		logger.Total(2 * 9)

		for _, op := range []string{
			"create", "fetch", "find_by_id", "update", "delete",
			"batch_delete", "delete_all", "save", "count",
		} {
			logger.Contains("operation=" + op)
		}
	})
}
