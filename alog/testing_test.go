package alog_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/go-arrower/livestore/alog"
)

func TestTest(t *testing.T) {
	t.Parallel()

	t.Run("nil does panic", func(t *testing.T) {
		t.Parallel()

		assert.Panics(t, func() {
			alog.Test(nil)
		})
	})

	t.Run("default level is debug", func(t *testing.T) {
		t.Parallel()

		logger := alog.Test(t)
		logger.Debug("debug msg")

		assert.Contains(t, logger.String(), "debug msg")
	})

	t.Run("with group", func(t *testing.T) {
		t.Parallel()

		logger := alog.Test(t)
		logger.DebugContext(context.Background(), "msg 0")

		simulateComponentWorkingWithLogger(logger)

		logger.Contains("msg 0")
		logger.Contains("GROUP.some=key")
	})

	t.Run("concurrent writers", func(t *testing.T) {
		t.Parallel()

		logger := alog.Test(t)

		wg := sync.WaitGroup{}
		for range 10 {
			wg.Add(1)

			go func() {
				defer wg.Done()

				logger.Info("msg")
			}()
		}

		wg.Wait()
		logger.Total(10)
	})
}

func simulateComponentWorkingWithLogger(logger *alog.TestLogger) {
	l := logger.WithGroup("GROUP")
	l.DebugContext(context.Background(), "msg group", "some", "key")
}

func TestTestLogger_Lines(t *testing.T) {
	t.Parallel()

	logger := alog.Test(t)
	logger.DebugContext(ctx, "line 0")
	logger.DebugContext(ctx, "line 1")

	assert.Len(t, logger.Lines(), 2)
	assert.Contains(t, logger.Lines()[0], `level=DEBUG msg="line 0"`)
	assert.Contains(t, logger.Lines()[1], `level=DEBUG msg="line 1"`)
}

func TestTestLogger_Empty(t *testing.T) {
	t.Parallel()

	t.Run("empty logger", func(t *testing.T) {
		t.Parallel()

		logger := alog.Test(&fakeT{})
		assert.True(t, logger.Empty())
	})

	t.Run("not empty logger", func(t *testing.T) {
		t.Parallel()

		ft := &fakeT{}
		logger := alog.Test(ft)
		logger.Debug("debug msg")

		assert.False(t, logger.Empty())
		assert.Len(t, ft.errors, 1)
	})
}

func TestTestLogger_NotEmpty(t *testing.T) {
	t.Parallel()

	logger := alog.Test(&fakeT{})
	assert.False(t, logger.NotEmpty())

	logger.Debug("debug msg")
	assert.True(t, logger.NotEmpty())
}

func TestTestLogger_Contains(t *testing.T) {
	t.Parallel()

	logger := alog.Test(&fakeT{})
	logger.Debug("debug msg")

	assert.True(t, logger.Contains("debug msg"))
	assert.False(t, logger.Contains("other msg"))
}

func TestTestLogger_NotContains(t *testing.T) {
	t.Parallel()

	logger := alog.Test(&fakeT{})
	logger.Debug("debug msg")

	assert.True(t, logger.NotContains("other msg"))
	assert.False(t, logger.NotContains("debug msg"))
}

func TestTestLogger_Total(t *testing.T) {
	t.Parallel()

	logger := alog.Test(&fakeT{})
	logger.Debug("debug msg")
	logger.Debug("debug msg")

	assert.True(t, logger.Total(2))
	assert.False(t, logger.Total(1))
}

func TestTestLogger_Count(t *testing.T) {
	t.Parallel()

	logger := alog.Test(&fakeT{})
	logger.Debug("state changed", "state", "subscribed")
	logger.Debug("state changed", "state", "published")
	logger.Debug("other msg")

	assert.True(t, logger.Count("state changed", 2))
	assert.True(t, logger.Count("state=published", 1))
	assert.True(t, logger.Count("unknown", 0))
	assert.False(t, logger.Count("msg", 1))
}
