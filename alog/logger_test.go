package alog_test

import (
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/go-arrower/livestore/alog"
)

func TestAddAttr(t *testing.T) {
	t.Parallel()

	t.Run("add first attribute", func(t *testing.T) {
		t.Parallel()

		ctx := alog.AddAttr(ctx, slog.String("some", "attr")) //nolint:govet // shadow ctx to not overwrite it for other tests

		assert.Len(t, alog.FromContext(ctx), 1)
	})

	t.Run("add additional attribute", func(t *testing.T) {
		t.Parallel()

		ctx := alog.AddAttr(ctx, slog.String("initial", "attr")) //nolint:govet // shadow ctx to not overwrite it for other tests
		ctx = alog.AddAttr(ctx, slog.String("some", "attr"))

		assert.Len(t, alog.FromContext(ctx), 2)
	})

	t.Run("parent ctx is not changed", func(t *testing.T) {
		t.Parallel()

		parent := alog.AddAttr(ctx, slog.String("initial", "attr"))
		_ = alog.AddAttr(parent, slog.String("some", "attr"))

		assert.Len(t, alog.FromContext(parent), 1)
	})
}

func TestAddAttrs(t *testing.T) {
	t.Parallel()

	ctx := alog.AddAttr(ctx, slog.String("initial", "attr")) //nolint:govet // shadow ctx to not overwrite it for other tests
	ctx = alog.AddAttrs(ctx, slog.String("some", "attr"), slog.String("other", "attr"))

	assert.Len(t, alog.FromContext(ctx), 3)
}

func TestClearAttrs(t *testing.T) {
	t.Parallel()

	ctx := alog.AddAttr(ctx, slog.String("some", "attr")) //nolint:govet // shadow ctx to not overwrite it for other tests
	ctx = alog.ClearAttrs(ctx)

	assert.Empty(t, alog.FromContext(ctx))
}

func TestFromContext(t *testing.T) {
	t.Parallel()

	attrs := alog.FromContext(ctx)
	assert.NotNil(t, attrs)
	assert.Empty(t, attrs)
}

func TestError(t *testing.T) {
	t.Parallel()

	got := alog.Error(errors.New("my-error")) //nolint:err113 // test error
	assert.Equal(t, "err", got.Key)
	assert.Equal(t, "err=my-error", got.String())
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	level, err := alog.ParseLevel("LIVESTORE:DEBUG")
	assert.NoError(t, err)
	assert.Equal(t, alog.LevelDebug, level)

	level, err = alog.ParseLevel("warn")
	assert.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, level)

	_, err = alog.ParseLevel("loud")
	assert.Error(t, err)
}
