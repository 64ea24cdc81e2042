package todo_test

import (
	"context"
	"testing"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/require"

	"github.com/go-arrower/livestore/alog"
	"github.com/go-arrower/livestore/store"
	"github.com/go-arrower/livestore/todo"
)

var ctx = context.Background()

func openStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.Open(ctx, store.Config{
		Dir:    t.TempDir(),
		Name:   "todos",
		Schema: []store.EntityDescription{todo.Schema},
	}, store.WithLogger(alog.Test(t).Logger))
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close(context.Background()) })

	return s
}

func newTodo(t *testing.T) todo.Todo {
	t.Helper()

	td, err := todo.New(gofakeit.Sentence(4))
	require.NoError(t, err)

	return td
}
