package observe_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/go-arrower/livestore/alog"
	"github.com/go-arrower/livestore/observe"
	"github.com/go-arrower/livestore/q"
	"github.com/go-arrower/livestore/repository/testdata"
	"github.com/go-arrower/livestore/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()

	s, err := store.Open(ctx, store.Config{
		Dir:    t.TempDir(),
		Name:   "observe",
		Schema: []store.EntityDescription{testdata.Schema},
	}, store.WithLogger(alog.Test(t).Logger))
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Close(context.Background()) })

	return s
}

func subscribe(t *testing.T, sctx *store.Context, query q.Query) *observe.Subscription[testdata.Item] {
	t.Helper()

	sub, err := observe.New[testdata.Item](sctx, alog.Test(t)).Subscribe(ctx, query)
	require.NoError(t, err)

	t.Cleanup(sub.Cancel)

	return sub
}

func timeout(t *testing.T) context.Context {
	t.Helper()

	tctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	t.Cleanup(cancel)

	return tctx
}

func next(t *testing.T, sub *observe.Subscription[testdata.Item]) observe.Snapshot[testdata.Item] {
	t.Helper()

	snap, err := sub.Next(timeout(t))
	require.NoError(t, err)

	return snap
}

// await reads snapshots until one satisfies cond.
func await(
	t *testing.T,
	sub *observe.Subscription[testdata.Item],
	cond func(observe.Snapshot[testdata.Item]) bool,
) observe.Snapshot[testdata.Item] {
	t.Helper()

	for {
		snap := next(t, sub)
		if cond(snap) {
			return snap
		}
	}
}
