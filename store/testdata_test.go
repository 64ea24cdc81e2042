package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/go-arrower/livestore/alog"
	"github.com/go-arrower/livestore/q"
	"github.com/go-arrower/livestore/store"
)

var ctx = context.Background()

const (
	noteEntity = "Note"
	tagEntity  = "Tag"
)

var testSchema = []store.EntityDescription{
	{
		Name:  noteEntity,
		Table: "notes",
		Attributes: []store.Attribute{
			{Name: "title", Type: store.String},
			{Name: "done", Type: store.Bool},
			{Name: "rank", Type: store.Int},
			{Name: "due_at", Type: store.Time},
		},
	},
	{
		Name:       tagEntity,
		Table:      "tags",
		Attributes: []store.Attribute{{Name: "label", Type: store.String}},
	},
}

func testConfig(t *testing.T) store.Config {
	t.Helper()

	return store.Config{
		Dir:    t.TempDir(),
		Name:   "test",
		Schema: testSchema,
	}
}

// openStore opens a store in a fresh directory and closes it at the end of the test.
func openStore(t *testing.T, cfg store.Config, opts ...store.Option) *store.Store {
	t.Helper()

	opts = append([]store.Option{store.WithLogger(alog.Test(t).Logger)}, opts...)

	s, err := store.Open(ctx, cfg, opts...)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = s.Close(context.Background())
	})

	return s
}

type note struct {
	ID    string
	Title string
	Done  bool
	Rank  int64
	DueAt time.Time
}

func newNote(rank int64) note {
	return note{
		ID:    uuid.NewString(),
		Title: gofakeit.Sentence(3),
		Rank:  rank,
		DueAt: gofakeit.FutureDate().UTC(),
	}
}

func insertNotes(t *testing.T, s *store.Store, notes ...note) {
	t.Helper()

	c := s.NewBackgroundContext()
	defer c.Release()

	err := c.Perform(ctx, func(ctx context.Context, c *store.Context) error {
		for _, n := range notes {
			o := c.Insert(noteEntity, n.ID)
			o.Set("title", n.Title)
			o.Set("done", n.Done)
			o.Set("rank", n.Rank)
			o.Set("due_at", n.DueAt)
		}

		_, err := c.Save(ctx)

		return err
	})
	require.NoError(t, err)
}

// toNote must be called from within Perform.
func toNote(o *store.Object) note {
	return note{
		ID:    o.ID(),
		Title: o.String("title"),
		Done:  o.Bool("done"),
		Rank:  o.Int("rank"),
		DueAt: o.Time("due_at"),
	}
}

func fetchNotes(t *testing.T, c *store.Context, query q.Query) []note {
	t.Helper()

	var notes []note

	err := c.Perform(ctx, func(ctx context.Context, c *store.Context) error {
		objects, err := c.Fetch(ctx, noteEntity, query)
		if err != nil {
			return err
		}

		notes = make([]note, 0, len(objects))
		for _, o := range objects {
			notes = append(notes, toNote(o))
		}

		return nil
	})
	require.NoError(t, err)

	return notes
}

func ids(notes []note) []string {
	ids := make([]string, 0, len(notes))
	for _, n := range notes {
		ids = append(ids, n.ID)
	}

	return ids
}
