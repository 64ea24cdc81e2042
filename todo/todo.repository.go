package todo

import (
	"github.com/go-arrower/livestore/q"
	"github.com/go-arrower/livestore/repository"
	"github.com/go-arrower/livestore/store"
)

func NewRepository(sctx *store.Context, opts ...repository.Option) *repository.StoreRepository[Todo] {
	return repository.NewStoreRepository[Todo](sctx, opts...)
}

// Filter selects which Todos a listing shows.
type Filter string

const (
	FilterAll  Filter = "all"
	FilterOpen Filter = "open"
	FilterDone Filter = "done"
)

// SortKey orders a listing. Ties keep the order the Todos were created in.
type SortKey string

const (
	SortCreated  SortKey = "created"
	SortPriority SortKey = "priority"
)

// Query builds the query for a listing. Newest and most important first.
func Query(filter Filter, sort SortKey) q.Query {
	query := q.All()

	switch filter {
	case FilterOpen:
		query = q.Where("completed").Is(false)
	case FilterDone:
		query = q.Where("completed").Is(true)
	case FilterAll:
	}

	switch sort {
	case SortPriority:
		return query.OrderBy("priority").Descending().OrderBy("created_at").Descending()
	case SortCreated:
	}

	return query.OrderBy("created_at").Descending()
}
