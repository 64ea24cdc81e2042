package testdata

import (
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"

	"github.com/go-arrower/livestore/store"
)

const ItemEntity = "Item"

// Schema registers Item with a store.
var Schema = store.EntityDescription{
	Name:  ItemEntity,
	Table: "items",
	Attributes: []store.Attribute{
		{Name: "name", Type: store.String},
		{Name: "rank", Type: store.Int},
		{Name: "created_at", Type: store.Time},
	},
}

// Item is a record with one immutable attribute besides its id: CreatedAt.
type Item struct {
	ID        string
	Name      string
	Rank      int
	CreatedAt time.Time
}

func (Item) Entity() string { return ItemEntity }

func (i Item) Identity() string { return i.ID }

func (i Item) ToEntity(c *store.Context) *store.Object {
	o := c.Insert(ItemEntity, i.ID)
	o.Set("created_at", i.CreatedAt)
	i.ApplyMutableFields(o)

	return o
}

func (Item) FromEntity(o *store.Object) Item {
	return Item{
		ID:        o.ID(),
		Name:      o.String("name"),
		Rank:      int(o.Int("rank")),
		CreatedAt: o.Time("created_at"),
	}
}

func (i Item) ApplyMutableFields(o *store.Object) {
	o.Set("name", i.Name)
	o.Set("rank", i.Rank)
}

func NewItem() Item {
	return Item{
		ID:        uuid.New().String(),
		Name:      gofakeit.Name(),
		Rank:      gofakeit.IntRange(0, 9),
		CreatedAt: time.Now().UTC(),
	}
}

func NewItemWithRank(rank int) Item {
	item := NewItem()
	item.Rank = rank

	return item
}
