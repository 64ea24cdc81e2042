package todo

import (
	"github.com/google/uuid"

	"github.com/go-arrower/livestore/store"
)

const Entity = "Todo"

// Schema registers Todo with a store.
var Schema = store.EntityDescription{
	Name:  Entity,
	Table: "todos",
	Attributes: []store.Attribute{
		{Name: "title", Type: store.String},
		{Name: "completed", Type: store.Bool},
		{Name: "created_at", Type: store.Time},
		{Name: "priority", Type: store.Int},
	},
}

func (Todo) Entity() string { return Entity }

func (t Todo) Identity() string {
	if t.ID == uuid.Nil {
		return ""
	}

	return t.ID.String()
}

func (t Todo) ToEntity(c *store.Context) *store.Object {
	o := c.Insert(Entity, t.Identity())
	o.Set("created_at", t.CreatedAt)
	t.ApplyMutableFields(o)

	return o
}

// FromEntity panics if the stored id is not a uuid: only ToEntity writes Todos.
func (Todo) FromEntity(o *store.Object) Todo {
	return Todo{
		ID:        uuid.MustParse(o.ID()),
		Title:     o.String("title"),
		Completed: o.Bool("completed"),
		CreatedAt: o.Time("created_at"),
		Priority:  int(o.Int("priority")),
	}
}

// ApplyMutableFields leaves out the id and the creation time.
func (t Todo) ApplyMutableFields(o *store.Object) {
	o.Set("title", t.Title)
	o.Set("completed", t.Completed)
	o.Set("priority", t.Priority)
}
