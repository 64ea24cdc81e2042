// Package todo is a small domain living in a store: a list of things to do.
package todo

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidTitle = errors.New("invalid title")

// Todo is a single thing to do. ID and CreatedAt never change after New.
type Todo struct {
	ID        uuid.UUID
	Title     string
	Completed bool
	CreatedAt time.Time
	Priority  int
}

func New(title string) (Todo, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Todo{}, ErrInvalidTitle
	}

	return Todo{
		ID:        uuid.New(),
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}, nil
}

func (t Todo) Complete() Todo {
	t.Completed = true

	return t
}

func (t Todo) Reopen() Todo {
	t.Completed = false

	return t
}

func (t Todo) Rename(title string) (Todo, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return t, ErrInvalidTitle
	}

	t.Title = title

	return t, nil
}

func (t Todo) WithPriority(priority int) Todo {
	t.Priority = priority

	return t
}
