package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-arrower/livestore/alog"
	"github.com/go-arrower/livestore/q"
	"github.com/go-arrower/livestore/store"
)

var ErrStorage = errors.New("storage error")

var (
	ErrPersist       = fmt.Errorf("%w: create failed", ErrStorage)
	ErrFetch         = fmt.Errorf("%w: fetch failed", ErrStorage)
	ErrUpdate        = fmt.Errorf("%w: update failed", ErrStorage)
	ErrDelete        = fmt.Errorf("%w: delete failed", ErrStorage)
	ErrSave          = fmt.Errorf("%w: save failed", ErrStorage)
	ErrCount         = fmt.Errorf("%w: count failed", ErrStorage)
	ErrNotFound      = fmt.Errorf("%w: not found", ErrStorage)
	ErrAlreadyExists = fmt.Errorf("%w: already exists", ErrStorage)
	ErrMissingID     = fmt.Errorf("%w: missing id", ErrStorage)
)

// Record is the contract a domain record has to fulfil to be persisted by a Repository.
// E is the record type itself, so a zero E can convert store objects:
//
//	type Todo struct{ ... }
//
//	func (Todo) Entity() string { return "Todo" }
//	func (t Todo) Identity() string { return t.ID.String() }
//	...
//
//	repo := repository.NewStoreRepository[Todo](store.NewBackgroundContext())
//
// ToEntity, FromEntity and ApplyMutableFields are only ever called from
// within the repository's store.Context, so they can access the Object freely.
// FromEntity must copy all values: the returned record must not keep the Object.
type Record[E any] interface {
	// Entity is the name of the entity as registered in the store's schema.
	Entity() string
	// Identity is the stable id of the record. It never changes.
	Identity() string

	// ToEntity inserts a new object holding all attributes of the record into c.
	ToEntity(c *store.Context) *store.Object
	// FromEntity returns a new record with the values of o.
	FromEntity(o *store.Object) E
	// ApplyMutableFields sets all attributes that may change after creation.
	// Identity and provenance, e.g. a creation time, are left untouched.
	ApplyMutableFields(o *store.Object)
}

// Repository persists records of type E.
// All implementations have to pass the TestSuite.
type Repository[E Record[E]] interface {
	// Create inserts a new record and saves it.
	Create(ctx context.Context, record E) error
	// Fetch returns all records matching query, in the order of its sort keys.
	// Ties are in insertion order.
	Fetch(ctx context.Context, query q.Query) ([]E, error)
	// FindByID returns ErrNotFound, if no record with the id exists.
	FindByID(ctx context.Context, id string) (E, error)
	// Update applies the mutable fields of record to the stored one and saves.
	// A missing record is no error, unless the repository is configured WithMissingRecordError.
	Update(ctx context.Context, record E) error
	// Delete removes the record. Deleting a missing record behaves like Update.
	Delete(ctx context.Context, record E) error
	// BatchDelete removes all given records with a single save.
	// An empty list does nothing.
	BatchDelete(ctx context.Context, records []E) error
	// DeleteAll removes all records of the entity.
	DeleteAll(ctx context.Context) error
	// Save writes pending changes of the repository's context.
	Save(ctx context.Context) error
	// Count returns the number of records matching query.
	Count(ctx context.Context, query q.Query) (int, error)
}

// Option configures a StoreRepository.
type Option func(*options)

type options struct {
	missingRecordError bool
	bulkDeleteAll      bool
	logger             alog.Logger
}

// WithMissingRecordError makes Update, Delete and BatchDelete return
// ErrNotFound, instead of silently succeeding, if a record does not exist.
func WithMissingRecordError() Option {
	return func(o *options) {
		o.missingRecordError = true
	}
}

// WithBulkDeleteAll makes DeleteAll remove all rows with a single statement.
// This bypasses the per object path and is unsafe, if other tables rely
// on the records, e.g. by foreign keys.
// By default, DeleteAll loads and deletes every object on its own.
func WithBulkDeleteAll() Option {
	return func(o *options) {
		o.bulkDeleteAll = true
	}
}

// WithLogger sets the logger used by the repository.
func WithLogger(l alog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// entityName returns the entity of E without needing a record at hand.
func entityName[E Record[E]]() string {
	var zero E

	return zero.Entity()
}
