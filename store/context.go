package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"runtime/debug"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/sqlscan"

	"github.com/go-arrower/livestore/alog"
	"github.com/go-arrower/livestore/q"
)

// Context is a confinement domain around a slice of the store.
//
// Each Context owns a cache of Objects and a single worker goroutine.
// All work on its Objects is submitted via Perform and executed serially
// by that worker, so no Object is ever touched by two goroutines at once.
// Changes committed by other contexts are merged in on the same worker,
// before any closure submitted afterwards runs.
type Context struct {
	store  *Store
	name   string
	logger *slog.Logger

	mu       sync.Mutex
	queue    []*task
	released bool
	wake     chan struct{}

	performing atomic.Bool

	// owned by the worker
	registry map[objectKey]*Object
	inserted []*Object
	deleted  []*Object

	lmu          sync.Mutex
	listeners    map[uint64]func(ChangeSet)
	nextListener uint64
}

type objectKey struct {
	entity string
	id     string
}

const (
	taskPending int32 = iota
	taskRunning
	taskCancelled
)

type task struct {
	ctx   context.Context //nolint:containedctx // carried from Perform to the worker
	fn    func(ctx context.Context, c *Context) error
	state atomic.Int32
	done  chan outcome // nil for fire and forget tasks
}

type outcome struct {
	err      error
	panicked any
	stack    []byte
}

func newContext(s *Store, name string) *Context {
	return &Context{
		store:     s,
		name:      name,
		logger:    s.logger.With(slog.String("context", name)),
		queue:     []*task{},
		wake:      make(chan struct{}, 1),
		registry:  map[objectKey]*Object{},
		listeners: map[uint64]func(ChangeSet){},
	}
}

// Name identifies the context in logs and ChangeSets.
func (c *Context) Name() string { return c.name }

// Perform runs fn on the context's worker and waits for it to return.
// Closures run one at a time, in the order they were submitted.
//
// If ctx is cancelled before fn started, fn is skipped and ctx.Err() returned.
// Once fn started, it runs to completion with a context that is not cancelled.
// A panic in fn is re-raised in the calling goroutine.
//
// Perform must not be called from within a closure of the same context.
func (c *Context) Perform(ctx context.Context, fn func(ctx context.Context, c *Context) error) error {
	if err := c.store.usable(); err != nil {
		return err
	}

	t := &task{ctx: ctx, fn: fn, done: make(chan outcome, 1)}
	if !c.enqueue(t) {
		return ErrContextReleased
	}

	select {
	case out := <-t.done:
		return out.result()
	case <-ctx.Done():
		if t.state.CompareAndSwap(taskPending, taskCancelled) {
			return ctx.Err() //nolint:wrapcheck // the callers context error
		}

		return (<-t.done).result()
	}
}

// post schedules fn without waiting for it.
func (c *Context) post(ctx context.Context, fn func(ctx context.Context, c *Context) error) bool {
	return c.enqueue(&task{ctx: ctx, fn: fn})
}

func (c *Context) enqueue(t *task) bool {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()

		return false
	}

	c.queue = append(c.queue, t)
	c.mu.Unlock()

	c.signal()

	return true
}

func (c *Context) signal() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Release stops the context. Closures already submitted still run,
// later calls to Perform return ErrContextReleased.
func (c *Context) Release() {
	c.mu.Lock()
	already := c.released
	c.released = true
	c.mu.Unlock()

	if already {
		return
	}

	c.signal()
	c.store.forget(c)
}

// run is the worker loop. It returns after Release, once the queue is drained.
func (c *Context) run() error {
	for {
		t, ok := c.next()
		if !ok {
			return nil
		}

		c.execute(t)
	}
}

func (c *Context) next() (*task, bool) {
	for {
		c.mu.Lock()
		if len(c.queue) > 0 {
			t := c.queue[0]
			c.queue[0] = nil
			c.queue = c.queue[1:]
			c.mu.Unlock()

			return t, true
		}

		if c.released {
			c.mu.Unlock()

			return nil, false
		}
		c.mu.Unlock()

		<-c.wake
	}
}

func (c *Context) execute(t *task) {
	if !t.state.CompareAndSwap(taskPending, taskRunning) {
		return
	}

	out := c.call(t)

	if t.done != nil {
		t.done <- out

		return
	}

	if out.panicked != nil {
		c.logger.Error("background task panicked", slog.Any("panic", out.panicked), slog.String("stack", string(out.stack)))
	} else if out.err != nil {
		c.logger.Error("background task failed", alog.Error(out.err))
	}
}

func (c *Context) call(t *task) (out outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = outcome{panicked: r, stack: debug.Stack()}
		}
	}()

	c.performing.Store(true)
	defer c.performing.Store(false)

	return outcome{err: t.fn(context.WithoutCancel(t.ctx), c)}
}

func (o outcome) result() error {
	if o.panicked != nil {
		panic(o.panicked)
	}

	return o.err
}

func (c *Context) confined() {
	if !c.performing.Load() {
		panic(fmt.Errorf("%w: context %s used outside of Perform", ErrConfinement, c.name))
	}
}

// AddChangeListener registers fn to be called with every ChangeSet that
// affects this context: its own saves and the ones merged from other contexts.
// fn is called on the context's worker and must not block.
// The returned function removes the listener.
func (c *Context) AddChangeListener(fn func(ChangeSet)) func() {
	c.lmu.Lock()
	defer c.lmu.Unlock()

	id := c.nextListener
	c.nextListener++
	c.listeners[id] = fn

	return func() {
		c.lmu.Lock()
		defer c.lmu.Unlock()

		delete(c.listeners, id)
	}
}

func (c *Context) notify(cs ChangeSet) {
	c.lmu.Lock()
	listeners := make([]func(ChangeSet), 0, len(c.listeners))

	ids := make([]uint64, 0, len(c.listeners))
	for id := range c.listeners {
		ids = append(ids, id)
	}

	slices.Sort(ids)

	for _, id := range ids {
		listeners = append(listeners, c.listeners[id])
	}
	c.lmu.Unlock()

	for _, l := range listeners {
		l(cs)
	}
}

// Insert registers a new object. It is written to the store on the next Save.
// It panics if the entity is unknown.
func (c *Context) Insert(entityName string, id string) *Object {
	c.confined()

	e, err := c.store.entity(entityName)
	if err != nil {
		panic(err)
	}

	o := newObject(c, e, id, e.zeroValues(), stateInserted)
	c.registry[objectKey{e.name, id}] = o
	c.inserted = append(c.inserted, o)

	return o
}

// IsRegistered reports whether the object is in the context's cache.
func (c *Context) IsRegistered(entityName string, id string) bool {
	c.confined()

	_, ok := c.registry[objectKey{entityName, id}]

	return ok
}

// ObjectWithID returns the registered object or loads it from the store.
func (c *Context) ObjectWithID(ctx context.Context, entityName string, id string) (*Object, error) {
	c.confined()

	e, err := c.store.entity(entityName)
	if err != nil {
		return nil, err
	}

	if o, ok := c.registry[objectKey{e.name, id}]; ok {
		if o.state == stateDeleted {
			return nil, fmt.Errorf("%w: %s %s", ErrNotFound, e.name, id)
		}

		return o, nil
	}

	objects, err := c.Fetch(ctx, e.name, q.Where(IDField).Is(id))
	if err != nil {
		return nil, err
	}

	if len(objects) == 0 {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, e.name, id)
	}

	return objects[0], nil
}

// Fetch returns all stored objects of the entity matching query.
// Results are ordered by the sort keys of query, ties are broken by insertion order.
// Rows are read in pages of Config.FetchBatchSize inside one read transaction.
// Registered objects are returned instead of fresh copies, so changes not yet
// saved are visible. Objects pending deletion are left out.
func (c *Context) Fetch(ctx context.Context, entityName string, query q.Query) ([]*Object, error) {
	c.confined()

	e, err := c.store.entity(entityName)
	if err != nil {
		return nil, err
	}

	db, err := c.store.handle()
	if err != nil {
		return nil, err
	}

	sb, err := q.Apply(squirrel.Select(e.columns...).From(quote(e.table)), query, e)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}

	sb = sb.OrderBy("rowid ASC")

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: could not begin: %v", ErrFetch, err) //nolint:errorlint // prevent driver details leaking
	}

	defer func() { _ = tx.Rollback() }()

	batch := uint64(c.store.cfg.FetchBatchSize) //nolint:gosec // validated to be positive
	objects := []*Object{}

	for offset := uint64(0); ; offset += batch {
		stmt, args, err := sb.Limit(batch).Offset(offset).ToSql()
		if err != nil {
			return nil, fmt.Errorf("%w: could not build query: %v", ErrFetch, err) //nolint:errorlint // prevent driver details leaking
		}

		var rows []map[string]any
		if err := sqlscan.Select(ctx, tx, &rows, stmt, args...); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrFetch, err) //nolint:errorlint // prevent driver details leaking
		}

		for _, row := range rows {
			o, err := c.materialise(e, row)
			if err != nil {
				return nil, err
			}

			if o != nil {
				objects = append(objects, o)
			}
		}

		if uint64(len(rows)) < batch {
			break
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: could not commit: %v", ErrFetch, err) //nolint:errorlint // prevent driver details leaking
	}

	c.logger.Log(ctx, alog.LevelDebug, "fetched",
		slog.String("entity", e.name),
		slog.String("query", query.String()),
		slog.Int("count", len(objects)),
	)

	return objects, nil
}

func (c *Context) materialise(e *entity, row map[string]any) (*Object, error) {
	id, values, err := e.decodeRow(row)
	if err != nil {
		return nil, err
	}

	key := objectKey{e.name, id}

	if o, ok := c.registry[key]; ok {
		if o.state == stateDeleted {
			return nil, nil //nolint:nilnil // hidden by a pending delete
		}

		o.refresh(values)

		return o, nil
	}

	o := newObject(c, e, id, values, statePersisted)
	c.registry[key] = o

	return o, nil
}

// Count returns the number of stored objects of the entity matching query.
// Pending changes of the context are not taken into account.
func (c *Context) Count(ctx context.Context, entityName string, query q.Query) (int, error) {
	c.confined()

	e, err := c.store.entity(entityName)
	if err != nil {
		return 0, err
	}

	db, err := c.store.handle()
	if err != nil {
		return 0, err
	}

	sb := squirrel.Select("COUNT(*)").From(quote(e.table))

	pred, err := q.Predicate(query, e)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrFetch, err)
	}

	if pred != nil {
		sb = sb.Where(pred)
	}

	stmt, args, err := sb.ToSql()
	if err != nil {
		return 0, fmt.Errorf("%w: could not build query: %v", ErrFetch, err) //nolint:errorlint // prevent driver details leaking
	}

	var count int
	if err := db.QueryRowContext(ctx, stmt, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrFetch, err) //nolint:errorlint // prevent driver details leaking
	}

	return count, nil
}

// DeleteObject marks o for deletion on the next Save.
// An inserted object that was never saved is simply dropped.
func (c *Context) DeleteObject(o *Object) {
	c.confined()

	if o.owner != c {
		panic(fmt.Errorf("%w: %s %s belongs to context %s, not %s", ErrConfinement, o.entity.name, o.id, o.owner.name, c.name))
	}

	switch o.state {
	case stateInserted:
		c.inserted = slices.DeleteFunc(c.inserted, func(other *Object) bool { return other == o })
		c.unregister(o)
		o.state = stateDetached
	case statePersisted:
		o.state = stateDeleted
		c.deleted = append(c.deleted, o)
	case stateDeleted, stateDetached:
	}
}

// HasChanges reports whether Save would write anything.
func (c *Context) HasChanges() bool {
	c.confined()

	if len(c.inserted) > 0 || len(c.deleted) > 0 {
		return true
	}

	for _, o := range c.registry {
		if o.state == statePersisted && len(o.changed) > 0 {
			return true
		}
	}

	return false
}

// Save commits all pending changes in one transaction.
// It is a no-op returning an empty ChangeSet, if there are no changes.
//
// Updates write only the changed properties of an object, so for
// those the context's value wins over anything committed in between,
// while all other properties keep their committed value.
//
// After the commit the ChangeSet is delivered to the context's own
// listeners and merged into all other contexts of the store.
// If Save fails, the pending changes are kept; see Rollback.
//
// If another store removed the row of an updated or deleted object in the
// meantime, nothing is committed: those objects are evicted from the cache
// and Save returns ErrNotFound. The remaining changes stay pending.
func (c *Context) Save(ctx context.Context) (ChangeSet, error) { //nolint:funlen,cyclop // one transaction, kept in one place
	c.confined()

	if !c.HasChanges() {
		return ChangeSet{}, nil
	}

	db, err := c.store.handle()
	if err != nil {
		return ChangeSet{}, err
	}

	cs := c.store.newChangeSet(c.name)
	updated := c.updatedObjects()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return ChangeSet{}, fmt.Errorf("%w: could not begin: %v", ErrSave, err) //nolint:errorlint // prevent driver details leaking
	}

	defer func() { _ = tx.Rollback() }()

	var vanished []*Object

	for _, o := range c.deleted {
		stmt, args, err := squirrel.Delete(quote(o.entity.table)).Where(squirrel.Eq{quote(IDField): o.id}).ToSql()

		var n int64
		if err == nil {
			n, err = execAffecting(ctx, tx, stmt, args)
		}

		if err != nil {
			return ChangeSet{}, fmt.Errorf("%w: could not delete %s %s: %v", ErrSave, o.entity.name, o.id, err) //nolint:errorlint,lll // prevent driver details leaking
		}

		if n == 0 {
			vanished = append(vanished, o)

			continue
		}

		cs.add(opDelete, o.entity.name, o.id)
	}

	for _, o := range c.inserted {
		vals := make([]any, 0, len(o.entity.columns))
		vals = append(vals, o.id)

		for _, attr := range o.entity.attrs {
			vals = append(vals, encode(attr.Type, o.values[attr.Name]))
		}

		stmt, args, err := squirrel.Insert(quote(o.entity.table)).Columns(o.entity.columns...).Values(vals...).ToSql()
		if err == nil {
			_, err = tx.ExecContext(ctx, stmt, args...)
		}

		if isUniqueViolation(err) {
			return ChangeSet{}, fmt.Errorf("%w: %w: %s %s", ErrSave, ErrAlreadyExists, o.entity.name, o.id)
		}

		if err != nil {
			return ChangeSet{}, fmt.Errorf("%w: could not insert %s %s: %v", ErrSave, o.entity.name, o.id, err) //nolint:errorlint,lll // prevent driver details leaking
		}

		cs.add(opInsert, o.entity.name, o.id)
	}

	for _, o := range updated {
		ub := squirrel.Update(quote(o.entity.table)).Where(squirrel.Eq{quote(IDField): o.id})
		for _, name := range o.changedColumns() {
			ub = ub.Set(quote(name), encode(o.entity.types[name], o.values[name]))
		}

		stmt, args, err := ub.ToSql()

		var n int64
		if err == nil {
			n, err = execAffecting(ctx, tx, stmt, args)
		}

		if err != nil {
			return ChangeSet{}, fmt.Errorf("%w: could not update %s %s: %v", ErrSave, o.entity.name, o.id, err) //nolint:errorlint,lll // prevent driver details leaking
		}

		if n == 0 {
			vanished = append(vanished, o)

			continue
		}

		cs.add(opUpdate, o.entity.name, o.id)
	}

	if len(vanished) > 0 {
		_ = tx.Rollback()

		return ChangeSet{}, c.evict(ctx, vanished)
	}

	if err := writeHistory(ctx, tx, cs); err != nil {
		return ChangeSet{}, fmt.Errorf("%w: %w", ErrSave, err)
	}

	if err := tx.Commit(); err != nil {
		return ChangeSet{}, fmt.Errorf("%w: could not commit: %v", ErrSave, err) //nolint:errorlint // prevent driver details leaking
	}

	for _, o := range c.deleted {
		c.unregister(o)
		o.state = stateDetached
	}

	for _, o := range c.inserted {
		o.commit()
	}

	for _, o := range updated {
		o.commit()
	}

	c.inserted = nil
	c.deleted = nil

	c.logger.Log(ctx, alog.LevelInfo, "saved",
		slog.String("token", cs.Token),
		slog.Int("inserted", cs.count(opInsert)),
		slog.Int("updated", cs.count(opUpdate)),
		slog.Int("deleted", cs.count(opDelete)),
	)

	c.notify(cs)
	c.store.propagate(ctx, cs, c)

	return cs, nil
}

// evict drops objects whose rows were removed by another store
// and returns an ErrNotFound naming them.
func (c *Context) evict(ctx context.Context, objects []*Object) error {
	keys := make([]string, 0, len(objects))

	for _, o := range objects {
		c.deleted = slices.DeleteFunc(c.deleted, func(other *Object) bool { return other == o })
		c.unregister(o)
		o.state = stateDetached

		keys = append(keys, o.entity.name+" "+o.id)
	}

	c.logger.Log(ctx, alog.LevelInfo, "evicted objects removed by another store",
		slog.Any("objects", keys),
	)

	return fmt.Errorf("%w: removed by another store: %s", ErrNotFound, strings.Join(keys, ", "))
}

func execAffecting(ctx context.Context, tx *sql.Tx, stmt string, args []any) (int64, error) {
	res, err := tx.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, err //nolint:wrapcheck // wrapped by the caller
	}

	return res.RowsAffected() //nolint:wrapcheck // wrapped by the caller
}

func (c *Context) updatedObjects() []*Object {
	objects := []*Object{}

	for _, o := range c.registry {
		if o.state == statePersisted && len(o.changed) > 0 {
			objects = append(objects, o)
		}
	}

	slices.SortFunc(objects, func(a, b *Object) int {
		if n := strings.Compare(a.entity.name, b.entity.name); n != 0 {
			return n
		}

		return strings.Compare(a.id, b.id)
	})

	return objects
}

// Rollback discards all pending changes.
func (c *Context) Rollback() {
	c.confined()

	for _, o := range c.inserted {
		c.unregister(o)
		o.state = stateDetached
	}

	for _, o := range c.registry {
		o.rollback()
	}

	for _, o := range c.deleted {
		o.rollback()
	}

	c.inserted = nil
	c.deleted = nil
}

// Reset empties the cache. Pending changes are discarded.
func (c *Context) Reset() {
	c.confined()

	c.registry = map[objectKey]*Object{}
	c.inserted = nil
	c.deleted = nil
}

// BatchDelete removes all stored objects of the entity matching query
// with a single statement. It bypasses the per object path: pending
// changes of the context are not consulted and no per object rules run.
// This is unsafe in the presence of relational integrity constraints.
//
// The removed ids are merged into all other contexts and the cache of
// this context is reset entirely.
func (c *Context) BatchDelete(ctx context.Context, entityName string, query q.Query) (ChangeSet, error) {
	c.confined()

	e, err := c.store.entity(entityName)
	if err != nil {
		return ChangeSet{}, err
	}

	db, err := c.store.handle()
	if err != nil {
		return ChangeSet{}, err
	}

	pred, err := q.Predicate(query, e)
	if err != nil {
		return ChangeSet{}, fmt.Errorf("%w: %w", ErrSave, err)
	}

	delb := squirrel.Delete(quote(e.table))
	if pred != nil {
		delb = delb.Where(pred)
	}

	stmt, args, err := delb.Suffix("RETURNING " + quote(IDField)).ToSql()
	if err != nil {
		return ChangeSet{}, fmt.Errorf("%w: could not build query: %v", ErrSave, err) //nolint:errorlint // prevent driver details leaking
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return ChangeSet{}, fmt.Errorf("%w: could not begin: %v", ErrSave, err) //nolint:errorlint // prevent driver details leaking
	}

	defer func() { _ = tx.Rollback() }()

	var ids []string
	if err := sqlscan.Select(ctx, tx, &ids, stmt, args...); err != nil {
		return ChangeSet{}, fmt.Errorf("%w: could not delete %s: %v", ErrSave, e.name, err) //nolint:errorlint // prevent driver details leaking
	}

	cs := c.store.newChangeSet(c.name)
	for _, id := range ids {
		cs.add(opDelete, e.name, id)
	}

	if err := writeHistory(ctx, tx, cs); err != nil {
		return ChangeSet{}, fmt.Errorf("%w: %w", ErrSave, err)
	}

	if err := tx.Commit(); err != nil {
		return ChangeSet{}, fmt.Errorf("%w: could not commit: %v", ErrSave, err) //nolint:errorlint // prevent driver details leaking
	}

	c.Reset()

	c.logger.Log(ctx, alog.LevelInfo, "batch deleted",
		slog.String("entity", e.name),
		slog.String("query", query.String()),
		slog.Int("deleted", len(ids)),
	)

	if !cs.Empty() {
		c.notify(cs)
		c.store.propagate(ctx, cs, c)
	}

	return cs, nil
}

// merge applies a ChangeSet committed elsewhere to the cache:
// deleted objects are evicted, updated ones refreshed from the store.
// Properties with pending changes in this context keep their value.
func (c *Context) merge(ctx context.Context, cs ChangeSet) {
	for entityName, ids := range cs.Deleted {
		for _, id := range ids {
			o, ok := c.registry[objectKey{entityName, id}]
			if !ok {
				continue
			}

			c.unregister(o)
			c.deleted = slices.DeleteFunc(c.deleted, func(other *Object) bool { return other == o })
			o.state = stateDetached
		}
	}

	for entityName, ids := range cs.Updated {
		registered := make([]any, 0, len(ids))

		for _, id := range ids {
			if _, ok := c.registry[objectKey{entityName, id}]; ok {
				registered = append(registered, id)
			}
		}

		if len(registered) == 0 {
			continue
		}

		if err := c.refresh(ctx, entityName, registered); err != nil {
			c.logger.Warn("could not refresh merged objects, evicting them",
				slog.String("entity", entityName), alog.Error(err))

			for _, id := range registered {
				if o, ok := c.registry[objectKey{entityName, id.(string)}]; ok { //nolint:forcetypeassert // built above
					c.unregister(o)
				}
			}
		}
	}

	c.logger.Log(ctx, alog.LevelInfo, "merged changes",
		slog.String("token", cs.Token),
		slog.String("from", cs.Context),
	)

	c.notify(cs)
}

func (c *Context) refresh(ctx context.Context, entityName string, ids []any) error {
	before := map[string]*Object{}
	for _, id := range ids {
		key := objectKey{entityName, id.(string)} //nolint:forcetypeassert // ids are strings
		before[key.id] = c.registry[key]
	}

	objects, err := c.Fetch(ctx, entityName, q.Where(IDField).In(ids...))
	if err != nil {
		return err
	}

	for _, o := range objects {
		delete(before, o.id)
	}

	// whatever is left vanished from the store in between
	for _, o := range before {
		if o != nil && o.state == statePersisted {
			c.unregister(o)
		}
	}

	return nil
}

func (c *Context) unregister(o *Object) {
	key := objectKey{o.entity.name, o.id}
	if c.registry[key] == o {
		delete(c.registry, key)
	}
}
