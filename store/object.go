package store

import (
	"fmt"
	"maps"
	"time"
)

type objectState int

const (
	stateInserted objectState = iota // pending insert, not in the store yet
	statePersisted
	stateDeleted // pending delete
	stateDetached
)

// Object is the store-side representation of one entity.
//
// An Object belongs to exactly one Context. All of its methods may only be
// called from within a Perform closure of that Context; any other access
// panics with ErrConfinement. Convert an Object into a plain value before
// handing data to other goroutines.
//
// The check is best-effort: it detects access while no closure of the owning
// Context runs, but not access from another goroutine during a running closure.
type Object struct {
	owner  *Context
	entity *entity
	id     string
	state  objectState

	// committed is the last known state in the store; values is what this context sees.
	committed map[string]any
	values    map[string]any
	changed   map[string]struct{}
}

func newObject(owner *Context, e *entity, id string, values map[string]any, state objectState) *Object {
	return &Object{
		owner:     owner,
		entity:    e,
		id:        id,
		state:     state,
		committed: maps.Clone(values),
		values:    values,
		changed:   map[string]struct{}{},
	}
}

// ID returns the identity of the object. It never changes.
func (o *Object) ID() string {
	o.confined()

	return o.id
}

// Entity returns the name of the entity the object is an instance of.
func (o *Object) Entity() string {
	o.confined()

	return o.entity.name
}

// Set changes the attribute name to value.
// Setting an attribute to its current value does not count as a change.
// It panics if the attribute does not exist or value has the wrong type.
func (o *Object) Set(name string, value any) {
	o.confined()

	t := o.mustType(name)

	v, err := normalise(t, value)
	if err != nil {
		panic(fmt.Sprintf("livestore: %s.%s: %v", o.entity.name, name, err))
	}

	if equalValues(o.values[name], v) {
		return
	}

	o.values[name] = v

	if equalValues(o.committed[name], v) {
		delete(o.changed, name)

		return
	}

	o.changed[name] = struct{}{}
}

// Value returns the attribute name in its Go representation, see AttributeType.
func (o *Object) Value(name string) any {
	o.confined()
	o.mustType(name)

	return o.values[name]
}

func (o *Object) String(name string) string {
	return o.typed(name, String).(string) //nolint:forcetypeassert // type checked by typed
}

func (o *Object) Bool(name string) bool {
	return o.typed(name, Bool).(bool) //nolint:forcetypeassert // type checked by typed
}

func (o *Object) Int(name string) int64 {
	return o.typed(name, Int).(int64) //nolint:forcetypeassert // type checked by typed
}

func (o *Object) Time(name string) time.Time {
	return o.typed(name, Time).(time.Time) //nolint:forcetypeassert // type checked by typed
}

// HasChanges reports whether the object differs from what is stored.
func (o *Object) HasChanges() bool {
	o.confined()

	return o.state != statePersisted || len(o.changed) > 0
}

// IsDeleted reports whether the object is deleted or going to be deleted on the next save.
func (o *Object) IsDeleted() bool {
	o.confined()

	return o.state == stateDeleted || o.state == stateDetached
}

func (o *Object) typed(name string, t AttributeType) any {
	o.confined()

	if at := o.mustType(name); at != t {
		panic(fmt.Sprintf("livestore: %s.%s is %s, not %s", o.entity.name, name, at, t))
	}

	return o.values[name]
}

func (o *Object) mustType(name string) AttributeType {
	t, ok := o.entity.types[name]
	if !ok {
		panic(fmt.Sprintf("livestore: %s has no attribute %s", o.entity.name, name))
	}

	return t
}

// confined only knows whether a closure of the owner is running, not which
// goroutine runs it.
func (o *Object) confined() {
	if !o.owner.performing.Load() {
		panic(fmt.Errorf("%w: %s %s of context %s", ErrConfinement, o.entity.name, o.id, o.owner.name))
	}
}

// changedColumns returns the changed attributes in schema order.
func (o *Object) changedColumns() []string {
	cols := make([]string, 0, len(o.changed))

	for _, attr := range o.entity.attrs {
		if _, ok := o.changed[attr.Name]; ok {
			cols = append(cols, attr.Name)
		}
	}

	return cols
}

// commit marks the current values as stored.
func (o *Object) commit() {
	o.committed = maps.Clone(o.values)
	o.changed = map[string]struct{}{}
	o.state = statePersisted
}

// rollback discards all changes.
func (o *Object) rollback() {
	o.values = maps.Clone(o.committed)
	o.changed = map[string]struct{}{}

	if o.state == stateDeleted {
		o.state = statePersisted
	}
}

// refresh takes over stored values. Properties changed in this
// context keep their value, so they win on the next save.
func (o *Object) refresh(stored map[string]any) {
	o.committed = stored

	for name, v := range stored {
		if _, changed := o.changed[name]; changed {
			if equalValues(o.values[name], v) {
				delete(o.changed, name)
			}

			continue
		}

		o.values[name] = v
	}
}
