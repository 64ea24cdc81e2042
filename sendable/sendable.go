// Package sendable offers immutable carriers for values that have to cross
// from a caller's goroutine into a confined execution context.
//
// A Value owns a private copy of what it wraps. Every read hands out
// another copy, so neither the sender nor any receiver can reach the
// wrapped state after construction.
package sendable

// Value is an immutable carrier for T.
// The zero Value carries the zero T.
type Value[T any] struct {
	v     T
	clone func(T) T
}

// New wraps v. The clone function must return a deep copy of its argument;
// it is used once on construction and once on every Get.
// If clone is nil, T is treated as a plain value that is copied by assignment.
func New[T any](v T, clone func(T) T) Value[T] {
	if clone == nil {
		clone = identity[T]
	}

	return Value[T]{v: clone(v), clone: clone}
}

// Get returns a copy of the wrapped value.
func (s Value[T]) Get() T { //nolint:ireturn // generic carrier
	if s.clone == nil {
		return s.v
	}

	return s.clone(s.v)
}

// Map derives a new carrier from the wrapped value.
func Map[T, R any](s Value[T], fn func(T) R, clone func(R) R) Value[R] {
	return New(fn(s.Get()), clone)
}

func identity[T any](v T) T { return v } //nolint:ireturn // generic
