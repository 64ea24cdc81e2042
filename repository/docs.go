// Package repository maps domain records onto a store.Context.
//
// A Record knows how to turn itself into a store.Object and back. The
// StoreRepository uses that to offer the usual set of operations without
// the caller ever touching a Context directly: every operation runs
// inside Perform of the Context the repository was created with, so it
// is safe to call from any goroutine.
//
// Writes are saved immediately. A failed operation rolls the Context back,
// so no half applied change is left behind for the next caller.
//
// Update and Delete of a record that does not exist are silently ignored.
// Use WithMissingRecordError if a caller needs to know.
//
// The decorators add observability around any Repository.
// NewInstrumentedRepository wires all of them in the expected order.
package repository
