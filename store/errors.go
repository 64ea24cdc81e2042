package store

import (
	"errors"
	"fmt"
	"strings"
)

var ErrStore = errors.New("store error")

var (
	ErrStoreOpen        = fmt.Errorf("%w: could not open store", ErrStore)
	ErrStoreUnavailable = fmt.Errorf("%w: store unavailable", ErrStore)
	ErrStoreClosed      = fmt.Errorf("%w: store closed", ErrStore)
	ErrContextReleased  = fmt.Errorf("%w: context released", ErrStore)
	ErrSave             = fmt.Errorf("%w: could not save", ErrStore)
	ErrFetch            = fmt.Errorf("%w: could not fetch", ErrStore)
	ErrHistory          = fmt.Errorf("%w: could not process history", ErrStore)
	ErrNotFound         = fmt.Errorf("%w: not found", ErrStore)
	ErrAlreadyExists    = fmt.Errorf("%w: already exists", ErrStore)
	ErrInvalidSchema    = fmt.Errorf("%w: invalid schema", ErrStore)
	ErrUnknownEntity    = fmt.Errorf("%w: unknown entity", ErrStore)

	// ErrConfinement is the panic value, if an Object is accessed
	// outside a Perform call of its owning Context.
	// Access from other goroutines while a closure runs is not detected.
	ErrConfinement = fmt.Errorf("%w: object accessed outside of its context", ErrStore)
)

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
