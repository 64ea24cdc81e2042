package aassert

import (
	"fmt"
	"reflect"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/go-arrower/livestore/store"
)

// MapsSchema asserts that record has one public field for the id and
// one for every attribute of description.
// A field added to the record without extending the schema, or the other
// way around, is lost when the record is stored.
func MapsSchema(t testing.TB, description store.EntityDescription, record any, msgAndArgs ...any) bool {
	t.Helper()

	return NumFields(t, len(description.Attributes)+1, record, msgAndArgs...)
}

// NumFields asserts that record has the expected number of public fields.
// Public fields of embedded and nested structs, e.g. a value object, are counted as well.
func NumFields(t testing.TB, expected int, record any, msgAndArgs ...any) bool {
	t.Helper()

	elem, ok := structValue(record)
	if !ok {
		return assert.Fail(t, "invalid argument, it has to be a struct", msgAndArgs...)
	}

	if fields := numFields(elem); fields != expected {
		t.Logf("the number of public fields of `%s` changed: ensure ToEntity, FromEntity and "+
			"ApplyMutableFields map all of them, then correct the expected count in `%s`", elem.Type(), t.Name())

		return assert.Fail(t, fmt.Sprintf("struct changed, it has: %d fields, expected: %d", fields, expected), msgAndArgs...)
	}

	return true
}

func structValue(v any) (reflect.Value, bool) {
	if v == nil {
		return reflect.Value{}, false
	}

	elem := reflect.ValueOf(v)
	if elem.Kind() == reflect.Ptr {
		elem = reflect.New(elem.Type().Elem()).Elem()
	}

	return elem, elem.Kind() == reflect.Struct
}

func numFields(elem reflect.Value) int {
	var fields int

	for i := range elem.NumField() {
		field := elem.Type().Field(i)
		if !field.IsExported() {
			continue
		}

		if !field.Anonymous {
			fields++
		}

		typ := field.Type
		for typ.Kind() == reflect.Ptr || typ.Kind() == reflect.Slice {
			typ = typ.Elem()
		}

		if typ.Kind() == reflect.Struct {
			fields += numFields(reflect.New(typ).Elem())
		}
	}

	return fields
}
