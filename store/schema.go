package store

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"
)

// IDField is the name of the identity attribute every entity has.
// It is stored as the primary key and can not be changed after insertion.
const IDField = "id"

// AttributeType is the type of an entity's attribute.
// Each type has one Go representation the Object accessors work with.
type AttributeType int

const (
	// String is represented as string.
	String AttributeType = iota + 1
	// Bool is represented as bool.
	Bool
	// Int is represented as int64.
	Int
	// Time is represented as time.Time in UTC with nanosecond precision.
	// Years 0 to 9999 are supported. The zero time is stored as NULL.
	Time
)

func (t AttributeType) String() string {
	switch t {
	case String:
		return "string"
	case Bool:
		return "bool"
	case Int:
		return "int"
	case Time:
		return "time"
	}

	return fmt.Sprintf("AttributeType(%d)", int(t))
}

func (t AttributeType) sqlType() string {
	if t == String || t == Time {
		return "TEXT"
	}

	return "INTEGER"
}

// timeLayout has a fixed width, so stored times sort like the instants they represent.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

type Attribute struct {
	Name string
	Type AttributeType
}

// EntityDescription describes one kind of entity and the table it is stored in.
// The id attribute is implicit and must not be listed in Attributes.
type EntityDescription struct {
	Name       string
	Table      string
	Attributes []Attribute
}

var validIdentifier = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// entity is the compiled form of an EntityDescription.
// It resolves query fields to columns and converts values between Go and sqlite.
type entity struct {
	name    string
	table   string
	attrs   []Attribute
	types   map[string]AttributeType
	columns []string // quoted, id first
}

func compileSchema(descs []EntityDescription) (map[string]*entity, error) {
	if len(descs) == 0 {
		return nil, fmt.Errorf("%w: no entities", ErrInvalidSchema)
	}

	entities := make(map[string]*entity, len(descs))
	tables := make(map[string]bool, len(descs))

	for _, desc := range descs {
		e, err := compileEntity(desc)
		if err != nil {
			return nil, err
		}

		if _, exists := entities[e.name]; exists {
			return nil, fmt.Errorf("%w: duplicate entity %s", ErrInvalidSchema, e.name)
		}

		if tables[e.table] {
			return nil, fmt.Errorf("%w: duplicate table %s", ErrInvalidSchema, e.table)
		}

		entities[e.name] = e
		tables[e.table] = true
	}

	return entities, nil
}

func compileEntity(desc EntityDescription) (*entity, error) {
	if desc.Name == "" {
		return nil, fmt.Errorf("%w: entity without name", ErrInvalidSchema)
	}

	if !validIdentifier.MatchString(desc.Table) || strings.HasPrefix(desc.Table, "livestore_") {
		return nil, fmt.Errorf("%w: invalid table name %q for %s", ErrInvalidSchema, desc.Table, desc.Name)
	}

	e := &entity{
		name:    desc.Name,
		table:   desc.Table,
		attrs:   make([]Attribute, 0, len(desc.Attributes)),
		types:   make(map[string]AttributeType, len(desc.Attributes)),
		columns: []string{quote(IDField)},
	}

	for _, attr := range desc.Attributes {
		if !validIdentifier.MatchString(attr.Name) || attr.Name == IDField || attr.Name == "rowid" {
			return nil, fmt.Errorf("%w: invalid attribute name %q for %s", ErrInvalidSchema, attr.Name, desc.Name)
		}

		if attr.Type < String || attr.Type > Time {
			return nil, fmt.Errorf("%w: invalid type of %s.%s", ErrInvalidSchema, desc.Name, attr.Name)
		}

		if _, exists := e.types[attr.Name]; exists {
			return nil, fmt.Errorf("%w: duplicate attribute %s.%s", ErrInvalidSchema, desc.Name, attr.Name)
		}

		e.attrs = append(e.attrs, attr)
		e.types[attr.Name] = attr.Type
		e.columns = append(e.columns, quote(attr.Name))
	}

	return e, nil
}

func (e *entity) createTableSQL() string {
	cols := make([]string, 0, len(e.attrs)+1)
	cols = append(cols, quote(IDField)+" TEXT PRIMARY KEY NOT NULL")

	for _, attr := range e.attrs {
		cols = append(cols, quote(attr.Name)+" "+attr.Type.sqlType())
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quote(e.table), strings.Join(cols, ", "))
}

// Column implements q.Resolver.
func (e *entity) Column(field string) (string, bool) {
	if field == IDField {
		return quote(IDField), true
	}

	if _, ok := e.types[field]; ok {
		return quote(field), true
	}

	return "", false
}

// Encode implements q.Resolver.
func (e *entity) Encode(field string, value any) (any, error) {
	if field == IDField {
		return normaliseID(value)
	}

	t, ok := e.types[field]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownEntity, e.name, field)
	}

	v, err := normalise(t, value)
	if err != nil {
		return nil, err
	}

	return encode(t, v), nil
}

func (e *entity) decodeRow(row map[string]any) (string, map[string]any, error) {
	id, _ := row[IDField].(string)
	if id == "" {
		return "", nil, fmt.Errorf("%w: %s row without id", ErrFetch, e.name)
	}

	values := make(map[string]any, len(e.attrs))

	for _, attr := range e.attrs {
		v, err := decode(attr.Type, row[attr.Name])
		if err != nil {
			return "", nil, fmt.Errorf("%w: %s.%s: %v", ErrFetch, e.name, attr.Name, err) //nolint:errorlint // keep ErrFetch as sentinel
		}

		values[attr.Name] = v
	}

	return id, values, nil
}

func (e *entity) zeroValues() map[string]any {
	values := make(map[string]any, len(e.attrs))
	for _, attr := range e.attrs {
		values[attr.Name] = zero(attr.Type)
	}

	return values
}

func quote(identifier string) string {
	return `"` + identifier + `"`
}

func normaliseID(value any) (string, error) {
	switch v := value.(type) {
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	}

	return "", fmt.Errorf("unsupported id type %T", value) //nolint:err113 // wrapped by the caller
}

func zero(t AttributeType) any {
	switch t {
	case String:
		return ""
	case Bool:
		return false
	case Int:
		return int64(0)
	case Time:
		return time.Time{}
	}

	return nil
}

// normalise converts a Go value into the representation of t.
func normalise(t AttributeType, value any) (any, error) { //nolint:cyclop,gocyclo // one case per supported Go type
	if value == nil {
		return zero(t), nil
	}

	switch t {
	case String:
		switch v := value.(type) {
		case string:
			return v, nil
		case fmt.Stringer:
			return v.String(), nil
		}
	case Bool:
		if v, ok := value.(bool); ok {
			return v, nil
		}
	case Int:
		switch v := value.(type) {
		case int:
			return int64(v), nil
		case int8:
			return int64(v), nil
		case int16:
			return int64(v), nil
		case int32:
			return int64(v), nil
		case int64:
			return v, nil
		case uint8:
			return int64(v), nil
		case uint16:
			return int64(v), nil
		case uint32:
			return int64(v), nil
		case uint:
			if v <= math.MaxInt64 {
				return int64(v), nil
			}
		case uint64:
			if v <= math.MaxInt64 {
				return int64(v), nil
			}
		}
	case Time:
		switch v := value.(type) {
		case time.Time:
			return canonicalTime(v)
		case *time.Time:
			if v == nil {
				return time.Time{}, nil
			}

			return canonicalTime(*v)
		}
	}

	return nil, fmt.Errorf("can not use %T as %s", value, t) //nolint:err113 // wrapped by the caller
}

func canonicalTime(t time.Time) (time.Time, error) {
	if t.IsZero() {
		return time.Time{}, nil
	}

	t = t.UTC()
	if t.Year() < 0 || t.Year() > 9999 {
		return time.Time{}, fmt.Errorf("time %s is out of range, use years 0 to 9999", t) //nolint:err113 // wrapped by the caller
	}

	return t, nil
}

// encode converts a normalised value into its sqlite representation.
func encode(t AttributeType, v any) any {
	switch t {
	case Bool:
		if b, _ := v.(bool); b {
			return int64(1)
		}

		return int64(0)
	case Time:
		tm, _ := v.(time.Time)
		if tm.IsZero() {
			return nil
		}

		return tm.UTC().Format(timeLayout)
	case String, Int:
	}

	return v
}

// decode converts a sqlite value into the representation of t.
func decode(t AttributeType, raw any) (any, error) {
	if raw == nil {
		return zero(t), nil
	}

	switch t {
	case String:
		switch v := raw.(type) {
		case string:
			return v, nil
		case []byte:
			return string(v), nil
		}
	case Bool:
		if v, ok := raw.(int64); ok {
			return v != 0, nil
		}
	case Int:
		if v, ok := raw.(int64); ok {
			return v, nil
		}
	case Time:
		var s string

		switch v := raw.(type) {
		case string:
			s = v
		case []byte:
			s = string(v)
		}

		if s != "" {
			return time.Parse(timeLayout, s) //nolint:wrapcheck // wrapped by the caller
		}
	}

	return nil, fmt.Errorf("can not decode %T as %s", raw, t) //nolint:err113 // wrapped by the caller
}

func equalValues(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)

		return ok && ta.Equal(tb)
	}

	return a == b
}
