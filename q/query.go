// Package q describes queries: an optional filter predicate plus an ordered
// list of sort keys. A Query is a value; every builder method returns a new
// Query and never changes the receiver.
package q

import (
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/georgysavva/scany/v2/dbscan"

	"github.com/go-arrower/livestore/sendable"
)

// Operator represents comparison operators.
type Operator string

const (
	Eq   Operator = "="
	Ne   Operator = "!="
	Gt   Operator = ">"
	Gte  Operator = ">="
	Lt   Operator = "<"
	Lte  Operator = "<="
	In   Operator = "IN"
	Like Operator = "LIKE"
)

type LogicalOperator string

const (
	LogicalAnd LogicalOperator = "AND"
	LogicalOr  LogicalOperator = "OR"
)

type Direction string

const (
	Ascending  Direction = "ASC"
	Descending Direction = "DESC"
)

// Condition represents a single WHERE condition.
type Condition struct {
	Field    string
	Operator Operator
	Value    any
}

// ConditionGroup joins its Conditions and Groups with Operator.
type ConditionGroup struct {
	Operator   LogicalOperator
	Conditions []Condition
	Groups     []ConditionGroup
}

// IsEmpty reports whether the group, including all nested groups, has no conditions.
func (g ConditionGroup) IsEmpty() bool {
	if len(g.Conditions) > 0 {
		return false
	}

	for _, sub := range g.Groups {
		if !sub.IsEmpty() {
			return false
		}
	}

	return true
}

func (g ConditionGroup) clone() ConditionGroup {
	c := ConditionGroup{
		Operator:   g.Operator,
		Conditions: make([]Condition, len(g.Conditions)),
		Groups:     make([]ConditionGroup, len(g.Groups)),
	}

	for i, cond := range g.Conditions {
		if vals, ok := cond.Value.([]any); ok {
			cond.Value = slices.Clone(vals)
		}

		c.Conditions[i] = cond
	}

	for i, sub := range g.Groups {
		c.Groups[i] = sub.clone()
	}

	return c
}

// SortKey orders results by Field in Direction.
type SortKey struct {
	Field     string
	Direction Direction
}

// Query is a filter predicate and an ordered list of sort keys.
// The zero Query matches everything and is unordered.
type Query struct {
	conditions ConditionGroup
	sortKeys   []SortKey
}

// All returns a Query without any conditions or ordering.
func All() Query {
	return Query{conditions: ConditionGroup{Operator: LogicalAnd}}
}

// Where starts a new Query with a condition on field.
// Field names are mapped to snake_case, so "CreatedAt" and "created_at" are the same.
func Where(field string) *WhereQuery {
	return All().Where(field)
}

// Or returns a Query matching any of the given queries.
func Or(queries ...Query) Query {
	return All().Or(queries...)
}

// OrderBy starts a new Query that is ordered by field.
func OrderBy(field string) *OrderQuery {
	return All().OrderBy(field)
}

// Where adds a condition that has to hold in addition to the existing ones.
func (q Query) Where(field string) *WhereQuery {
	return &WhereQuery{query: q.Clone(), field: normaliseField(field)}
}

// Or adds a group that holds if any of the given queries holds.
// The sort keys of the given queries are ignored.
func (q Query) Or(queries ...Query) Query {
	nq := q.Clone()

	group := ConditionGroup{Operator: LogicalOr}

	for _, sub := range queries {
		if sub.conditions.IsEmpty() {
			continue
		}

		g := sub.conditions.clone()
		if g.Operator == "" {
			g.Operator = LogicalAnd
		}

		group.Groups = append(group.Groups, g)
	}

	if len(group.Groups) > 0 {
		nq.conditions.Groups = append(nq.conditions.Groups, group)
	}

	return nq
}

// OrderBy adds a sort key after the existing ones.
func (q Query) OrderBy(field string) *OrderQuery {
	return &OrderQuery{query: q.Clone(), field: normaliseField(field)}
}

// Clone returns a deep copy of q.
func (q Query) Clone() Query {
	c := Query{
		conditions: q.conditions.clone(),
		sortKeys:   slices.Clone(q.sortKeys),
	}

	if c.conditions.Operator == "" {
		c.conditions.Operator = LogicalAnd
	}

	return c
}

// Sendable wraps q, so it can be handed to another goroutine.
func (q Query) Sendable() sendable.Value[Query] {
	return sendable.New(q, Query.Clone)
}

// Conditions returns a copy of the filter predicate.
func (q Query) Conditions() ConditionGroup {
	return q.Clone().conditions
}

// SortKeys returns a copy of the sort keys in order of precedence.
func (q Query) SortKeys() []SortKey {
	return slices.Clone(q.sortKeys)
}

// IsEmpty reports whether q has neither conditions nor sort keys.
func (q Query) IsEmpty() bool {
	return q.conditions.IsEmpty() && len(q.sortKeys) == 0
}

// String renders q for logs and debugging. It is not valid SQL.
func (q Query) String() string {
	var b strings.Builder

	if !q.conditions.IsEmpty() {
		b.WriteString("WHERE ")
		writeGroup(&b, q.conditions)
	}

	if len(q.sortKeys) > 0 {
		if b.Len() > 0 {
			b.WriteString(" ")
		}

		b.WriteString("ORDER BY ")

		for i, k := range q.sortKeys {
			if i > 0 {
				b.WriteString(", ")
			}

			fmt.Fprintf(&b, "%s %s", k.Field, k.Direction)
		}
	}

	if b.Len() == 0 {
		return "ALL"
	}

	return b.String()
}

func writeGroup(b *strings.Builder, g ConditionGroup) {
	op := g.Operator
	if op == "" {
		op = LogicalAnd
	}

	parts := make([]string, 0, len(g.Conditions)+len(g.Groups))
	for _, c := range g.Conditions {
		parts = append(parts, fmt.Sprintf("%s %s %v", c.Field, c.Operator, c.Value))
	}

	for _, sub := range g.Groups {
		if sub.IsEmpty() {
			continue
		}

		var sb strings.Builder
		writeGroup(&sb, sub)
		parts = append(parts, sb.String())
	}

	b.WriteString("(")
	b.WriteString(strings.Join(parts, " "+string(op)+" "))
	b.WriteString(")")
}

func (q *Query) addCondition(field string, op Operator, value any) {
	q.conditions.Conditions = append(q.conditions.Conditions, Condition{
		Field:    field,
		Operator: op,
		Value:    value,
	})
}

type WhereQuery struct {
	query Query
	field string
}

func (w *WhereQuery) Is(value any) Query             { return w.with(Eq, value) }
func (w *WhereQuery) IsNot(value any) Query          { return w.with(Ne, value) }
func (w *WhereQuery) GreaterThan(value any) Query    { return w.with(Gt, value) }
func (w *WhereQuery) GreaterOrEqual(value any) Query { return w.with(Gte, value) }
func (w *WhereQuery) LessThan(value any) Query       { return w.with(Lt, value) }
func (w *WhereQuery) LessOrEqual(value any) Query    { return w.with(Lte, value) }

// In matches if the field equals any of values. An empty list matches nothing.
func (w *WhereQuery) In(values ...any) Query {
	return w.with(In, slices.Clone(values))
}

// Like matches the field against a SQL LIKE pattern.
func (w *WhereQuery) Like(pattern string) Query {
	return w.with(Like, pattern)
}

func (w *WhereQuery) with(op Operator, value any) Query {
	nq := w.query.Clone()
	nq.addCondition(w.field, op, value)

	return nq
}

type OrderQuery struct {
	query Query
	field string
}

func (o *OrderQuery) Ascending() Query  { return o.with(Ascending) }
func (o *OrderQuery) Descending() Query { return o.with(Descending) }

func (o *OrderQuery) with(dir Direction) Query {
	nq := o.query.Clone()
	nq.sortKeys = append(nq.sortKeys, SortKey{Field: o.field, Direction: dir})

	return nq
}

// Filter builds an equality Query from all non-zero fields of objFilter.
// Column names follow the `db` tag or the snake_case field name.
func Filter[T any](objFilter T) Query {
	fv := reflect.ValueOf(objFilter)
	ft := fv.Type()

	nq := All()

	for i := range fv.NumField() {
		if !ft.Field(i).IsExported() {
			continue
		}

		field := fv.Field(i)
		if field.IsZero() {
			continue
		}

		nq.addCondition(fieldName(ft.Field(i)), Eq, field.Interface())
	}

	return nq
}

func fieldName(tField reflect.StructField) string {
	if dbTag := tField.Tag.Get("db"); dbTag != "" {
		return dbTag
	}

	return dbscan.SnakeCaseMapper(tField.Name)
}

func normaliseField(field string) string {
	return dbscan.SnakeCaseMapper(strings.TrimSpace(field))
}
