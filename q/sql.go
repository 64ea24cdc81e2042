package q

import (
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
)

var (
	ErrUnknownField = errors.New("unknown field")
	ErrInvalidValue = errors.New("invalid value")
)

// Resolver maps query fields onto a concrete table.
type Resolver interface {
	// Column returns the quoted column for field, or false if the field does not exist.
	Column(field string) (string, bool)
	// Encode converts a query value into its stored representation.
	Encode(field string, value any) (any, error)
}

// Predicate translates the conditions of query into a squirrel expression.
// It returns nil if the query has no conditions.
func Predicate(query Query, r Resolver) (squirrel.Sqlizer, error) { //nolint:ireturn // squirrel expressions are interfaces
	if query.conditions.IsEmpty() {
		return nil, nil //nolint:nilnil // nothing to filter
	}

	return groupSQL(query.conditions, r)
}

// OrderClauses translates the sort keys of query into ORDER BY clauses.
func OrderClauses(query Query, r Resolver) ([]string, error) {
	clauses := make([]string, 0, len(query.sortKeys))

	for _, k := range query.sortKeys {
		col, ok := r.Column(k.Field)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownField, k.Field)
		}

		dir := k.Direction
		if dir != Descending {
			dir = Ascending
		}

		clauses = append(clauses, col+" "+string(dir))
	}

	return clauses, nil
}

// Apply adds the WHERE and ORDER BY parts of query to sb.
func Apply(sb squirrel.SelectBuilder, query Query, r Resolver) (squirrel.SelectBuilder, error) {
	pred, err := Predicate(query, r)
	if err != nil {
		return sb, err
	}

	if pred != nil {
		sb = sb.Where(pred)
	}

	order, err := OrderClauses(query, r)
	if err != nil {
		return sb, err
	}

	if len(order) > 0 {
		sb = sb.OrderBy(order...)
	}

	return sb, nil
}

func groupSQL(g ConditionGroup, r Resolver) (squirrel.Sqlizer, error) { //nolint:ireturn // squirrel expressions are interfaces
	parts := make([]squirrel.Sqlizer, 0, len(g.Conditions)+len(g.Groups))

	for _, c := range g.Conditions {
		s, err := conditionSQL(c, r)
		if err != nil {
			return nil, err
		}

		parts = append(parts, s)
	}

	for _, sub := range g.Groups {
		if sub.IsEmpty() {
			continue
		}

		s, err := groupSQL(sub, r)
		if err != nil {
			return nil, err
		}

		parts = append(parts, s)
	}

	if g.Operator == LogicalOr {
		return squirrel.Or(parts), nil
	}

	return squirrel.And(parts), nil
}

func conditionSQL(c Condition, r Resolver) (squirrel.Sqlizer, error) { //nolint:ireturn,cyclop // one case per operator
	col, ok := r.Column(c.Field)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownField, c.Field)
	}

	if c.Operator == In {
		vals, _ := c.Value.([]any)
		encoded := make([]any, 0, len(vals))

		for _, v := range vals {
			ev, err := encodeNotNil(c.Field, v, r)
			if err != nil {
				return nil, err
			}

			encoded = append(encoded, ev)
		}

		return squirrel.Eq{col: encoded}, nil
	}

	// equality against nil turns into IS NULL / IS NOT NULL
	if c.Value == nil {
		switch c.Operator { //nolint:exhaustive // other operators need a value
		case Eq:
			return squirrel.Eq{col: nil}, nil
		case Ne:
			return squirrel.NotEq{col: nil}, nil
		}

		return nil, fmt.Errorf("%w: %s %s: value can not be nil", ErrInvalidValue, c.Field, c.Operator)
	}

	v, err := r.Encode(c.Field, c.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidValue, c.Field, err) //nolint:errorlint // keep ErrInvalidValue as the sentinel
	}

	switch c.Operator {
	case Eq:
		return squirrel.Eq{col: v}, nil
	case Ne:
		return squirrel.NotEq{col: v}, nil
	case Gt:
		return squirrel.Gt{col: v}, nil
	case Gte:
		return squirrel.GtOrEq{col: v}, nil
	case Lt:
		return squirrel.Lt{col: v}, nil
	case Lte:
		return squirrel.LtOrEq{col: v}, nil
	case Like:
		return squirrel.Like{col: v}, nil
	case In:
	}

	return nil, fmt.Errorf("%w: unsupported operator %q", ErrInvalidValue, c.Operator)
}

func encodeNotNil(field string, v any, r Resolver) (any, error) {
	if v == nil {
		return nil, fmt.Errorf("%w: %s IN: value can not be nil", ErrInvalidValue, field)
	}

	ev, err := r.Encode(field, v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidValue, field, err) //nolint:errorlint // keep ErrInvalidValue as the sentinel
	}

	return ev, nil
}
