package docstore

import (
	"fmt"
	"reflect"
	"slices"
	"strings"
)

// Op is a filter operator.
type Op string

const (
	OpEqual         Op = "=="
	OpNotEqual      Op = "!="
	OpLess          Op = "<"
	OpLessEqual     Op = "<="
	OpGreater       Op = ">"
	OpGreaterEqual  Op = ">="
	OpIn            Op = "in"
	OpArrayContains Op = "array-contains"
)

// ValidOps lists the supported filter operators.
var ValidOps = []Op{OpEqual, OpNotEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual, OpIn, OpArrayContains}

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Filter restricts results to documents whose Field satisfies Op Value.
type Filter struct {
	Field string
	Op    Op
	Value any
}

// Order sorts results by Field.
type Order struct {
	Field     string
	Direction Direction
}

// Query is a collection reference plus constraints. Zero Limit means no limit.
type Query struct {
	Collection CollectionRef
	Filters    []Filter
	Orders     []Order
	Limit      int
}

// Constraint modifies a query under construction.
type Constraint interface {
	apply(q *Query)
}

type constraintFunc func(q *Query)

func (f constraintFunc) apply(q *Query) { f(q) }

// Where adds a filter.
func Where(field string, op Op, value any) Constraint {
	return constraintFunc(func(q *Query) {
		q.Filters = append(q.Filters, Filter{Field: field, Op: op, Value: value})
	})
}

// OrderBy adds a sort key. Sort keys apply in the order they are added.
func OrderBy(field string, dir Direction) Constraint {
	return constraintFunc(func(q *Query) {
		q.Orders = append(q.Orders, Order{Field: field, Direction: dir})
	})
}

// Limit caps the number of results. The last Limit wins.
func Limit(n int) Constraint {
	return constraintFunc(func(q *Query) {
		q.Limit = n
	})
}

// NewQuery builds a query over c. Building is pure; validation happens when
// the query is executed.
func NewQuery(c CollectionRef, cs ...Constraint) Query {
	q := Query{Collection: c}
	for _, cons := range cs {
		if cons != nil {
			cons.apply(&q)
		}
	}
	return q
}

// With returns a copy of q with additional constraints applied.
func (q Query) With(cs ...Constraint) Query {
	out := Query{
		Collection: q.Collection,
		Filters:    slices.Clone(q.Filters),
		Orders:     slices.Clone(q.Orders),
		Limit:      q.Limit,
	}
	for _, cons := range cs {
		if cons != nil {
			cons.apply(&out)
		}
	}
	return out
}

// Validate checks operators, directions, field names and limits.
func (q Query) Validate() error {
	if q.Collection.IsZero() {
		return fmt.Errorf("%w: unresolved collection", ErrInvalidQuery)
	}
	for _, f := range q.Filters {
		if err := validateField(f.Field); err != nil {
			return err
		}
		if !slices.Contains(ValidOps, f.Op) {
			return fmt.Errorf("%w: unknown operator %q", ErrInvalidQuery, f.Op)
		}
		if f.Op == OpIn {
			if _, ok := List(f.Value); !ok {
				return fmt.Errorf("%w: %q requires a list value", ErrInvalidQuery, OpIn)
			}
		}
	}
	for _, o := range q.Orders {
		if err := validateField(o.Field); err != nil {
			return err
		}
		if o.Direction != Asc && o.Direction != Desc {
			return fmt.Errorf("%w: unknown direction %q", ErrInvalidQuery, o.Direction)
		}
	}
	if q.Limit < 0 {
		return fmt.Errorf("%w: negative limit %d", ErrInvalidQuery, q.Limit)
	}
	return nil
}

func validateField(field string) error {
	if field == "" {
		return fmt.Errorf("%w: empty field", ErrInvalidQuery)
	}
	for _, part := range strings.Split(field, ".") {
		if part == "" {
			return fmt.Errorf("%w: malformed field %q", ErrInvalidQuery, field)
		}
	}
	return nil
}

func (q Query) String() string {
	var b strings.Builder
	b.WriteString(q.Collection.Path)
	for _, f := range q.Filters {
		fmt.Fprintf(&b, " where %s %s %v", f.Field, f.Op, f.Value)
	}
	for _, o := range q.Orders {
		fmt.Fprintf(&b, " order by %s %s", o.Field, o.Direction)
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, " limit %d", q.Limit)
	}
	return b.String()
}

// List converts any slice or array value to []any.
func List(v any) ([]any, bool) {
	if s, ok := v.([]any); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, false
	}
	out := make([]any, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}
