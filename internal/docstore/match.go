package docstore

import (
	"cmp"
	"encoding/json"
	"slices"

	"github.com/roach88/livestate/internal/canonical"
)

// Type ranks give values of different kinds a total order:
// null < bool < number < string < everything else.
const (
	rankNull = iota
	rankBool
	rankNumber
	rankString
	rankOther
)

func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return rankNull
	case bool:
		return rankBool
	case string:
		return rankString
	}
	if _, ok := Number(v); ok {
		return rankNumber
	}
	return rankOther
}

// Number converts any Go numeric type or json.Number to float64.
func Number(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// CompareValues orders two field values. Numbers compare by value across
// Go numeric types; values of different kinds compare by kind rank.
func CompareValues(a, b any) int {
	ra, rb := typeRank(a), typeRank(b)
	if ra != rb {
		return cmp.Compare(ra, rb)
	}
	switch ra {
	case rankNull:
		return 0
	case rankBool:
		ab, bb := a.(bool), b.(bool)
		switch {
		case ab == bb:
			return 0
		case !ab:
			return -1
		default:
			return 1
		}
	case rankNumber:
		fa, _ := Number(a)
		fb, _ := Number(b)
		return cmp.Compare(fa, fb)
	case rankString:
		return cmp.Compare(a.(string), b.(string))
	default:
		ca, _ := canonical.Marshal(a)
		cb, _ := canonical.Marshal(b)
		return cmp.Compare(string(ca), string(cb))
	}
}

func valuesEqual(a, b any) bool {
	if typeRank(a) != typeRank(b) {
		return false
	}
	if typeRank(a) == rankOther {
		return canonical.Equal(a, b)
	}
	return CompareValues(a, b) == 0
}

// Matches reports whether fields satisfy every filter of q. A document
// missing a filtered field never matches.
func (q Query) Matches(fields Fields) bool {
	for _, f := range q.Filters {
		v, ok := fields.Get(f.Field)
		if !ok || !matchFilter(v, f) {
			return false
		}
	}
	return true
}

func matchFilter(v any, f Filter) bool {
	switch f.Op {
	case OpEqual:
		return valuesEqual(v, f.Value)
	case OpNotEqual:
		return !valuesEqual(v, f.Value)
	case OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		// Range filters only match values of the same kind.
		if typeRank(v) != typeRank(f.Value) {
			return false
		}
		c := CompareValues(v, f.Value)
		switch f.Op {
		case OpLess:
			return c < 0
		case OpLessEqual:
			return c <= 0
		case OpGreater:
			return c > 0
		default:
			return c >= 0
		}
	case OpIn:
		list, _ := List(f.Value)
		return slices.ContainsFunc(list, func(e any) bool { return valuesEqual(v, e) })
	case OpArrayContains:
		arr, ok := List(v)
		if !ok {
			return false
		}
		return slices.ContainsFunc(arr, func(e any) bool { return valuesEqual(e, f.Value) })
	default:
		return false
	}
}

// Apply filters, sorts and limits docs according to q. Documents missing an
// ordered field are excluded. Ties break by id ascending. The input slice is
// not modified.
func (q Query) Apply(docs []DocumentSnapshot) []DocumentSnapshot {
	out := make([]DocumentSnapshot, 0, len(docs))
	for _, d := range docs {
		if !d.Exists || !q.Matches(d.Fields) || !hasOrderFields(d.Fields, q.Orders) {
			continue
		}
		out = append(out, d)
	}
	slices.SortStableFunc(out, func(a, b DocumentSnapshot) int {
		for _, o := range q.Orders {
			av, _ := a.Fields.Get(o.Field)
			bv, _ := b.Fields.Get(o.Field)
			c := CompareValues(av, bv)
			if o.Direction == Desc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return cmp.Compare(a.Ref.ID, b.Ref.ID)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}

func hasOrderFields(f Fields, orders []Order) bool {
	for _, o := range orders {
		if _, ok := f.Get(o.Field); !ok {
			return false
		}
	}
	return true
}
