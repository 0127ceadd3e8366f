package state

// FieldUpdate computes a field's new value from its previous one.
type FieldUpdate interface {
	apply(prev any) any
}

type setValue struct{ v any }

func (s setValue) apply(any) any { return s.v }

// Set replaces the field with v.
func Set(v any) FieldUpdate {
	return setValue{v: v}
}

// UpdateFunc derives the new value from the previous one (nil when the
// field was absent).
type UpdateFunc func(prev any) any

func (f UpdateFunc) apply(prev any) any { return f(prev) }
