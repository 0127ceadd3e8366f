package docstore

import (
	"fmt"
	"slices"
)

// AggregateOp names an aggregation function.
type AggregateOp string

const (
	AggCount AggregateOp = "count"
	AggSum   AggregateOp = "sum"
	AggAvg   AggregateOp = "avg"
)

// Aggregation is one aggregation over a field. Count ignores Field.
type Aggregation struct {
	Op    AggregateOp
	Field string
}

// Count counts matching documents.
func Count() Aggregation { return Aggregation{Op: AggCount} }

// Sum adds the numeric values of field. Non-numeric values are ignored.
func Sum(field string) Aggregation { return Aggregation{Op: AggSum, Field: field} }

// Average averages the numeric values of field. The result is nil when no
// document has a numeric value for it.
func Average(field string) Aggregation { return Aggregation{Op: AggAvg, Field: field} }

// AggregateSpec maps result aliases to aggregations.
type AggregateSpec map[string]Aggregation

// AggregateResult maps aliases to computed values: int64 for counts,
// float64 for sums, float64 or nil for averages.
type AggregateResult map[string]any

// Validate checks every aggregation in the spec.
func (spec AggregateSpec) Validate() error {
	if len(spec) == 0 {
		return fmt.Errorf("%w: empty aggregate spec", ErrInvalidQuery)
	}
	for alias, a := range spec {
		if alias == "" {
			return fmt.Errorf("%w: empty aggregate alias", ErrInvalidQuery)
		}
		switch a.Op {
		case AggCount:
		case AggSum, AggAvg:
			if err := validateField(a.Field); err != nil {
				return fmt.Errorf("aggregate %q: %w", alias, err)
			}
		default:
			return fmt.Errorf("%w: unknown aggregation %q", ErrInvalidQuery, a.Op)
		}
	}
	return nil
}

// Aliases returns the spec's aliases in sorted order.
func (spec AggregateSpec) Aliases() []string {
	aliases := make([]string, 0, len(spec))
	for a := range spec {
		aliases = append(aliases, a)
	}
	slices.Sort(aliases)
	return aliases
}

// Compute evaluates the spec over docs in memory.
func (spec AggregateSpec) Compute(docs []DocumentSnapshot) AggregateResult {
	out := make(AggregateResult, len(spec))
	for alias, a := range spec {
		switch a.Op {
		case AggCount:
			out[alias] = int64(len(docs))
		case AggSum:
			var sum float64
			for _, d := range docs {
				if n, ok := numericField(d.Fields, a.Field); ok {
					sum += n
				}
			}
			out[alias] = sum
		case AggAvg:
			var sum float64
			var n int
			for _, d := range docs {
				if v, ok := numericField(d.Fields, a.Field); ok {
					sum += v
					n++
				}
			}
			if n == 0 {
				out[alias] = nil
			} else {
				out[alias] = sum / float64(n)
			}
		}
	}
	return out
}

func numericField(f Fields, field string) (float64, bool) {
	v, ok := f.Get(field)
	if !ok {
		return 0, false
	}
	return Number(v)
}
