package docstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAggregateSpec_Compute(t *testing.T) {
	docs := []DocumentSnapshot{
		snap("a", Fields{"n": 1}),
		snap("b", Fields{"n": 2.5}),
		snap("c", Fields{"n": "x"}),
		snap("d", Fields{}),
	}
	spec := AggregateSpec{"count": Count(), "total": Sum("n"), "mean": Average("n")}

	got := spec.Compute(docs)

	assert.Equal(t, int64(4), got["count"])
	assert.InDelta(t, 3.5, got["total"], 1e-9)
	assert.InDelta(t, 1.75, got["mean"], 1e-9)
}

func TestAggregateSpec_AverageOfNothingIsNil(t *testing.T) {
	got := AggregateSpec{"mean": Average("n")}.Compute(nil)
	assert.Contains(t, got, "mean")
	assert.Nil(t, got["mean"])
}

func TestAggregateSpec_Validate(t *testing.T) {
	assert.NoError(t, AggregateSpec{"n": Count()}.Validate())
	assert.ErrorIs(t, AggregateSpec{}.Validate(), ErrInvalidQuery)
	assert.ErrorIs(t, AggregateSpec{"s": Sum("")}.Validate(), ErrInvalidQuery)
	assert.ErrorIs(t, AggregateSpec{"s": {Op: "max", Field: "n"}}.Validate(), ErrInvalidQuery)
	assert.Equal(t, []string{"a", "b"}, AggregateSpec{"b": Count(), "a": Count()}.Aliases())
}
