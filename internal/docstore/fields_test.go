package docstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFields_Get(t *testing.T) {
	f := Fields{"name": "Ada", "address": map[string]any{"city": "London"}}

	v, ok := f.Get("address.city")
	assert.True(t, ok)
	assert.Equal(t, "London", v)

	_, ok = f.Get("address.zip")
	assert.False(t, ok)

	_, ok = f.Get("name.first")
	assert.False(t, ok)
}

func TestFields_CloneIsDeep(t *testing.T) {
	f := Fields{"tags": []any{"a"}, "meta": map[string]any{"n": 1}}
	c := f.Clone()
	c["tags"].([]any)[0] = "b"
	c["meta"].(map[string]any)["n"] = 2

	assert.Equal(t, "a", f["tags"].([]any)[0])
	assert.Equal(t, 1, f["meta"].(map[string]any)["n"])
}

func TestMerge_DeepMergesNestedMaps(t *testing.T) {
	dst := Fields{"name": "Ada", "age": 30, "address": map[string]any{"city": "London", "zip": "N1"}}
	src := Fields{"age": 31, "address": map[string]any{"city": "Paris"}}

	out := Merge(dst, src)

	assert.Equal(t, Fields{
		"name":    "Ada",
		"age":     31,
		"address": map[string]any{"city": "Paris", "zip": "N1"},
	}, out)
	assert.Equal(t, 30, dst["age"], "dst is not modified")
}

func TestMerge_NilDestination(t *testing.T) {
	out := Merge(nil, Fields{"a": 1})
	assert.Equal(t, Fields{"a": 1}, out)
}
