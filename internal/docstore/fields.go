package docstore

import "strings"

// Fields is the raw shape of a stored document: a JSON-like map without the
// document id.
type Fields map[string]any

// Clone returns a deep copy of nested maps and slices so callers cannot
// mutate stored state through a snapshot.
func (f Fields) Clone() Fields {
	if f == nil {
		return nil
	}
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = cloneValue(e)
		}
		return out
	case Fields:
		return val.Clone()
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// Get looks up a dotted field path ("address.city").
func (f Fields) Get(path string) (any, bool) {
	var cur any = map[string]any(f)
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Merge deep-merges src into a copy of dst: nested maps are merged key by
// key, every other value replaces what was there. Fields absent from src
// are preserved.
func Merge(dst, src Fields) Fields {
	out := dst.Clone()
	if out == nil {
		out = Fields{}
	}
	for k, v := range src {
		srcMap, srcIsMap := asMap(v)
		dstMap, dstIsMap := asMap(out[k])
		if srcIsMap && dstIsMap {
			out[k] = map[string]any(Merge(Fields(dstMap), Fields(srcMap)))
			continue
		}
		out[k] = cloneValue(v)
	}
	return out
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Fields:
		return m, true
	default:
		return nil, false
	}
}
