package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStep_Op(t *testing.T) {
	tests := []struct {
		name     string
		step     Step
		op       string
		resource string
		err      string
	}{
		{name: "observe", step: Step{Observe: "todos"}, op: OpObserve, resource: "todos"},
		{name: "mutation", step: Step{Push: &ResourceStep{Resource: "chat"}}, op: OpPush, resource: "chat"},
		{name: "backend", step: Step{Put: &BackendStep{Key: "a"}}, op: OpPut},
		{name: "empty", step: Step{ExpectError: true}, err: "no operation"},
		{
			name: "several",
			step: Step{Observe: "todos", Write: &BackendStep{Path: "a/b"}},
			err:  "several operations [observe write]",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, resource, err := tt.step.Op()
			if tt.err != "" {
				require.EqualError(t, err, tt.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.op, op)
			assert.Equal(t, tt.resource, resource)
		})
	}
}

func TestParseScenario_Errors(t *testing.T) {
	const head = `
description: d
config:
  resources:
    todos: {kind: collection, path: todos}
`
	tests := []struct {
		name string
		src  string
		want string
	}{
		{
			name: "unknown field",
			src:  "name: x\n" + head + "steps: [{observe: todos}]\nassertions: [{type: trace_contains, op: observe}]\nextra: 1\n",
			want: "field extra not found",
		},
		{
			name: "missing name",
			src:  head + "steps: [{observe: todos}]\nassertions: [{type: trace_contains, op: observe}]\n",
			want: "name is required",
		},
		{
			name: "no steps",
			src:  "name: x\n" + head + "assertions: [{type: trace_contains, op: observe}]\n",
			want: "steps list is required",
		},
		{
			name: "unknown resource",
			src:  "name: x\n" + head + "steps: [{observe: todo}]\nassertions: [{type: trace_contains, op: observe}]\n",
			want: `steps[0]: unknown resource "todo"`,
		},
		{
			name: "delete without id",
			src:  "name: x\n" + head + "steps: [{delete: {resource: todos}}]\nassertions: [{type: trace_contains, op: delete}]\n",
			want: "steps[0].delete: id is required",
		},
		{
			name: "unknown assertion",
			src:  "name: x\n" + head + "steps: [{observe: todos}]\nassertions: [{type: eventually}]\n",
			want: `unknown assertion type "eventually"`,
		},
		{
			name: "data without resource",
			src:  "name: x\n" + head + "steps: [{observe: todos}]\nassertions: [{type: data, expect: []}]\n",
			want: "resource is required for data",
		},
		{
			name: "invalid config",
			src:  "name: x\ndescription: d\nconfig:\n  resources:\n    todos: {kind: table, path: todos}\nsteps: [{observe: todos}]\nassertions: [{type: trace_contains, op: observe}]\n",
			want: "invalid scenario config",
		},
		{
			name: "config and file",
			src:  "name: x\n" + head + "config_file: app.yaml\nsteps: [{observe: todos}]\nassertions: [{type: trace_contains, op: observe}]\n",
			want: "exactly one of config and config_file",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.src))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestEvaluateAssertions(t *testing.T) {
	result := NewResult()
	result.AddTrace(TraceEvent{Op: OpObserve, Resource: "todos"})
	result.AddTrace(TraceEvent{Op: OpAdd, Resource: "todos", Result: "doc-0001"})
	result.AddTrace(TraceEvent{Op: OpWrite, Target: "todos/x"})
	result.AddTrace(TraceEvent{Op: OpAdd, Resource: "todos", Result: "doc-0002"})
	result.Final["todos"] = []any{map[string]any{"id": "doc-0001", "rank": 3.0}}

	tests := []struct {
		name      string
		assertion Assertion
		fails     string
	}{
		{name: "data equal", assertion: Assertion{Type: AssertData, Resource: "todos", Expect: []any{map[string]any{"rank": 3, "id": "doc-0001"}}}},
		{name: "data differs", assertion: Assertion{Type: AssertData, Resource: "todos", Expect: []any{}}, fails: `Actual: todos = [{"id":"doc-0001","rank":3}]`},
		{name: "data unread", assertion: Assertion{Type: AssertData, Resource: "users"}, fails: "resource was not read"},
		{name: "contains", assertion: Assertion{Type: AssertTraceContains, Op: OpWrite}},
		{name: "contains filtered", assertion: Assertion{Type: AssertTraceContains, Op: OpObserve, Resource: "users"}, fails: "not found in trace"},
		{name: "count", assertion: Assertion{Type: AssertTraceCount, Op: OpAdd, Count: 2}},
		{name: "count differs", assertion: Assertion{Type: AssertTraceCount, Op: OpAdd, Count: 1}, fails: "2 occurrences"},
		{name: "order", assertion: Assertion{Type: AssertTraceOrder, Ops: []string{OpObserve, OpWrite, OpAdd}}},
		{name: "order broken", assertion: Assertion{Type: AssertTraceOrder, Ops: []string{OpWrite, OpObserve}}, fails: "missing observe after [write]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := EvaluateAssertions(result, []Assertion{tt.assertion})
			if tt.fails == "" {
				assert.Empty(t, errs)
				return
			}
			require.Len(t, errs, 1)
			assert.Contains(t, errs[0], tt.fails)
		})
	}
}
