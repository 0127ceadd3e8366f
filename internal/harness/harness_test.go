package harness

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios_Golden(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("testdata", "scenarios", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	for _, file := range files {
		scenario, err := LoadScenario(file)
		require.NoError(t, err, file)
		t.Run(scenario.Name, func(t *testing.T) {
			result := RunWithGolden(t, scenario)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func parse(t *testing.T, src string) *Scenario {
	t.Helper()
	scenario, err := ParseScenario([]byte(src))
	require.NoError(t, err)
	return scenario
}

const notesConfig = `
config:
  resources:
    notes:
      kind: collection
      path: notes
    count:
      kind: aggregate
      path: notes
      aggregate:
        n: {op: count}
`

func TestRun_UnexpectedStepError(t *testing.T) {
	scenario := parse(t, `
name: unexpected
description: adding to an aggregate fails
`+notesConfig+`
steps:
  - add: {resource: count, data: {text: x}}
assertions:
  - type: trace_count
    op: add
    count: 1
`)
	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "step 0 (add)")
	assert.Equal(t, "cannot add to count (kind aggregate)", result.Trace[0].Error)
}

func TestRun_MissingExpectedError(t *testing.T) {
	scenario := parse(t, `
name: missing
description: the add succeeds although an error was expected
`+notesConfig+`
steps:
  - add: {resource: notes, data: {text: x}}
    expect_error: true
assertions:
  - type: data
    resource: count
    expect: {n: 1}
`)
	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	assert.Equal(t, []string{"step 0 (add): expected an error"}, result.Errors)
	assert.Equal(t, "doc-0001", result.Trace[0].Result)
}

func TestRun_FailedAssertion(t *testing.T) {
	scenario := parse(t, `
name: failing
description: the final count is wrong
`+notesConfig+`
steps:
  - write: {path: notes/a, fields: {text: a}}
  - write: {path: notes/b, fields: {text: b}}
assertions:
  - type: data
    resource: count
    expect: {n: 3}
  - type: trace_order
    ops: [write, remove]
`)
	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], `Actual: count = {"n":2}`)
	assert.Contains(t, result.Errors[1], "missing remove after [write]")
	assert.Equal(t, map[string]any{"n": int64(2)}, result.Final["count"])
}

func TestRun_ReleaseUnobserved(t *testing.T) {
	scenario := parse(t, `
name: release
description: releasing a resource that is not observed fails
`+notesConfig+`
steps:
  - release: notes
    expect_error: true
assertions:
  - type: trace_contains
    op: release
`)
	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, "notes is not observed", result.Trace[0].Error)
}

func TestRun_RequiresConfig(t *testing.T) {
	_, err := Run(context.Background(), &Scenario{Name: "bare"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no configuration")
}

func TestLoadScenario_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "conf"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "conf", "app.yaml"), []byte(`
resources:
  notes:
    kind: collection
    path: notes
  count:
    kind: aggregate
    path: notes
    aggregate:
      n: {op: count}
`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "s.yaml"), []byte(`
name: external
description: the configuration lives next to the scenario
config_file: conf/app.yaml
steps:
  - refetch: count
assertions:
  - type: data
    resource: count
    expect: {n: 0}
`), 0o644))

	scenario, err := LoadScenario(filepath.Join(dir, "s.yaml"))
	require.NoError(t, err)
	require.NotNil(t, scenario.Config)
	assert.Contains(t, scenario.Config.Resources, "notes")

	result, err := Run(context.Background(), scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestMarshalTrace(t *testing.T) {
	result := NewResult()
	result.AddTrace(TraceEvent{Op: OpAdd, Resource: "notes", Result: "doc-0001"})
	result.Final["notes"] = []any{map[string]any{"text": "x", "id": "doc-0001"}}

	data, err := MarshalTrace("tiny", result)
	require.NoError(t, err)
	assert.Equal(t, `{
  "final": {
    "notes": [
      {
        "id": "doc-0001",
        "text": "x"
      }
    ]
  },
  "scenario_name": "tiny",
  "trace": [
    {
      "op": "add",
      "resource": "notes",
      "result": "doc-0001",
      "seq": 1
    }
  ]
}
`, string(data))
}
