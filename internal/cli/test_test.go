package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	harnessScenarios = filepath.Join("..", "harness", "testdata", "scenarios")
	harnessGolden    = filepath.Join("..", "harness", "testdata", "golden")
)

const failingScenario = `
name: failing
description: the expected count is wrong
config:
  resources:
    notes: {kind: collection, path: notes}
steps:
  - write: {path: notes/a, fields: {text: a}}
assertions:
  - type: data
    resource: notes
    expect: []
`

func TestTest_HarnessScenarios(t *testing.T) {
	out, err := execute(t, "test", harnessScenarios, "--golden", harnessGolden)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ optimistic_add")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestTest_Filter(t *testing.T) {
	out, err := execute(t, "test", harnessScenarios, "--golden", harnessGolden, "--filter", "presence*", "--format", "json")
	require.NoError(t, err)

	var resp struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, TestResult{
		Scenarios: []ScenarioResult{{Name: "presence_and_chat", Pass: true}},
		Passed:    1,
		Total:     1,
	}, resp.Data)
}

func TestTest_Failure(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "failing.yaml"), []byte(failingScenario), 0o644))

	out, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ failing")
	assert.Contains(t, out, "Test Summary: 0 passed, 1 failed, 1 total")
}

func TestTest_UpdateWritesGolden(t *testing.T) {
	dir := t.TempDir()
	src, err := os.ReadFile(filepath.Join(harnessScenarios, "document_query_first.yaml"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "doc.yaml"), src, 0o644))

	out, err := execute(t, "test", dir, "--update")
	require.NoError(t, err, out)
	assert.Contains(t, out, "golden updated")

	got, err := os.ReadFile(filepath.Join(dir, "golden", "document_query_first.golden"))
	require.NoError(t, err)
	want, err := os.ReadFile(filepath.Join(harnessGolden, "document_query_first.golden"))
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))

	// The written golden file now matches.
	out, err = execute(t, "test", filepath.Join(dir, "doc.yaml"))
	require.NoError(t, err, out)
}

func TestTest_GoldenMismatch(t *testing.T) {
	dir := t.TempDir()
	src, err := os.ReadFile(filepath.Join(harnessScenarios, "optimistic_add.yaml"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "add.yaml"), src, 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "golden"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "optimistic_add.golden"), []byte("{}\n"), 0o644))

	out, err := execute(t, "test", dir)
	require.Error(t, err)
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTest_MissingPath(t *testing.T) {
	_, err := execute(t, "test", filepath.Join(t.TempDir(), "none"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTest_NoScenarios(t *testing.T) {
	out, err := execute(t, "test", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "No scenarios found.\n", out)
}
