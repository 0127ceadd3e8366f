package cli

import (
	"bufio"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_Text(t *testing.T) {
	out, err := execute(t, "get", "todos", "--config", testConfig)
	require.NoError(t, err)
	assert.Equal(t, `todos: [
  {
    "id": "t2",
    "rank": 1,
    "title": "review"
  },
  {
    "id": "t1",
    "rank": 2,
    "title": "write docs"
  }
]
`, out)
}

func TestGet_SeveralJSON(t *testing.T) {
	out, err := execute(t, "get", "profile", "presence", "chat", "--config", testConfig, "--format", "json")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &resp))
	assert.Equal(t, "profile", resp.Resource)
	assert.Equal(t, map[string]any{"id": "u1", "name": "Ada"}, resp.Data)

	resp = CLIResponse{}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &resp))
	assert.Equal(t, map[string]any{"online": true}, resp.Data)

	resp = CLIResponse{}
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &resp))
	assert.Equal(t, "chat", resp.Resource)
	assert.Equal(t, []any{}, resp.Data)
}

func TestGet_Table(t *testing.T) {
	out, err := execute(t, "get", "todos", "--config", testConfig, "--format", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "write docs")
	assert.Contains(t, out, "review")
	assert.Contains(t, out, "rank")
}

func TestGet_UnknownResource(t *testing.T) {
	_, err := execute(t, "get", "nope", "--config", testConfig)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `unknown resource "nope"`)
}

func TestAdd(t *testing.T) {
	out, err := execute(t, "add", "todos", "--data", `{"title": "ship", "rank": 3}`, "--config", testConfig, "--format", "json")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, data["id"])
}

func TestAdd_WrongKind(t *testing.T) {
	_, err := execute(t, "add", "profile", "--data", `{}`, "--config", testConfig)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "cannot add to profile (kind document)")
}

func TestAdd_InvalidJSON(t *testing.T) {
	_, err := execute(t, "add", "todos", "--data", `{title}`, "--config", testConfig)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "--data is not valid JSON")
}

func TestDelete(t *testing.T) {
	out, err := execute(t, "delete", "todos", "t1", "--config", testConfig)
	require.NoError(t, err)
	assert.Equal(t, "deleted: t1\n", out)
}

func TestSave_Document(t *testing.T) {
	out, err := execute(t, "save", "profile", "--field", "name", "--value", `"Grace"`, "--config", testConfig)
	require.NoError(t, err)
	assert.Equal(t, "profile: {\n  \"id\": \"u1\",\n  \"name\": \"Grace\"\n}\n", out)
}

func TestSave_SchemaRejects(t *testing.T) {
	_, err := execute(t, "save", "profile", "--field", "name", "--value", `42`, "--config", testConfig)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, err.Error(), "save failed")
}

func TestSave_Node(t *testing.T) {
	out, err := execute(t, "save", "presence", "--field", "status", "--value", `"away"`, "--config", testConfig)
	require.NoError(t, err)
	assert.Equal(t, "presence: {\n  \"online\": true,\n  \"status\": \"away\"\n}\n", out)
}

func TestSave_RequiresField(t *testing.T) {
	_, err := execute(t, "save", "profile", "--config", testConfig)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestPush(t *testing.T) {
	out, err := execute(t, "push", "chat", "--value", `{"text": "hi"}`, "--config", testConfig, "--format", "json")
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.NotEmpty(t, data["key"])
}

func TestWatch_PrintsUntilDeadline(t *testing.T) {
	out, err := execute(t, "watch", "presence", "todos", "--for", "200ms", "--config", testConfig, "--format", "json")
	require.NoError(t, err)

	seen := make(map[string]bool)
	sc := bufio.NewScanner(strings.NewReader(out))
	for sc.Scan() {
		var resp CLIResponse
		require.NoError(t, json.Unmarshal(sc.Bytes(), &resp))
		seen[resp.Resource] = true
	}
	assert.True(t, seen["presence"])
	assert.True(t, seen["todos"])
}
