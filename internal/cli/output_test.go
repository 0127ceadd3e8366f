package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Success(map[string]string{"id": "t1"}))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, map[string]any{"id": "t1"}, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Error("E_LOAD", "configuration not found", nil))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "E_LOAD", resp.Error.Code)
	assert.Equal(t, "configuration not found", resp.Error.Message)
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf, Verbose: true}

	require.NoError(t, formatter.Error("E_LOAD", "bad file", "line 3"))
	assert.Equal(t, "Error [E_LOAD]: bad file\nDetails: line 3\n", buf.String())
}

func TestOutputFormatter_DataText(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Data("profile", map[string]any{"name": "Ada", "id": "u1", "age": 36.0}))
	assert.Equal(t, "profile: {\n  \"age\": 36,\n  \"id\": \"u1\",\n  \"name\": \"Ada\"\n}\n", buf.String())
}

func TestOutputFormatter_DataJSON(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	require.NoError(t, formatter.Data("profile", nil))
	assert.Equal(t, `{"status":"ok","resource":"profile"}`+"\n", buf.String())
}

func TestOutputFormatter_DataTable(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "table", Writer: buf}

	require.NoError(t, formatter.Data("todos", []any{
		map[string]any{"title": "review", "id": "t2", "tags": []any{"a"}},
		map[string]any{"title": "write docs", "id": "t1", "done": true},
	}))

	out := buf.String()
	assert.Contains(t, out, "todos")
	for _, s := range []string{"id", "done", "tags", "title", "t2", "review", `["a"]`, "write docs", "true"} {
		assert.Contains(t, out, s)
	}
	// id leads.
	assert.Less(t, bytes.Index(buf.Bytes(), []byte("id")), bytes.Index(buf.Bytes(), []byte("done")))
}

func TestGetExitCode(t *testing.T) {
	assert.Equal(t, ExitCommandError, GetExitCode(NewExitError(ExitCommandError, "x")))
	assert.Equal(t, ExitFailure, GetExitCode(fmt.Errorf("wrapped: %w", WrapExitError(ExitFailure, "y", errors.New("z")))))
	assert.Equal(t, ExitFailure, GetExitCode(errors.New("plain")))
}

func TestExitError_Error(t *testing.T) {
	assert.Equal(t, "x", NewExitError(ExitFailure, "x").Error())
	inner := errors.New("z")
	err := WrapExitError(ExitFailure, "y", inner)
	assert.Equal(t, "y: z", err.Error())
	assert.ErrorIs(t, err, inner)
}
