package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"slices"
	"sync"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/roach88/livestate/internal/canonical"
)

// Exit codes for CLI commands.
const (
	ExitSuccess      = 0 // Successful execution
	ExitFailure      = 1 // Scenario or validation failure
	ExitCommandError = 2 // Command error (missing files, unknown resource, unreachable store)
)

// ExitError represents an error with a specific exit code.
type ExitError struct {
	Code    int    // ExitFailure or ExitCommandError
	Message string
	Err     error // optional
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates a new ExitError with the given code and message.
func NewExitError(code int, message string) *ExitError {
	return &ExitError{Code: code, Message: message}
}

// WrapExitError wraps an existing error with an exit code.
func WrapExitError(code int, message string, err error) *ExitError {
	return &ExitError{Code: code, Message: message, Err: err}
}

// GetExitCode extracts the exit code from an error.
// Returns ExitFailure (1) if the error is not an ExitError.
func GetExitCode(err error) int {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

// OutputFormatter renders command results as text, JSON or tables.
type OutputFormatter struct {
	Format    string
	Writer    io.Writer
	ErrWriter io.Writer // diagnostics; defaults to Writer
	Verbose   bool

	mu sync.Mutex // serializes watch updates
}

// CLIResponse is the standard JSON response format for CLI output.
type CLIResponse struct {
	Status   string    `json:"status"` // "ok" or "error"
	Resource string    `json:"resource,omitempty"`
	Data     any       `json:"data,omitempty"`
	Error    *CLIError `json:"error,omitempty"`
}

// CLIError is the error structure for CLI responses.
type CLIError struct {
	Code    string `json:"code"` // "E_LOAD", "E_RESOURCE", ...
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Success outputs a message or small result in the configured format. In
// text, maps print one sorted "key: value" line per entry.
func (f *OutputFormatter) Success(data any) error {
	if f.Format == "json" {
		return f.encode(CLIResponse{Status: "ok", Data: data})
	}
	if m, ok := data.(map[string]any); ok {
		for _, k := range slices.Sorted(maps.Keys(m)) {
			fmt.Fprintf(f.Writer, "%s: %v\n", k, m[k])
		}
		return nil
	}
	fmt.Fprintln(f.Writer, data)
	return nil
}

// Error outputs an error in the configured format.
func (f *OutputFormatter) Error(code, message string, details any) error {
	if f.Format == "json" {
		return f.encode(CLIResponse{
			Status: "error",
			Error:  &CLIError{Code: code, Message: message, Details: details},
		})
	}
	fmt.Fprintf(f.Writer, "Error [%s]: %s\n", code, message)
	if f.Verbose && details != nil {
		fmt.Fprintf(f.Writer, "Details: %v\n", details)
	}
	return nil
}

// Data outputs a resource's value. Text is indented canonical JSON, JSON
// is one response per line and tables have one row per record.
func (f *OutputFormatter) Data(resource string, data any) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch f.Format {
	case "json":
		return f.encode(CLIResponse{Status: "ok", Resource: resource, Data: data})
	case "table":
		f.table(resource, data)
		return nil
	}

	raw, err := canonical.Marshal(data)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return err
	}
	fmt.Fprintf(f.Writer, "%s: %s\n", resource, buf.String())
	return nil
}

// table renders records as rows with one column per field. A single
// object is one row and a scalar a one-cell table.
func (f *OutputFormatter) table(title string, data any) {
	var rows []map[string]any
	switch v := data.(type) {
	case []any:
		for _, e := range v {
			if m, ok := e.(map[string]any); ok {
				rows = append(rows, m)
			} else {
				rows = append(rows, map[string]any{"value": e})
			}
		}
	case map[string]any:
		rows = []map[string]any{v}
	case nil:
	default:
		rows = []map[string]any{{"value": v}}
	}

	columns := make(map[string]bool)
	for _, r := range rows {
		for k := range r {
			columns[k] = true
		}
	}
	header := slices.Sorted(maps.Keys(columns))
	// id and key lead.
	for _, lead := range []string{"key", "id"} {
		if i := slices.Index(header, lead); i > 0 {
			header = append([]string{lead}, slices.Delete(header, i, i+1)...)
		}
	}

	t := table.NewWriter()
	t.SetOutputMirror(f.Writer)
	t.SetTitle(title)
	t.Style().Format.Header = text.FormatDefault

	hr := make(table.Row, len(header))
	for i, h := range header {
		hr[i] = h
	}
	t.AppendHeader(hr)
	for _, r := range rows {
		row := make(table.Row, len(header))
		for i, h := range header {
			row[i] = cell(r[h])
		}
		t.AppendRow(row)
	}
	t.Render()
}

// cell renders nested values as compact JSON; go-pretty prints scalars.
func cell(v any) any {
	switch v.(type) {
	case nil:
		return ""
	case map[string]any, []any:
		raw, err := canonical.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(raw)
	}
	return v
}

func (f *OutputFormatter) encode(resp CLIResponse) error {
	enc := json.NewEncoder(f.Writer)
	enc.SetEscapeHTML(false)
	return enc.Encode(resp)
}

// VerboseLog outputs a message only if verbose mode is enabled.
// Uses ErrWriter if set, otherwise falls back to Writer.
func (f *OutputFormatter) VerboseLog(format string, args ...any) {
	if !f.Verbose {
		return
	}
	fmt.Fprintf(f.GetErrWriter(), format+"\n", args...)
}

// GetErrWriter returns the appropriate writer for diagnostic output.
func (f *OutputFormatter) GetErrWriter() io.Writer {
	if f.ErrWriter != nil {
		return f.ErrWriter
	}
	return f.Writer
}
