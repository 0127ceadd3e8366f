package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/livestate/internal/config"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid     bool              `json:"valid"`
	Resources []ResourceSummary `json:"resources,omitempty"`
	Errors    []ValidationIssue `json:"errors,omitempty"`
}

// ResourceSummary describes one configured resource.
type ResourceSummary struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Path   string `json:"path"`
	Listen bool   `json:"listen"`
	Schema bool   `json:"schema"`
}

// ValidationIssue is one invalid configuration value.
type ValidationIssue struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [config-file]",
		Short: "Validate a configuration without opening its stores",
		Long: `Validate a livestate configuration and compile its schemas.

Reports every invalid field at once. The stores are not contacted.

Exit codes:
  0 - Configuration is valid
  1 - Configuration is invalid
  2 - Command error (file not found, etc.)`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rootOpts.Config
			if len(args) == 1 {
				path = args[0]
			}
			return runValidate(rootOpts, path, cmd)
		},
	}

	return cmd
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	if _, err := os.Stat(path); err != nil {
		_ = formatter.Error("E_LOAD", fmt.Sprintf("configuration not found: %s", path), nil)
		return WrapExitError(ExitCommandError, "configuration not found", err)
	}

	cfg, err := config.Load(path)
	if err == nil {
		_, err = cfg.CompileSchemas()
	}
	if err != nil {
		issues := validationIssues(err)
		if err := outputValidationErrors(formatter, issues); err != nil {
			return err
		}
		return NewExitError(ExitFailure, fmt.Sprintf("%d configuration error(s)", len(issues)))
	}

	formatter.VerboseLog("Loaded %d resource(s) from %s", len(cfg.Resources), path)
	result := ValidationResult{Valid: true}
	for _, name := range cfg.ResourceNames() {
		rc := cfg.Resources[name]
		p := rc.Path
		if p == "" {
			p = rc.Collection
		}
		result.Resources = append(result.Resources, ResourceSummary{
			Name:   name,
			Kind:   string(rc.Kind),
			Path:   p,
			Listen: rc.Listen,
			Schema: rc.Schema != "" || rc.SchemaFile != "",
		})
	}
	return outputValidateSuccess(formatter, result)
}

// validationIssues flattens joined validation errors. Other errors
// become a single issue.
func validationIssues(err error) []ValidationIssue {
	if !config.IsValidationError(err) {
		return []ValidationIssue{{Field: "config", Message: err.Error()}}
	}
	var issues []ValidationIssue
	var walk func(error)
	walk = func(err error) {
		switch e := err.(type) {
		case *config.ValidationError:
			issues = append(issues, ValidationIssue{Field: e.Field, Message: e.Message})
		case interface{ Unwrap() []error }:
			for _, inner := range e.Unwrap() {
				walk(inner)
			}
		default:
			if inner := errors.Unwrap(err); inner != nil {
				walk(inner)
			}
		}
	}
	walk(err)
	return issues
}

func outputValidationErrors(f *OutputFormatter, issues []ValidationIssue) error {
	if f.Format == "json" {
		return f.Error("E_INVALID", fmt.Sprintf("%d configuration error(s)", len(issues)),
			ValidationResult{Valid: false, Errors: issues})
	}
	var b strings.Builder
	fmt.Fprintf(&b, "✗ Invalid configuration (%d error(s))\n", len(issues))
	for _, is := range issues {
		fmt.Fprintf(&b, "  %s: %s\n", is.Field, is.Message)
	}
	_, err := fmt.Fprint(f.Writer, b.String())
	return err
}

func outputValidateSuccess(f *OutputFormatter, result ValidationResult) error {
	switch f.Format {
	case "json":
		return f.Success(result)
	case "table":
		rows := make([]any, len(result.Resources))
		for i, r := range result.Resources {
			rows[i] = map[string]any{
				"name": r.Name, "kind": r.Kind, "path": r.Path,
				"listen": r.Listen, "schema": r.Schema,
			}
		}
		return f.Data("resources", rows)
	}
	_, err := fmt.Fprintf(f.Writer, "✓ Configuration valid (%d resource(s))\n", len(result.Resources))
	return err
}
