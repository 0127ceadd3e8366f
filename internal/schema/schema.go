// Package schema validates records against CUE schemas before they are
// written to a store.
//
// A schema is a CUE struct expression:
//
//	title: string & !=""
//	done:  bool
//	rank?: int & >=0
//
// Records must unify with it and be concrete. Fields the schema does not
// mention are allowed unless the schema is closed (close({...}) or a
// definition).
package schema

import (
	"fmt"
	"strings"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
)

// Schema is a compiled CUE schema.
//
// Thread-safety: Validate is safe for concurrent use; the underlying CUE
// context is guarded by a mutex.
type Schema struct {
	mu     sync.Mutex
	ctx    *cue.Context
	value  cue.Value
	source string
}

// Compile parses src. name is used in error positions.
func Compile(name, src string) (*Schema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename(name))
	if err := v.Err(); err != nil {
		return nil, formatCUEError("schema", err)
	}
	if v.IncompleteKind() != cue.StructKind {
		return nil, &ValidationError{Field: "schema", Message: fmt.Sprintf("%s: schema must be a struct, got %v", name, v.IncompleteKind())}
	}
	return &Schema{ctx: ctx, value: v, source: src}, nil
}

// MustCompile is like Compile but panics on error. For tests and fixed
// schemas.
func MustCompile(name, src string) *Schema {
	s, err := Compile(name, src)
	if err != nil {
		panic(err)
	}
	return s
}

// Source returns the schema text.
func (s *Schema) Source() string {
	return s.source
}

// Validate checks fields (a map[string]any record without its id) against
// the schema. A nil schema accepts everything.
func (s *Schema) Validate(fields map[string]any) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.ctx.Encode(fields)
	if err := rec.Err(); err != nil {
		return formatCUEError("record", err)
	}
	unified := s.value.Unify(rec)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return formatCUEError("record", err)
	}
	return nil
}

// ValidationError describes a record or schema that failed to validate.
type ValidationError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *ValidationError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// IsValidationError reports whether err is or wraps a *ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// formatCUEError converts the first CUE error into a ValidationError naming
// the offending field path.
func formatCUEError(field string, err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &ValidationError{Field: field, Message: err.Error()}
	}

	first := errs[0]
	if path := first.Path(); len(path) > 0 {
		field = strings.Join(path, ".")
	}
	format, args := first.Msg()
	ve := &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
	if positions := errors.Positions(first); len(positions) > 0 {
		ve.Pos = positions[0]
	}
	return ve
}
