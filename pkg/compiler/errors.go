// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

package compiler

import (
	"fmt"

	"github.com/korrel8r/shifter/pkg/pattern"
)

// ErrorKind classifies compile errors.
type ErrorKind string

const (
	// UnmappedField: a pattern path has no entry in the mapping table.
	UnmappedField ErrorKind = "unmapped_field"
	// UnsupportedOperator: the dialect has no equivalent for an operator.
	UnsupportedOperator ErrorKind = "unsupported_operator"
	// UnsupportedQualifier: the dialect cannot express a qualifier.
	UnsupportedQualifier ErrorKind = "unsupported_qualifier"
	// InvalidValue: a literal cannot be converted to the native representation.
	InvalidValue ErrorKind = "invalid_value"
	// InvalidQuery: the rendered query was rejected by the dialect validator.
	InvalidQuery ErrorKind = "invalid_query"
)

// CompileError is returned when a pattern cannot be compiled.
type CompileError struct {
	Kind ErrorKind    `json:"kind"`
	Path pattern.Path `json:"path,omitempty"`
	Msg  string       `json:"msg,omitempty"`
}

func (e *CompileError) Error() string {
	s := string(e.Kind)
	if e.Path != "" {
		s = fmt.Sprintf("%v: %v", s, e.Path)
	}
	if e.Msg != "" {
		s = fmt.Sprintf("%v: %v", s, e.Msg)
	}
	return s
}

// Is matches a *CompileError with the same Kind, so errors.Is(err, &CompileError{Kind: UnmappedField}) works.
func (e *CompileError) Is(target error) bool {
	t, ok := target.(*CompileError)
	return ok && t.Kind == e.Kind && (t.Path == "" || t.Path == e.Path)
}
