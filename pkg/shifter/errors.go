// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

package shifter

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/korrel8r/shifter/pkg/compiler"
	"github.com/korrel8r/shifter/pkg/pattern"
)

// ErrorKind classifies errors reported in an [Envelope].
type ErrorKind string

// Connector failures.
const (
	Unknown           ErrorKind = "unknown"
	Network           ErrorKind = "network"
	Auth              ErrorKind = "authentication"
	MalformedResponse ErrorKind = "malformed_response"
	NotFound          ErrorKind = "not_found"
	InvalidQuery      ErrorKind = "invalid_query"
	InvalidParameter  ErrorKind = "invalid_parameter"
	Timeout           ErrorKind = "timeout"
	Internal          ErrorKind = "internal"
)

// Usage errors.
const (
	PrematureResults       ErrorKind = "premature_results"
	CapabilityNotSupported ErrorKind = "capability_not_supported"
	InvalidState           ErrorKind = "invalid_state"
	UnknownOperation       ErrorKind = "unknown_operation"
	UnknownModule          ErrorKind = "unknown_module"
	InvalidOptions         ErrorKind = "invalid_options"
)

// Translation errors.
const (
	Parse   ErrorKind = "parse"
	Compile ErrorKind = "compile"
)

// Error is a classified error.
type Error struct {
	Kind ErrorKind
	// Code is the native status code if there is one, for example an HTTP status.
	Code int
	Msg  string
	Err  error
}

// Errorf returns a new [*Error].
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap an error with a kind.
func Wrap(kind ErrorKind, err error) *Error { return &Error{Kind: kind, Err: err} }

func (e *Error) Error() string {
	switch {
	case e.Msg != "" && e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Msg, e.Err)
	case e.Msg != "":
		return e.Msg
	case e.Err != nil:
		return e.Err.Error()
	default:
		return string(e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// ModuleNotFoundError is returned when a module name is not registered.
type ModuleNotFoundError struct{ Name string }

func (e ModuleNotFoundError) Error() string { return fmt.Sprintf("module not found: %q", e.Name) }

// OptionsError is returned for an invalid translation option.
type OptionsError struct{ Option, Msg string }

func (e OptionsError) Error() string { return fmt.Sprintf("invalid option %v: %v", e.Option, e.Msg) }

// IsErrorType returns true if err or an error it wraps has type T.
func IsErrorType[T error](err error) bool {
	var target T
	return errors.As(err, &target)
}

// KindOf returns the kind of an error, [Unknown] if it is not classified.
func KindOf(err error) ErrorKind {
	var (
		e   *Error
		ce  *compiler.CompileError
		ne  net.Error
		dns *net.DNSError
		op  *net.OpError
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &e):
		return e.Kind
	case IsErrorType[ModuleNotFoundError](err):
		return UnknownModule
	case IsErrorType[OptionsError](err):
		return InvalidOptions
	case IsErrorType[*pattern.ParseError](err):
		return Parse
	case errors.As(err, &ce):
		return Compile
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout
	case errors.As(err, &dns), errors.As(err, &op):
		return Network
	case errors.As(err, &ne) && ne.Timeout():
		return Timeout
	case errors.As(err, &ne):
		return Network
	default:
		return Unknown
	}
}
