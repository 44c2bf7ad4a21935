// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

// Package enumflag is custom flag value that allows one of a list of strings.
// Implements standard flag.Value and cobra pflag.Value
package enumflag

import (
	"fmt"
	"slices"
	"strings"
)

// Value is a flag holding one of the Allowed values of a string type.
type Value[T ~string] struct {
	Value   T
	Allowed []T
}

func (v *Value[T]) String() string { return string(v.Value) }

func (v *Value[T]) Set(x string) error {
	if !slices.Contains(v.Allowed, T(x)) {
		return fmt.Errorf("expected one of: %v", v.Allowed)
	}
	v.Value = T(x)
	return nil
}

// DocString returns msg followed by the allowed values, for flag usage.
func (v *Value[T]) DocString(msg string) string {
	w := &strings.Builder{}
	if msg != "" {
		fmt.Fprintf(w, "%v: ", msg)
	}
	fmt.Fprintf(w, "one of %v", v.Allowed)
	return w.String()
}

func (v *Value[T]) Type() string { return "string" }

func New[T ~string](value T, allowed ...T) *Value[T] {
	allowed = slices.Clone(allowed)
	slices.Sort(allowed)
	return &Value[T]{Allowed: allowed, Value: value}
}
