// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

// package must contains functions to handle errors via panic, for use in command implementations.
package must

import (
	"fmt"
)

// Must panics if err != nil.
// If format is provided, panic contains fmt.Errorf(format...) with err appended, else it contains err.
func Must(err error, format ...any) {
	if err == nil {
		return
	}
	if len(format) > 0 {
		err = fmt.Errorf("%v: %w", fmt.Sprintf(format[0].(string), format[1:]...), err)
	}
	panic(err)
}

// Must1 calls Must(err), then returns v.
func Must1[T any](v T, err error) T { Must(err); return v }

// Must2 calls Must(err), then returns (v1, v2).
func Must2[T1, T2 any](v1 T1, v2 T2, err error) (T1, T2) { Must(err); return v1, v2 }

// Recover an error panic into *err. Other panics are re-raised.
// Use as: defer must.Recover(&err)
func Recover(err *error) {
	if r := recover(); r != nil {
		e, ok := r.(error)
		if !ok {
			panic(r)
		}
		*err = e
	}
}
