// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

package pattern

import (
	"fmt"
	"strings"
)

// ParseError is returned by [Parse] for a malformed pattern.
type ParseError struct {
	// Pos is the byte offset of the error in the pattern string.
	Pos int `json:"pos"`
	// Expected lists the tokens that would have been valid at Pos, may be empty.
	Expected []string `json:"expected,omitempty"`
	// Found is the text found at Pos, empty at end of input.
	Found string `json:"found,omitempty"`
	// Msg describes the problem when it is not just an unexpected token.
	Msg string `json:"msg,omitempty"`
}

func (e *ParseError) Error() string {
	b := &strings.Builder{}
	fmt.Fprintf(b, "pattern error at position %v", e.Pos)
	if e.Msg != "" {
		fmt.Fprintf(b, ": %v", e.Msg)
	}
	if len(e.Expected) > 0 {
		fmt.Fprintf(b, ": expected %v", strings.Join(e.Expected, " or "))
	}
	if e.Found != "" {
		fmt.Fprintf(b, ", found %q", e.Found)
	} else if len(e.Expected) > 0 {
		b.WriteString(", found end of pattern")
	}
	return b.String()
}
