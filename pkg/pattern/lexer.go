// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

package pattern

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tEOF tokenKind = iota
	tIllegal
	tWord
	tNumber
	tString
	tTimestamp
	tHex
	tBinary
	tOp
	tLBracket
	tRBracket
	tLParen
	tRParen
	tComma
)

type token struct {
	kind tokenKind
	// text is the decoded content for quoted literals, the raw text otherwise.
	// For tIllegal it is an error message.
	text string
	pos  int
	end  int
}

// raw returns the input text of the token.
func (t token) raw(input string) string {
	if t.kind == tEOF {
		return ""
	}
	return input[t.pos:t.end]
}

// is returns true if t is the (case insensitive) keyword w.
func (t token) is(w string) bool { return t.kind == tWord && strings.EqualFold(t.text, w) }

// lexer is an on-demand scanner with one token of lookahead.
// Object paths are scanned in a separate mode by [lexer.path].
type lexer struct {
	input  string
	pos    int
	peeked *token
}

func (l *lexer) peek() token {
	if l.peeked == nil {
		t := l.scan()
		l.peeked = &t
	}
	return *l.peeked
}

func (l *lexer) next() token {
	t := l.peek()
	l.peeked = nil
	return t
}

func (l *lexer) skipSpace() {
	for l.pos < len(l.input) {
		r, n := utf8.DecodeRuneInString(l.input[l.pos:])
		if !unicode.IsSpace(r) {
			return
		}
		l.pos += n
	}
}

func isWordByte(b byte) bool {
	return b == '_' || b == '-' || ('a' <= b && b <= 'z') || ('A' <= b && b <= 'Z') || ('0' <= b && b <= '9')
}

func isDigit(b byte) bool { return '0' <= b && b <= '9' }

func (l *lexer) scan() token {
	l.skipSpace()
	start := l.pos
	tok := func(k tokenKind, text string) token { return token{kind: k, text: text, pos: start, end: l.pos} }
	if l.pos >= len(l.input) {
		return tok(tEOF, "")
	}
	c := l.input[l.pos]
	switch {
	case c == '[':
		l.pos++
		return tok(tLBracket, "[")
	case c == ']':
		l.pos++
		return tok(tRBracket, "]")
	case c == '(':
		l.pos++
		return tok(tLParen, "(")
	case c == ')':
		l.pos++
		return tok(tRParen, ")")
	case c == ',':
		l.pos++
		return tok(tComma, ",")
	case c == '\'':
		s, err := l.quoted()
		if err != "" {
			return tok(tIllegal, err)
		}
		return tok(tString, s)
	case strings.ContainsRune("=!<>", rune(c)):
		for _, op := range []string{"<=", ">=", "!=", "<>", "=", "<", ">"} {
			if strings.HasPrefix(l.input[l.pos:], op) {
				l.pos += len(op)
				return tok(tOp, op)
			}
		}
		l.pos++
		return tok(tIllegal, fmt.Sprintf("unknown operator %q", c))
	case isDigit(c) || ((c == '-' || c == '+') && l.pos+1 < len(l.input) && isDigit(l.input[l.pos+1])):
		return l.number(start)
	case (c == 't' || c == 'h' || c == 'b') && l.pos+1 < len(l.input) && l.input[l.pos+1] == '\'':
		l.pos++
		s, err := l.quoted()
		if err != "" {
			return tok(tIllegal, err)
		}
		return tok(map[byte]tokenKind{'t': tTimestamp, 'h': tHex, 'b': tBinary}[c], s)
	case isWordByte(c):
		for l.pos < len(l.input) && isWordByte(l.input[l.pos]) {
			l.pos++
		}
		return tok(tWord, l.input[start:l.pos])
	default:
		_, n := utf8.DecodeRuneInString(l.input[l.pos:])
		l.pos += n
		return tok(tIllegal, fmt.Sprintf("unexpected character %q", l.input[start:l.pos]))
	}
}

// quoted scans a single-quoted string at l.pos, returns the unescaped text or an error message.
func (l *lexer) quoted() (string, string) {
	l.pos++ // Opening quote
	b := strings.Builder{}
	for l.pos < len(l.input) {
		c := l.input[l.pos]
		switch c {
		case '\'':
			l.pos++
			return b.String(), ""
		case '\\':
			if l.pos+1 >= len(l.input) {
				l.pos++
				return "", "unterminated string"
			}
			next := l.input[l.pos+1]
			if next != '\'' && next != '\\' {
				l.pos += 2
				return "", fmt.Sprintf("invalid escape \\%c", next)
			}
			b.WriteByte(next)
			l.pos += 2
		default:
			b.WriteByte(c)
			l.pos++
		}
	}
	return "", "unterminated string"
}

func (l *lexer) number(start int) token {
	digits := func() (n int) {
		for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
			l.pos++
			n++
		}
		return n
	}
	if c := l.input[l.pos]; c == '-' || c == '+' {
		l.pos++
	}
	digits()
	if l.pos < len(l.input) && l.input[l.pos] == '.' {
		l.pos++
		if digits() == 0 {
			return token{kind: tIllegal, text: "malformed number", pos: start, end: l.pos}
		}
	}
	if l.pos < len(l.input) && (l.input[l.pos] == 'e' || l.input[l.pos] == 'E') {
		l.pos++
		if l.pos < len(l.input) && (l.input[l.pos] == '-' || l.input[l.pos] == '+') {
			l.pos++
		}
		if digits() == 0 {
			return token{kind: tIllegal, text: "malformed number", pos: start, end: l.pos}
		}
	}
	// A number must not run into a word: 12abc is malformed.
	if l.pos < len(l.input) && isWordByte(l.input[l.pos]) {
		for l.pos < len(l.input) && isWordByte(l.input[l.pos]) {
			l.pos++
		}
		return token{kind: tIllegal, text: "malformed number", pos: start, end: l.pos}
	}
	return token{kind: tNumber, text: l.input[start:l.pos], pos: start, end: l.pos}
}

// path scans an object path, discarding any peeked token.
//
//	path     = type ":" property { "." property | "[" index "]" }
//	property = word | quoted
//	index    = digits | "*"
func (l *lexer) path() (Path, *ParseError) {
	if l.peeked != nil {
		l.pos = l.peeked.pos
		l.peeked = nil
	}
	l.skipSpace()
	start := l.pos
	fail := func(msg string) (Path, *ParseError) {
		found := ""
		if l.pos < len(l.input) {
			found = l.input[l.pos:min(len(l.input), l.pos+10)]
		}
		return "", &ParseError{Pos: l.pos, Expected: []string{"object path"}, Found: found, Msg: msg}
	}
	word := func() bool {
		s := l.pos
		for l.pos < len(l.input) && isWordByte(l.input[l.pos]) {
			l.pos++
		}
		return l.pos > s
	}
	property := func() bool {
		if l.pos < len(l.input) && l.input[l.pos] == '\'' {
			_, err := l.quoted()
			return err == ""
		}
		return word()
	}
	if !word() {
		return fail("")
	}
	if l.pos >= len(l.input) || l.input[l.pos] != ':' {
		return fail("missing ':' after object type")
	}
	l.pos++
	if !property() {
		return fail("missing property name")
	}
	for l.pos < len(l.input) {
		switch l.input[l.pos] {
		case '.':
			l.pos++
			if !property() {
				return fail("missing property name after '.'")
			}
		case '[':
			l.pos++
			if l.pos < len(l.input) && l.input[l.pos] == '*' {
				l.pos++
			} else {
				s := l.pos
				for l.pos < len(l.input) && isDigit(l.input[l.pos]) {
					l.pos++
				}
				if l.pos == s {
					return fail("invalid list index")
				}
			}
			if l.pos >= len(l.input) || l.input[l.pos] != ']' {
				return fail("unbalanced '[' in object path")
			}
			l.pos++
		default:
			return Path(l.input[start:l.pos]), nil
		}
	}
	return Path(l.input[start:l.pos]), nil
}
