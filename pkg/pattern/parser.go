// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

package pattern

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/korrel8r/shifter/pkg/ptr"
)

// Parse a STIX pattern.
//
// Observation expressions bind FOLLOWEDBY loosest, then OR, then AND.
// Comparison expressions inside brackets bind OR looser than AND.
// Returns a [*ParseError] if the pattern is malformed.
func Parse(s string) (*Pattern, error) {
	p := &parser{lexer: lexer{input: s}}
	root, err := p.observations()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tEOF {
		return nil, p.unexpected(t, "AND", "OR", "FOLLOWEDBY", "qualifier")
	}
	return &Pattern{Text: s, Root: root}, nil
}

type parser struct{ lexer }

var qualifierKeywords = []string{"START", "STOP", "WITHIN", "REPEATS"}

func isQualifier(t token) bool {
	for _, k := range qualifierKeywords {
		if t.is(k) {
			return true
		}
	}
	return false
}

func (p *parser) unexpected(t token, expected ...string) *ParseError {
	if t.kind == tIllegal {
		return &ParseError{Pos: t.pos, Found: t.raw(p.input), Msg: t.text}
	}
	return &ParseError{Pos: t.pos, Expected: expected, Found: t.raw(p.input)}
}

func (p *parser) expectWord(w string) error {
	if t := p.next(); !t.is(w) {
		return p.unexpected(t, w)
	}
	return nil
}

// combine builds a combination, flattening children that are unqualified combinations
// of the same operator at the same level.
func combine(op BoolOp, observation bool, nodes []Node) Node {
	if len(nodes) == 1 {
		return nodes[0]
	}
	c := &Combination{Op: op, Observation: observation}
	for _, n := range nodes {
		if sub, ok := n.(*Combination); ok && sub.Op == op && sub.Observation == observation && sub.Qualifier == nil {
			c.Children = append(c.Children, sub.Children...)
		} else {
			c.Children = append(c.Children, n)
		}
	}
	return c
}

// binary parses `operand { op operand }` and combines the results.
func (p *parser) binary(op BoolOp, observation bool, operand func() (Node, error)) (Node, error) {
	var nodes []Node
	for {
		n, err := operand()
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, n)
		if !p.peek().is(op.String()) {
			return combine(op, observation, nodes), nil
		}
		p.next()
	}
}

func (p *parser) observations() (Node, error) {
	return p.binary(FOLLOWEDBY, true, func() (Node, error) {
		return p.binary(OR, true, func() (Node, error) {
			return p.binary(AND, true, p.qualified)
		})
	})
}

// qualified parses an observation expression followed by optional qualifiers.
func (p *parser) qualified() (Node, error) {
	n, err := p.observation()
	if err != nil {
		return nil, err
	}
	if !isQualifier(p.peek()) {
		return n, nil
	}
	q := &Qualifier{}
	if c, ok := n.(*Combination); ok && c.Observation && c.Qualifier == nil {
		c.Qualifier = q
	} else {
		n = &Combination{Op: AND, Observation: true, Children: []Node{n}, Qualifier: q}
	}
	for isQualifier(p.peek()) {
		if err := p.qualifier(q); err != nil {
			return nil, err
		}
	}
	return n, nil
}

func (p *parser) observation() (Node, error) {
	t := p.next()
	switch {
	case t.kind == tLBracket:
		n, err := p.comparisons()
		if err != nil {
			return nil, err
		}
		if t := p.next(); t.kind != tRBracket {
			if isQualifier(t) {
				return nil, &ParseError{Pos: t.pos, Found: t.raw(p.input), Msg: "qualifier inside observation expression"}
			}
			return nil, p.unexpected(t, "]", "AND", "OR")
		}
		return n, nil
	case t.kind == tLParen:
		n, err := p.observations()
		if err != nil {
			return nil, err
		}
		if t := p.next(); t.kind != tRParen {
			return nil, p.unexpected(t, ")")
		}
		return n, nil
	case isQualifier(t):
		return nil, &ParseError{Pos: t.pos, Found: t.raw(p.input), Msg: "dangling qualifier"}
	default:
		return nil, p.unexpected(t, "[", "(")
	}
}

func (p *parser) qualifier(q *Qualifier) error {
	t := p.next()
	switch {
	case t.is("START"):
		if q.Start != nil {
			return &ParseError{Pos: t.pos, Found: t.raw(p.input), Msg: "duplicate START qualifier"}
		}
		start, err := p.timestamp()
		if err != nil {
			return err
		}
		if t := p.peek(); !t.is("STOP") {
			return &ParseError{Pos: t.pos, Expected: []string{"STOP"}, Found: t.raw(p.input), Msg: "START without STOP"}
		}
		p.next()
		stop, err := p.timestamp()
		if err != nil {
			return err
		}
		if start.After(stop) {
			return &ParseError{Pos: t.pos, Msg: fmt.Sprintf("START %v is after STOP %v", start.Format(time.RFC3339), stop.Format(time.RFC3339))}
		}
		q.Start, q.Stop = ptr.To(start), ptr.To(stop)
	case t.is("STOP"):
		return &ParseError{Pos: t.pos, Found: t.raw(p.input), Msg: "STOP without START"}
	case t.is("WITHIN"):
		if q.Within != nil {
			return &ParseError{Pos: t.pos, Found: t.raw(p.input), Msg: "duplicate WITHIN qualifier"}
		}
		n := p.next()
		f, err := strconv.ParseFloat(n.text, 64)
		if n.kind != tNumber || err != nil || f <= 0 {
			return &ParseError{Pos: n.pos, Expected: []string{"positive number"}, Found: n.raw(p.input)}
		}
		if err := p.expectWord("SECONDS"); err != nil {
			return err
		}
		q.Within = ptr.To(time.Duration(f * float64(time.Second)))
	case t.is("REPEATS"):
		if q.Repeats != nil {
			return &ParseError{Pos: t.pos, Found: t.raw(p.input), Msg: "duplicate REPEATS qualifier"}
		}
		n := p.next()
		i, err := strconv.Atoi(n.text)
		if n.kind != tNumber || err != nil || i <= 0 {
			return &ParseError{Pos: n.pos, Expected: []string{"positive integer"}, Found: n.raw(p.input)}
		}
		if err := p.expectWord("TIMES"); err != nil {
			return err
		}
		q.Repeats = ptr.To(i)
	default:
		return p.unexpected(t, qualifierKeywords...)
	}
	return nil
}

func (p *parser) timestamp() (time.Time, error) {
	t := p.next()
	if t.kind != tTimestamp {
		return time.Time{}, p.unexpected(t, "timestamp")
	}
	ts, err := time.Parse(time.RFC3339Nano, t.text)
	if err != nil {
		return time.Time{}, &ParseError{Pos: t.pos, Found: t.raw(p.input), Msg: "malformed timestamp"}
	}
	return ts, nil
}

func (p *parser) comparisons() (Node, error) {
	return p.binary(OR, false, func() (Node, error) {
		return p.binary(AND, false, p.comparisonGroup)
	})
}

func (p *parser) comparisonGroup() (Node, error) {
	if p.peek().kind != tLParen {
		return p.comparison()
	}
	p.next()
	n, err := p.comparisons()
	if err != nil {
		return nil, err
	}
	if t := p.next(); t.kind != tRParen {
		return nil, p.unexpected(t, ")", "AND", "OR")
	}
	return n, nil
}

var wordOperators = []Operator{IN, LIKE, MATCHES, ISSUBSET, ISSUPERSET}

func (p *parser) comparison() (Node, error) {
	path, perr := p.path()
	if perr != nil {
		return nil, perr
	}
	c := &Comparison{Path: path}
	if p.peek().is("NOT") {
		p.next()
		c.Negated = true
	}
	t := p.next()
	op, ok := Operator(0), false
	switch t.kind {
	case tOp:
		op, ok = ParseOperator(t.text)
	case tWord:
		for _, o := range wordOperators {
			if t.is(o.String()) {
				op, ok = o, true
			}
		}
	}
	if !ok {
		expected := make([]string, len(Operators))
		for i, o := range Operators {
			expected[i] = o.String()
		}
		return nil, p.unexpected(t, expected...)
	}
	c.Op = op
	var err error
	if op == IN {
		c.Value, err = p.list()
	} else {
		c.Value, err = p.literal()
	}
	if err != nil {
		return nil, err
	}
	switch op {
	case LIKE, MATCHES, ISSUBSET, ISSUPERSET:
		if c.Value.Type != String {
			return nil, &ParseError{Pos: t.pos, Msg: fmt.Sprintf("%v requires a string, found %v", op, c.Value.Type)}
		}
	}
	return c, nil
}

func (p *parser) list() (Value, error) {
	open := p.next()
	var closing tokenKind
	switch open.kind {
	case tLParen:
		closing = tRParen
	case tLBracket:
		closing = tRBracket
	default:
		return Value{}, p.unexpected(open, "(", "[")
	}
	v := Value{Type: List}
	for {
		e, err := p.literal()
		if err != nil {
			return Value{}, err
		}
		v.List = append(v.List, e)
		switch t := p.next(); t.kind {
		case tComma:
		case closing:
			return v, nil
		default:
			return Value{}, p.unexpected(t, ",", map[tokenKind]string{tRParen: ")", tRBracket: "]"}[closing])
		}
	}
}

func (p *parser) literal() (Value, error) {
	t := p.next()
	malformed := func(what string) (Value, error) {
		return Value{}, &ParseError{Pos: t.pos, Found: t.raw(p.input), Msg: "malformed " + what}
	}
	switch t.kind {
	case tString:
		return Value{Type: String, Text: t.text}, nil
	case tNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil || math.IsInf(f, 0) {
			return malformed("number")
		}
		return Value{Type: Number, Text: t.text, Number: f}, nil
	case tTimestamp:
		ts, err := time.Parse(time.RFC3339Nano, t.text)
		if err != nil {
			return malformed("timestamp")
		}
		return Value{Type: Timestamp, Text: t.text, Time: ts}, nil
	case tHex:
		if _, err := hex.DecodeString(t.text); err != nil {
			return malformed("hex literal")
		}
		return Value{Type: String, Format: Hex, Text: strings.ToLower(t.text)}, nil
	case tBinary:
		if _, err := base64.StdEncoding.DecodeString(t.text); err != nil {
			return malformed("binary literal")
		}
		return Value{Type: String, Format: Binary, Text: t.text}, nil
	case tWord:
		switch {
		case t.is("true"):
			return Value{Type: Boolean, Bool: true}, nil
		case t.is("false"):
			return Value{Type: Boolean, Bool: false}, nil
		}
	}
	return Value{}, p.unexpected(t, "literal")
}
