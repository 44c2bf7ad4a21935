// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

// Package pattern parses STIX patterns into an abstract syntax tree.
//
// A pattern is one or more comparisons of the form
//
//	object-type:property.path OPERATOR literal
//
// grouped in observation expressions `[ ... ]` and combined with AND, OR and FOLLOWEDBY.
// Qualifiers (START/STOP, WITHIN, REPEATS) may follow any observation expression.
//
// The AST has only two node types: [Comparison] leaves and [Combination] interior nodes.
// Nodes are immutable once returned by [Parse].
package pattern

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Node is a [*Comparison] or a [*Combination].
type Node interface {
	// String returns a canonical text form of the node.
	String() string
	node()
}

var (
	_ Node = &Comparison{}
	_ Node = &Combination{}
)

// Operator is a comparison operator.
type Operator int

const (
	EQ Operator = iota
	NEQ
	LT
	GT
	LTE
	GTE
	IN
	LIKE
	MATCHES
	ISSUBSET
	ISSUPERSET
)

var operatorNames = [...]string{"=", "!=", "<", ">", "<=", ">=", "IN", "LIKE", "MATCHES", "ISSUBSET", "ISSUPERSET"}

// Operators lists all comparison operators.
var Operators = []Operator{EQ, NEQ, LT, GT, LTE, GTE, IN, LIKE, MATCHES, ISSUBSET, ISSUPERSET}

func (o Operator) String() string {
	if o >= 0 && int(o) < len(operatorNames) {
		return operatorNames[o]
	}
	return fmt.Sprintf("Operator(%d)", int(o))
}

func (o Operator) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// ParseOperator returns the operator for a token, false if there is none.
func ParseOperator(s string) (Operator, bool) {
	for i, name := range operatorNames {
		if name == s {
			return Operator(i), true
		}
	}
	if s == "<>" {
		return NEQ, true
	}
	return 0, false
}

// BoolOp is an operator that combines nodes.
type BoolOp int

const (
	AND BoolOp = iota
	OR
	FOLLOWEDBY
)

func (b BoolOp) String() string {
	switch b {
	case AND:
		return "AND"
	case OR:
		return "OR"
	case FOLLOWEDBY:
		return "FOLLOWEDBY"
	default:
		return fmt.Sprintf("BoolOp(%d)", int(b))
	}
}

func (b BoolOp) MarshalText() ([]byte, error) { return []byte(b.String()), nil }

// ValueType is the type of a literal, decided from its lexical form.
type ValueType int

const (
	String ValueType = iota
	Number
	Boolean
	List
	Timestamp
)

func (t ValueType) String() string {
	switch t {
	case String:
		return "string"
	case Number:
		return "number"
	case Boolean:
		return "boolean"
	case List:
		return "list"
	case Timestamp:
		return "timestamp"
	default:
		return fmt.Sprintf("ValueType(%d)", int(t))
	}
}

func (t ValueType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// Format records the lexical form of a String value.
type Format int

const (
	Plain  Format = iota // 'text'
	Hex                  // h'0a1b'
	Binary               // b'base64=='
)

// Value is a typed literal.
type Value struct {
	Type ValueType `json:"type"`
	// Text is the string value for String, or the literal text for Number and Timestamp.
	Text   string    `json:"text,omitempty"`
	Format Format    `json:"format,omitempty"`
	Number float64   `json:"number,omitempty"`
	Bool   bool      `json:"bool,omitempty"`
	Time   time.Time `json:"time,omitzero"`
	List   []Value   `json:"list,omitempty"`
}

// Integer returns the value as an int64 and true if it is an integral number.
func (v Value) Integer() (int64, bool) {
	if v.Type != Number || strings.ContainsAny(v.Text, ".eE") {
		return 0, false
	}
	n := int64(v.Number)
	return n, float64(n) == v.Number
}

// Any returns the value as a plain Go value: string, int64, float64, bool, time.Time or []any.
func (v Value) Any() any {
	switch v.Type {
	case Number:
		if n, ok := v.Integer(); ok {
			return n
		}
		return v.Number
	case Boolean:
		return v.Bool
	case Timestamp:
		return v.Time
	case List:
		l := make([]any, len(v.List))
		for i, e := range v.List {
			l[i] = e.Any()
		}
		return l
	default:
		return v.Text
	}
}

// String returns the value in STIX literal syntax.
func (v Value) String() string {
	switch v.Type {
	case Number:
		return v.Text
	case Boolean:
		if v.Bool {
			return "true"
		}
		return "false"
	case Timestamp:
		return "t'" + v.Text + "'"
	case List:
		parts := make([]string, len(v.List))
		for i, e := range v.List {
			parts[i] = e.String()
		}
		return "(" + strings.Join(parts, ", ") + ")"
	default:
		prefix := ""
		switch v.Format {
		case Hex:
			prefix = "h"
		case Binary:
			prefix = "b"
		}
		return prefix + Quote(v.Text)
	}
}

// Quote a string as a STIX string literal.
func Quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `'`, `\'`)
	return "'" + r.Replace(s) + "'"
}

// Path is an object path in canonical form: "object-type:property.path".
type Path string

// Object returns the object type part of the path.
func (p Path) Object() string { o, _, _ := strings.Cut(string(p), ":"); return o }

// Property returns the property part of the path.
func (p Path) Property() string { _, prop, _ := strings.Cut(string(p), ":"); return prop }

// Comparison is a leaf node comparing an object path with a literal.
type Comparison struct {
	Path    Path     `json:"path"`
	Op      Operator `json:"op"`
	Negated bool     `json:"negated,omitempty"`
	Value   Value    `json:"value"`
}

func (*Comparison) node() {}

func (c *Comparison) String() string {
	not := ""
	if c.Negated {
		not = "NOT "
	}
	return fmt.Sprintf("%v %v%v %v", c.Path, not, c.Op, c.Value)
}

// Combination joins two or more child nodes with a boolean operator.
//
// Observation is true for a combination of observation expressions (`[a] AND [b]`),
// false for a combination of comparisons inside one observation expression (`[a AND b]`).
// Only observation combinations carry a [Qualifier], and a combination with a single child
// only occurs to carry one.
type Combination struct {
	Op          BoolOp     `json:"op"`
	Observation bool       `json:"observation,omitempty"`
	Children    []Node     `json:"children"`
	Qualifier   *Qualifier `json:"qualifier,omitempty"`
}

func (*Combination) node() {}

func (c *Combination) String() string {
	parts := make([]string, len(c.Children))
	for i, n := range c.Children {
		sub, isCombination := n.(*Combination)
		switch {
		case c.Observation && !isObservation(n):
			parts[i] = "[" + n.String() + "]"
		case isCombination && sub.Qualifier == nil && sub.Op != c.Op && len(sub.Children) > 1:
			parts[i] = "(" + n.String() + ")"
		default:
			parts[i] = n.String()
		}
	}
	s := strings.Join(parts, " "+c.Op.String()+" ")
	if c.Qualifier != nil {
		if len(c.Children) > 1 {
			s = "(" + s + ")"
		}
		s += " " + c.Qualifier.String()
	}
	return s
}

// MarshalJSON includes a node type tag for each child.
func (c *Combination) MarshalJSON() ([]byte, error) {
	type tagged struct {
		Comparison  *Comparison  `json:"comparison,omitempty"`
		Combination *Combination `json:"combination,omitempty"`
	}
	children := make([]tagged, len(c.Children))
	for i, n := range c.Children {
		switch n := n.(type) {
		case *Comparison:
			children[i].Comparison = n
		case *Combination:
			children[i].Combination = n
		}
	}
	return json.Marshal(struct {
		Op          BoolOp     `json:"op"`
		Observation bool       `json:"observation,omitempty"`
		Children    []tagged   `json:"children"`
		Qualifier   *Qualifier `json:"qualifier,omitempty"`
	}{c.Op, c.Observation, children, c.Qualifier})
}

func isObservation(n Node) bool {
	c, ok := n.(*Combination)
	return ok && c.Observation
}

// Qualifier restricts the observations matched by an expression.
// Start and Stop are either both set or both nil, and Start is not after Stop.
type Qualifier struct {
	Start   *time.Time     `json:"start,omitempty"`
	Stop    *time.Time     `json:"stop,omitempty"`
	Within  *time.Duration `json:"within,omitempty"`
	Repeats *int           `json:"repeats,omitempty"`
}

func (q *Qualifier) String() string {
	var parts []string
	if q.Repeats != nil {
		parts = append(parts, fmt.Sprintf("REPEATS %v TIMES", *q.Repeats))
	}
	if q.Within != nil {
		parts = append(parts, fmt.Sprintf("WITHIN %v SECONDS", q.Within.Seconds()))
	}
	if q.Start != nil && q.Stop != nil {
		parts = append(parts, fmt.Sprintf("START t'%v' STOP t'%v'",
			q.Start.UTC().Format(time.RFC3339Nano), q.Stop.UTC().Format(time.RFC3339Nano)))
	}
	return strings.Join(parts, " ")
}

// Pattern is a parsed STIX pattern.
type Pattern struct {
	// Text is the original pattern string.
	Text string `json:"text"`
	// Root of the AST. If the pattern has an outer qualifier, Root is an observation *Combination carrying it.
	Root Node `json:"-"`
}

// String returns the pattern in canonical STIX syntax, which parses to the same tree.
func (p *Pattern) String() string {
	if isObservation(p.Root) {
		return p.Root.String()
	}
	return "[" + p.Root.String() + "]"
}

// MarshalJSON includes the AST.
func (p *Pattern) MarshalJSON() ([]byte, error) {
	root := &Combination{Op: AND, Children: []Node{p.Root}}
	if c, ok := p.Root.(*Combination); ok {
		root = c
	}
	return json.Marshal(struct {
		Text string       `json:"text"`
		Root *Combination `json:"root"`
	}{p.Text, root})
}

// Walk calls f for n and each of its descendants in depth-first order.
// If f returns false the children of that node are skipped.
func Walk(n Node, f func(Node) bool) {
	if !f(n) {
		return
	}
	if c, ok := n.(*Combination); ok {
		for _, child := range c.Children {
			Walk(child, f)
		}
	}
}

// Comparisons returns the leaves of n in order.
func Comparisons(n Node) (cs []*Comparison) {
	Walk(n, func(n Node) bool {
		if c, ok := n.(*Comparison); ok {
			cs = append(cs, c)
		}
		return true
	})
	return cs
}

// Qualifiers returns all qualifiers in n, outermost first.
func Qualifiers(n Node) (qs []*Qualifier) {
	Walk(n, func(n Node) bool {
		if c, ok := n.(*Combination); ok && c.Qualifier != nil {
			qs = append(qs, c.Qualifier)
		}
		return true
	})
	return qs
}
