// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

// Package compiler compiles a parsed pattern into a native query.
//
// Compilation is table driven: a [mapping.Table] names the native fields and a [Dialect] supplies
// the native syntax. There is no special case for any data source, pass-through data sources
// use [mapping.Identity].
//
// Compilation fails fast: a pattern that cannot be compiled exactly is an error, never an approximation.
package compiler

import (
	"bytes"
	"fmt"
	"slices"
	"time"

	"github.com/korrel8r/shifter/pkg/mapping"
	"github.com/korrel8r/shifter/pkg/pattern"
	"github.com/korrel8r/shifter/pkg/unique"
)

// Options shape the compiled query.
type Options struct {
	// SelectFields restricts the projection, overrides [Dialect.DefaultFields].
	SelectFields []string
	// ResultLimit caps the number of rows, overrides [Dialect.DefaultLimit] if positive.
	ResultLimit int
	// Timerange in minutes used when the pattern has no time qualifier, overrides [Dialect.DefaultTimerange] if positive.
	Timerange int
}

// Native is a compiled native query.
type Native struct {
	Query  string    `json:"query"`
	Start  time.Time `json:"start,omitzero"`
	Stop   time.Time `json:"stop,omitzero"`
	Limit  int       `json:"limit,omitempty"`
	Fields []string  `json:"fields,omitempty"`
	// Notes describe documented degradations, for example FOLLOWEDBY compiled as AND.
	Notes []string `json:"notes,omitempty"`
}

// Compile a pattern to a native query.
// Returns a [*CompileError] if the pattern cannot be compiled exactly.
func Compile(p *pattern.Pattern, t *mapping.Table, d *Dialect, o Options) (*Native, error) {
	c := &compilation{table: t, dialect: d, notes: unique.NewList[string]()}
	where, err := c.node(p.Root, false)
	if err != nil {
		return nil, err
	}
	now := time.Now
	if d.Now != nil {
		now = d.Now
	}
	data := TemplateData{Where: where, Fields: d.DefaultFields, Limit: d.DefaultLimit, Pattern: p.String()}
	if len(o.SelectFields) > 0 {
		data.Fields = o.SelectFields
	}
	if o.ResultLimit > 0 {
		data.Limit = o.ResultLimit
	}
	if err := c.timeRange(p.Root, now(), o, &data); err != nil {
		return nil, err
	}
	n := &Native{Query: where, Start: data.Start, Stop: data.Stop, Limit: data.Limit, Fields: data.Fields, Notes: c.notes.List}
	if d.Template != nil {
		var b bytes.Buffer
		if err := d.Template.Execute(&b, data); err != nil {
			return nil, &CompileError{Kind: InvalidValue, Msg: fmt.Sprintf("query template: %v", err)}
		}
		n.Query = b.String()
	}
	if d.Validate != nil {
		if err := d.Validate(n.Query); err != nil {
			return nil, &CompileError{Kind: InvalidQuery, Msg: err.Error()}
		}
	}
	return n, nil
}

type compilation struct {
	table   *mapping.Table
	dialect *Dialect
	notes   *unique.List[string]
}

func (c *compilation) node(n pattern.Node, nested bool) (string, error) {
	switch n := n.(type) {
	case *pattern.Comparison:
		return c.comparison(n, nested)
	case *pattern.Combination:
		return c.combination(n, nested)
	default:
		panic(fmt.Errorf("unknown pattern node type %T", n))
	}
}

func (c *compilation) combination(n *pattern.Combination, nested bool) (string, error) {
	if len(n.Children) == 1 {
		return c.node(n.Children[0], nested)
	}
	join := c.dialect.And
	switch n.Op {
	case pattern.OR:
		join = c.dialect.Or
	case pattern.FOLLOWEDBY:
		switch c.dialect.FollowedBy {
		case FollowedByUnsupported:
			return "", &CompileError{Kind: UnsupportedOperator, Msg: "FOLLOWEDBY is not supported"}
		case FollowedByNative:
			join = c.dialect.Then
		default:
			c.notes.Add("FOLLOWEDBY compiled as AND: event order is not enforced")
		}
	}
	if join == "" {
		return "", &CompileError{Kind: UnsupportedOperator, Msg: fmt.Sprintf("%v is not supported", n.Op)}
	}
	clauses := unique.NewList[string]()
	for _, child := range n.Children {
		s, err := c.node(child, true)
		if err != nil {
			return "", err
		}
		clauses.Add(s)
	}
	return c.join(clauses.List, join, nested), nil
}

func (c *compilation) join(clauses []string, sep string, nested bool) string {
	if len(clauses) == 1 {
		return clauses[0]
	}
	var b bytes.Buffer
	for i, s := range clauses {
		if i > 0 {
			b.WriteString(sep)
		}
		b.WriteString(s)
	}
	if nested {
		group := c.dialect.Group
		if group == "" {
			group = "(%s)"
		}
		return fmt.Sprintf(group, b.String())
	}
	return b.String()
}

func (c *compilation) comparison(n *pattern.Comparison, nested bool) (string, error) {
	d := c.dialect
	e, ok := c.table.Lookup(n.Path)
	if !ok {
		return "", &CompileError{Kind: UnmappedField, Path: n.Path}
	}
	op, ok := d.Operators[n.Op]
	if !ok {
		return "", &CompileError{Kind: UnsupportedOperator, Path: n.Path, Msg: fmt.Sprintf("operator %v is not supported", n.Op)}
	}
	if n.Negated && d.Not == "" {
		return "", &CompileError{Kind: UnsupportedOperator, Path: n.Path, Msg: "NOT is not supported"}
	}
	v, err := c.value(n, e.Transformer())
	if err != nil {
		return "", err
	}
	literal := SQLLiteral
	if d.Literal != nil {
		literal = d.Literal
	}
	lit, err := literal(n.Op, v)
	if err != nil {
		return "", &CompileError{Kind: InvalidValue, Path: n.Path, Msg: err.Error()}
	}
	clauses := unique.NewList[string]()
	for _, f := range e.Fields {
		name := f.Name
		if d.Field != nil {
			name = d.Field(name)
		}
		clause := fmt.Sprintf(op, name, lit)
		if n.Negated {
			clause = fmt.Sprintf(d.Not, clause)
		}
		clauses.Add(clause)
	}
	// A path mapped to several native fields matches if any of them match,
	// a negated path matches only if none of them match.
	sep, sepName := d.Or, "OR"
	if n.Negated {
		sep, sepName = d.And, "AND"
	}
	if sep == "" && clauses.Len() > 1 {
		return "", &CompileError{Kind: UnsupportedOperator, Path: n.Path,
			Msg: fmt.Sprintf("%v of %v native fields is not supported", sepName, clauses.Len())}
	}
	return c.join(clauses.List, sep, nested), nil
}

// value returns the native value of a comparison literal.
func (c *compilation) value(n *pattern.Comparison, tr mapping.Transform) (any, error) {
	v := n.Value.Any()
	if tr == nil {
		return v, nil
	}
	convert := func(v any) (any, error) {
		nv, err := tr.ToNative(v)
		if err != nil {
			return nil, &CompileError{Kind: InvalidValue, Path: n.Path, Msg: err.Error()}
		}
		return nv, nil
	}
	if list, ok := v.([]any); ok {
		out := make([]any, len(list))
		for i, e := range list {
			var err error
			if out[i], err = convert(e); err != nil {
				return nil, err
			}
		}
		return out, nil
	}
	return convert(v)
}

// timeRange sets the time range from pattern qualifiers, or from the timerange if there are none.
func (c *compilation) timeRange(root pattern.Node, now time.Time, o Options, data *TemplateData) error {
	type span struct{ start, stop time.Time }
	var spans []span
	for _, q := range pattern.Qualifiers(root) {
		if q.Repeats != nil && !c.dialect.Repeats {
			return &CompileError{Kind: UnsupportedQualifier, Msg: "REPEATS is not supported"}
		}
		switch {
		case q.Start != nil:
			spans = append(spans, span{*q.Start, *q.Stop})
		case q.Within != nil:
			spans = append(spans, span{now.Add(-*q.Within), now})
		}
	}
	spans = slices.CompactFunc(spans, func(a, b span) bool { return a.start.Equal(b.start) && a.stop.Equal(b.stop) })
	switch len(spans) {
	case 0:
		minutes := c.dialect.DefaultTimerange
		if o.Timerange > 0 {
			minutes = o.Timerange
		}
		if minutes > 0 {
			data.Minutes = minutes
			data.Start, data.Stop = now.Add(-time.Duration(minutes)*time.Minute), now
		}
	case 1:
		data.Explicit = true
		data.Start, data.Stop = spans[0].start, spans[0].stop
	default:
		return &CompileError{Kind: UnsupportedQualifier, Msg: "observations with different time ranges"}
	}
	return nil
}
