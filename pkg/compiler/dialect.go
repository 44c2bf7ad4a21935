// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

package compiler

import (
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/Masterminds/sprig/v3"
	"github.com/korrel8r/shifter/pkg/pattern"
)

// FollowedByPolicy decides how a dialect compiles FOLLOWEDBY.
type FollowedByPolicy int

const (
	// FollowedByAnd compiles FOLLOWEDBY as AND, event order is not enforced. A note is added to the result.
	FollowedByAnd FollowedByPolicy = iota
	// FollowedByUnsupported rejects FOLLOWEDBY with an UnsupportedOperator error.
	FollowedByUnsupported
	// FollowedByNative joins clauses with [Dialect.Then], the data source enforces event order.
	FollowedByNative
)

// Dialect describes the native query syntax of a data source.
type Dialect struct {
	// Name of the query language, informational.
	Name string
	// Operators maps comparison operators to fmt templates: %[1]s is the native field, %[2]s the literal.
	// Operators missing from the map are not supported.
	Operators map[pattern.Operator]string
	// Not is a fmt template to negate a clause, %[1]s is the clause. Empty if negation is not supported.
	Not string
	// And, Or join clauses, including leading and trailing spaces. Empty if the operator is not supported.
	And, Or string
	// Group is a fmt template to group a compound clause, %[1]s is the clause.
	Group string
	// FollowedBy policy.
	FollowedBy FollowedByPolicy
	// Then joins FOLLOWEDBY clauses for the [FollowedByNative] policy.
	Then string
	// Repeats is true if REPEATS qualifiers can be ignored safely: the data source returns all events anyway.
	Repeats bool
	// Field renders a native field name, default is the name unchanged.
	Field func(name string) string
	// Literal renders a native value for an operator. Values are the result of [pattern.Value.Any]
	// after any mapping transform, lists are []any. Default is [SQLLiteral].
	Literal func(op pattern.Operator, v any) (string, error)
	// Template renders the final query from [TemplateData]. Default is the WHERE clause alone.
	Template *template.Template
	// DefaultFields is the projection used when no select fields are given.
	DefaultFields []string
	// DefaultLimit is the result limit used when none is given, 0 means no limit.
	DefaultLimit int
	// DefaultTimerange in minutes is used when the pattern has no time qualifier, 0 means no time range.
	DefaultTimerange int
	// Validate the rendered query, optional.
	Validate func(query string) error
	// Now returns the current time, default [time.Now].
	Now func() time.Time
}

// TemplateData is the data available to a [Dialect.Template].
type TemplateData struct {
	// Where is the compiled filter expression.
	Where string
	// Fields is the projection, may be empty.
	Fields []string
	// Limit is the result limit, 0 for no limit.
	Limit int
	// Start and Stop of the time range, zero if there is none.
	Start, Stop time.Time
	// Minutes in the time range if it was synthesized from a timerange, 0 otherwise.
	Minutes int
	// Explicit is true if the time range came from a pattern qualifier.
	Explicit bool
	// Pattern is the canonical text of the compiled pattern.
	Pattern string
}

// StartMillis returns Start as milliseconds since the epoch.
func (d TemplateData) StartMillis() int64 { return d.Start.UnixMilli() }

// StopMillis returns Stop as milliseconds since the epoch.
func (d TemplateData) StopMillis() int64 { return d.Stop.UnixMilli() }

// MustTemplate parses a query template with the sprig function library, panics on error.
func MustTemplate(name, text string) *template.Template {
	return template.Must(template.New(name).Funcs(sprig.TxtFuncMap()).Option("missingkey=error").Parse(text))
}

// SQLOperators is an operator table for SQL-like dialects.
var SQLOperators = map[pattern.Operator]string{
	pattern.EQ:   "%[1]s = %[2]s",
	pattern.NEQ:  "%[1]s != %[2]s",
	pattern.LT:   "%[1]s < %[2]s",
	pattern.GT:   "%[1]s > %[2]s",
	pattern.LTE:  "%[1]s <= %[2]s",
	pattern.GTE:  "%[1]s >= %[2]s",
	pattern.IN:   "%[1]s IN %[2]s",
	pattern.LIKE: "%[1]s LIKE %[2]s",
}

// QuoteSQL quotes a string in single quotes, doubling embedded quotes.
func QuoteSQL(s string) string { return "'" + strings.ReplaceAll(s, "'", "''") + "'" }

// SQLLiteral renders a value as a SQL literal. Lists render as a parenthesized list.
func SQLLiteral(_ pattern.Operator, v any) (string, error) { return sqlLiteral(v) }

func sqlLiteral(v any) (string, error) {
	switch v := v.(type) {
	case string:
		return QuoteSQL(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case int:
		return strconv.Itoa(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	case time.Time:
		return QuoteSQL(v.UTC().Format(time.RFC3339Nano)), nil
	case []any:
		parts := make([]string, len(v))
		for i, e := range v {
			s, err := sqlLiteral(e)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return "(" + strings.Join(parts, ", ") + ")", nil
	default:
		return "", fmt.Errorf("cannot render %T as a literal", v)
	}
}
