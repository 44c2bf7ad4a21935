// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

// package prometheus is the module for Prometheus metrics.
//
// # Query
//
// Patterns compile to a PromQL series selector. Only conjunctions of label matchers can be expressed,
// OR, NOT and ordering comparisons are not supported. The native query is a JSON object with the
// selector, the query time range and the result limit:
//
//	{"promql": "{job=\"api\",instance=~\"web-.*\"}", "start": "2024-05-06T07:03:09Z", "time": "2024-05-06T07:08:09Z", "limit": 100}
//
// A plain PromQL expression is also accepted as a native query, it is evaluated at the current time.
//
// # Connector
//
// The connector is synchronous, the search ID is the native query.
// A query with a start time is a range query from start to time, otherwise it is an instant query at time.
// Each sample is a row: {"metric": {labels...}, "value": 1.5, "timestamp": "..."}.
// Rows past the limit are dropped.
package prometheus

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/korrel8r/shifter/internal/pkg/httpclient"
	"github.com/korrel8r/shifter/internal/pkg/logging"
	"github.com/korrel8r/shifter/pkg/compiler"
	"github.com/korrel8r/shifter/pkg/mapping"
	"github.com/korrel8r/shifter/pkg/pattern"
	"github.com/korrel8r/shifter/pkg/shifter"
	"github.com/korrel8r/shifter/pkg/shifter/impl"
	"github.com/prometheus/client_golang/api"
	promv1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
	"github.com/prometheus/prometheus/promql/parser"
)

var (
	log = logging.Log().WithName("prometheus")

	//go:embed mappings
	mappings embed.FS

	// Module is the prometheus module.
	Module = &module{impl.NewModule("prometheus", "Prometheus metrics, queried with PromQL", Dialect, "default", impl.MustLoad(mappings, "mappings"))}

	// Validate implementation of interfaces.
	_ shifter.Module    = Module
	_ shifter.Connector = &Connector{}
)

// Dialect for PromQL series selectors.
var Dialect = &compiler.Dialect{
	Name: "promql",
	Operators: map[pattern.Operator]string{
		pattern.EQ:      "%[1]s=%[2]s",
		pattern.NEQ:     "%[1]s!=%[2]s",
		pattern.IN:      "%[1]s=~%[2]s",
		pattern.LIKE:    "%[1]s=~%[2]s",
		pattern.MATCHES: "%[1]s=~%[2]s",
	},
	And:              ",",
	Group:            "%s",
	Literal:          literal,
	DefaultTimerange: 5,
	Template: compiler.MustTemplate("promql",
		`{{$q := dict "promql" (print "{" .Where "}") "time" .Stop}}`+
			`{{if not .Start.IsZero}}{{$_ := set $q "start" .Start}}{{end}}`+
			`{{with .Limit}}{{$_ := set $q "limit" .}}{{end}}{{toJson $q}}`),
	Validate:         validate,
}

func literal(op pattern.Operator, v any) (string, error) {
	switch op {
	case pattern.IN:
		list, ok := v.([]any)
		if !ok {
			list = []any{v}
		}
		alts := make([]string, len(list))
		for i, e := range list {
			alts[i] = regexp.QuoteMeta(labelValue(e))
		}
		return strconv.Quote(strings.Join(alts, "|")), nil
	case pattern.LIKE:
		var b strings.Builder
		for _, c := range labelValue(v) {
			switch c {
			case '%':
				b.WriteString(".*")
			case '_':
				b.WriteString(".")
			default:
				b.WriteString(regexp.QuoteMeta(string(c)))
			}
		}
		return strconv.Quote(b.String()), nil
	case pattern.MATCHES:
		if _, err := regexp.Compile(labelValue(v)); err != nil {
			return "", err
		}
	}
	if _, ok := v.([]any); ok {
		return "", fmt.Errorf("list value not allowed for %v", op)
	}
	return strconv.Quote(labelValue(v)), nil
}

// labelValue formats a value as a label value string, label values are always strings.
func labelValue(v any) string {
	switch v := v.(type) {
	case time.Time:
		return v.UTC().Format(time.RFC3339Nano)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// validate checks that the PromQL expression in a native query parses and selects at least one series.
func validate(query string) error {
	q, err := ParseQuery(query)
	if err != nil {
		return err
	}
	expr, err := parser.ParseExpr(q.PromQL)
	if err != nil {
		return err
	}
	selectors := 0
	parser.Inspect(expr, func(node parser.Node, _ []parser.Node) error {
		if _, ok := node.(*parser.VectorSelector); ok {
			selectors++
		}
		return nil
	})
	if selectors == 0 {
		return fmt.Errorf("no series selector in %q", q.PromQL)
	}
	return nil
}

// Query is the native query for the prometheus module.
type Query struct {
	PromQL string `json:"promql"`
	// Start of a range query, an instant query if zero.
	Start time.Time `json:"start,omitzero"`
	// Time to evaluate the query or end of the range, the current time if zero.
	Time time.Time `json:"time,omitzero"`
	// Limit on the number of rows, no limit if zero.
	Limit int `json:"limit,omitempty"`
}

// MaxPoints is the number of points per series for the resolution of a range query.
const MaxPoints = 250

// Step returns the resolution for a range query from start to end, at least one second.
func Step(start, end time.Time) time.Duration {
	return max((end.Sub(start) / MaxPoints).Truncate(time.Second), time.Second)
}

// ParseQuery parses a native query, a string that is not a JSON object is a plain PromQL expression.
func ParseQuery(s string) (*Query, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{\"") {
		if s == "" {
			return nil, shifter.Errorf(shifter.InvalidQuery, "empty PromQL query")
		}
		return &Query{PromQL: s}, nil
	}
	var q Query
	if err := json.Unmarshal([]byte(s), &q); err != nil {
		return nil, &shifter.Error{Kind: shifter.InvalidQuery, Msg: "invalid prometheus query", Err: err}
	}
	if q.PromQL == "" {
		return nil, shifter.Errorf(shifter.InvalidQuery, "missing promql in prometheus query")
	}
	if q.Limit < 0 {
		return nil, shifter.Errorf(shifter.InvalidQuery, "negative limit in prometheus query: %v", q.Limit)
	}
	if !q.Start.IsZero() && !q.Time.IsZero() && q.Start.After(q.Time) {
		return nil, shifter.Errorf(shifter.InvalidQuery, "prometheus query start %v is after time %v", q.Start, q.Time)
	}
	return &q, nil
}

type module struct{ impl.Module }

func (m *module) Connector(conn shifter.Connection, creds shifter.Credentials) (shifter.Connector, error) {
	hc, err := httpclient.New(conn, creds, httpclient.Bearer)
	if err != nil {
		return nil, err
	}
	c, err := api.NewClient(api.Config{Address: conn.URL().String(), Client: hc})
	if err != nil {
		return nil, shifter.OptionsError{Option: "connection", Msg: err.Error()}
	}
	return &Connector{api: promv1.NewAPI(c), now: time.Now}, nil
}

// Connector for the Prometheus HTTP API.
type Connector struct {
	api promv1.API
	now func() time.Time
}

func (c *Connector) IsAsync() bool { return false }

// Ping gets the server build information.
func (c *Connector) Ping(ctx context.Context) error {
	_, err := c.api.Buildinfo(ctx)
	return convertError(err)
}

func (c *Connector) Query(ctx context.Context, query string) (*shifter.QueryResult, error) {
	rows, err := c.get(ctx, query)
	if err != nil {
		return nil, err
	}
	return &shifter.QueryResult{SearchID: query, Rows: rows}, nil
}

// Results re-runs the query and returns rows[offset:offset+length].
func (c *Connector) Results(ctx context.Context, searchID string, offset, length int) ([]shifter.Row, error) {
	rows, err := c.get(ctx, searchID)
	if err != nil {
		return nil, err
	}
	start := min(max(offset, 0), len(rows))
	end := len(rows)
	if length > 0 {
		end = min(start+length, len(rows))
	}
	return rows[start:end], nil
}

func (c *Connector) get(ctx context.Context, query string) ([]shifter.Row, error) {
	q, err := ParseQuery(query)
	if err != nil {
		return nil, err
	}
	ts := q.Time
	if ts.IsZero() {
		ts = c.now()
	}
	var (
		value    model.Value
		warnings promv1.Warnings
	)
	if q.Start.IsZero() {
		value, warnings, err = c.api.Query(ctx, q.PromQL, ts)
	} else {
		r := promv1.Range{Start: q.Start, End: ts, Step: Step(q.Start, ts)}
		value, warnings, err = c.api.QueryRange(ctx, q.PromQL, r)
	}
	if err != nil {
		return nil, convertError(err)
	}
	if len(warnings) > 0 {
		log.V(1).Info("Query warnings", "query", q.PromQL, "warnings", warnings)
	}
	result, err := rows(value)
	if err != nil {
		return nil, err
	}
	if q.Limit > 0 && len(result) > q.Limit {
		result = result[:q.Limit]
	}
	return result, nil
}

// rows converts a query result to native rows.
func rows(value model.Value) ([]shifter.Row, error) {
	switch v := value.(type) {
	case model.Vector:
		rows := make([]shifter.Row, len(v))
		for i, s := range v {
			rows[i] = sampleRow(s.Metric, s.Value, s.Timestamp)
		}
		return rows, nil
	case model.Matrix:
		var rows []shifter.Row
		for _, ss := range v {
			for _, p := range ss.Values {
				rows = append(rows, sampleRow(ss.Metric, p.Value, p.Timestamp))
			}
		}
		return rows, nil
	case *model.Scalar:
		return []shifter.Row{sampleRow(nil, v.Value, v.Timestamp)}, nil
	default:
		return nil, shifter.Errorf(shifter.MalformedResponse, "unexpected prometheus result type: %v", value.Type())
	}
}

func sampleRow(metric model.Metric, value model.SampleValue, ts model.Time) shifter.Row {
	labels := map[string]any{}
	for k, v := range metric {
		labels[string(k)] = string(v)
	}
	return shifter.Row{
		"metric":    labels,
		"value":     float64(value),
		"timestamp": ts.Time().UTC().Format(mapping.TimestampFormat),
	}
}

// convertError classifies errors from the prometheus client.
func convertError(err error) error {
	var pe *promv1.Error
	if err == nil || !errors.As(err, &pe) {
		return err
	}
	kind := shifter.Unknown
	switch pe.Type {
	case promv1.ErrBadData:
		kind = shifter.InvalidQuery
	case promv1.ErrTimeout, promv1.ErrCanceled:
		kind = shifter.Timeout
	case promv1.ErrBadResponse:
		kind = shifter.MalformedResponse
	case promv1.ErrClient:
		if strings.Contains(pe.Msg, "401") || strings.Contains(pe.Msg, "403") {
			kind = shifter.Auth
		}
	}
	return &shifter.Error{Kind: kind, Msg: "prometheus", Err: err}
}
