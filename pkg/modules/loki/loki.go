// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

// package loki is the module for Grafana Loki logs.
//
// # Query
//
// Patterns compile to LogQL label filters applied to JSON-formatted log lines.
// The native query is a JSON object with the LogQL expression and the query range:
//
//	{"logql": "{job=~\".+\"} | json | level = \"error\"", "start": "...", "end": "...", "limit": 100}
//
// A plain LogQL string is also accepted as a native query.
//
// # Connector
//
// The connector is synchronous, the search ID is the native query.
// Loki has no result offset, so a results call fetches offset+length logs and returns the last page.
// No page extends past the query limit.
//
// Connection options:
//   - tenant: use the LokiStack gateway API for this tenant, for example "application".
package loki

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/korrel8r/shifter/internal/pkg/httpclient"
	"github.com/korrel8r/shifter/internal/pkg/loki"
	"github.com/korrel8r/shifter/pkg/compiler"
	"github.com/korrel8r/shifter/pkg/mapping"
	"github.com/korrel8r/shifter/pkg/pattern"
	"github.com/korrel8r/shifter/pkg/shifter"
	"github.com/korrel8r/shifter/pkg/shifter/impl"
)

var (
	//go:embed mappings
	mappings embed.FS

	// Module is the loki module.
	Module = &module{impl.NewModule("loki", "Grafana Loki logs, queried with LogQL", Dialect, "default", impl.MustLoad(mappings, "mappings"))}

	// Validate implementation of interfaces.
	_ shifter.Module    = Module
	_ shifter.Connector = &Connector{}
)

// Selector is the stream selector for compiled queries, it matches all streams.
const Selector = `{job=~".+"}`

// Dialect for LogQL label filter expressions.
var Dialect = &compiler.Dialect{
	Name: "logql",
	Operators: map[pattern.Operator]string{
		pattern.EQ:      "%[1]s = %[2]s",
		pattern.NEQ:     "%[1]s != %[2]s",
		pattern.LT:      "%[1]s < %[2]s",
		pattern.GT:      "%[1]s > %[2]s",
		pattern.LTE:     "%[1]s <= %[2]s",
		pattern.GTE:     "%[1]s >= %[2]s",
		pattern.IN:      "%[1]s =~ %[2]s",
		pattern.LIKE:    "%[1]s =~ %[2]s",
		pattern.MATCHES: "%[1]s =~ %[2]s",
	},
	And:              " and ",
	Or:               " or ",
	Field:            labelName,
	Literal:          literal,
	DefaultLimit:     100,
	DefaultTimerange: 60,
	Template: compiler.MustTemplate("logql",
		`{{toJson (dict "logql" (print `+strconv.Quote(Selector+" | json | ")+` .Where) "start" .Start "end" .Stop "limit" .Limit)}}`),
}

// labelName converts a JSON field path to the label name created by the LogQL json parser.
var labelReplacer = strings.NewReplacer(".", "_", "-", "_")

func labelName(name string) string { return labelReplacer.Replace(name) }

func literal(op pattern.Operator, v any) (string, error) {
	switch op {
	case pattern.IN:
		list, ok := v.([]any)
		if !ok {
			list = []any{v}
		}
		alts := make([]string, len(list))
		for i, e := range list {
			alts[i] = regexp.QuoteMeta(fmt.Sprint(e))
		}
		return strconv.Quote(strings.Join(alts, "|")), nil
	case pattern.LIKE:
		s, ok := v.(string)
		if !ok {
			return "", fmt.Errorf("LIKE needs a string, got %T", v)
		}
		return strconv.Quote(likeRegexp(s)), nil
	case pattern.MATCHES:
		s, ok := v.(string)
		if !ok {
			return "", fmt.Errorf("MATCHES needs a string, got %T", v)
		}
		if _, err := regexp.Compile(s); err != nil {
			return "", err
		}
		return strconv.Quote(s), nil
	}
	switch v := v.(type) {
	case string:
		return strconv.Quote(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		return strconv.Quote(strconv.FormatBool(v)), nil
	case time.Time:
		return strconv.Quote(v.UTC().Format(time.RFC3339Nano)), nil
	default:
		return "", fmt.Errorf("cannot render %T as a LogQL literal", v)
	}
}

// likeRegexp converts a LIKE pattern to an RE2 expression, LogQL matches are anchored.
func likeRegexp(s string) string {
	var b strings.Builder
	for _, c := range s {
		switch c {
		case '%':
			b.WriteString(".*")
		case '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	return b.String()
}

// Query is the native query for the loki module.
type Query struct {
	LogQL string    `json:"logql"`
	Start time.Time `json:"start,omitzero"`
	End   time.Time `json:"end,omitzero"`
	Limit int       `json:"limit,omitempty"`
}

// ParseQuery parses a native query, a string that is not a JSON object is a plain LogQL query.
func ParseQuery(s string) (*Query, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{\"") {
		if s == "" {
			return nil, shifter.Errorf(shifter.InvalidQuery, "empty LogQL query")
		}
		return &Query{LogQL: s}, nil
	}
	var q Query
	if err := json.Unmarshal([]byte(s), &q); err != nil {
		return nil, &shifter.Error{Kind: shifter.InvalidQuery, Msg: "invalid loki query", Err: err}
	}
	if q.LogQL == "" {
		return nil, shifter.Errorf(shifter.InvalidQuery, "missing logql in loki query")
	}
	return &q, nil
}

type module struct{ impl.Module }

func (m *module) Connector(conn shifter.Connection, creds shifter.Credentials) (shifter.Connector, error) {
	hc, err := httpclient.New(conn, creds, httpclient.Bearer)
	if err != nil {
		return nil, err
	}
	return &Connector{client: loki.New(hc, conn.URL()), tenant: conn.Option("tenant", "")}, nil
}

// Connector for a Loki or LokiStack server.
type Connector struct {
	client *loki.Client
	tenant string
}

func (c *Connector) IsAsync() bool { return false }

// Ping lists label names.
func (c *Connector) Ping(ctx context.Context) error {
	_, err := c.client.Labels(ctx, c.tenant)
	return err
}

func (c *Connector) Query(ctx context.Context, query string) (*shifter.QueryResult, error) {
	rows, err := c.get(ctx, query, 0, 0)
	if err != nil {
		return nil, err
	}
	return &shifter.QueryResult{SearchID: query, Rows: rows}, nil
}

func (c *Connector) Results(ctx context.Context, searchID string, offset, length int) ([]shifter.Row, error) {
	return c.get(ctx, searchID, offset, length)
}

func (c *Connector) get(ctx context.Context, query string, offset, length int) ([]shifter.Row, error) {
	q, err := ParseQuery(query)
	if err != nil {
		return nil, err
	}
	p := loki.Params{LogQL: q.LogQL, Start: q.Start, End: q.End, Limit: q.Limit, Tenant: c.tenant}
	if length > 0 {
		p.Limit = offset + length
		if q.Limit > 0 {
			p.Limit = min(p.Limit, q.Limit)
		}
	}
	logs, err := c.client.Query(ctx, p)
	if err != nil {
		return nil, err
	}
	logs = logs[min(max(offset, 0), len(logs)):]
	rows := make([]shifter.Row, len(logs))
	for i, l := range logs {
		rows[i] = row(l)
	}
	return rows, nil
}

// row converts a log record to a native row: timestamp, message, and labels including structured metadata.
func row(l loki.Log) shifter.Row {
	labels := map[string]any{}
	for k, v := range l.Labels {
		labels[k] = v
	}
	for k, v := range l.Metadata {
		labels[k] = v
	}
	return shifter.Row{
		"timestamp": l.Time.UTC().Format(mapping.TimestampFormat),
		"message":   l.Body,
		"labels":    labels,
	}
}
