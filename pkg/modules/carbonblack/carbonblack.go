// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

// package carbonblack is the module for the Carbon Black Response process search API.
//
// # Query
//
// Patterns compile to the Carbon Black query syntax. The native query is a JSON object with the
// query and the result limit, for example:
//
//	{"q": "process_name:svchost.exe and -username:SYSTEM and ipport:[1024 TO *]", "rows": 100}
//
// A plain query string is also accepted as a native query, it returns at most [DefaultRows] rows.
//
// # Connector
//
// The connector is synchronous. The search ID is the native query itself,
// every results call re-runs the search for the requested page. No page extends past the row limit.
//
// Credentials: the API token is sent in the X-Auth-Token header.
package carbonblack

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/korrel8r/shifter/internal/pkg/httpclient"
	"github.com/korrel8r/shifter/internal/pkg/logging"
	"github.com/korrel8r/shifter/pkg/compiler"
	"github.com/korrel8r/shifter/pkg/pattern"
	"github.com/korrel8r/shifter/pkg/shifter"
	"github.com/korrel8r/shifter/pkg/shifter/impl"
)

var (
	log = logging.Log().WithName("carbonblack")

	//go:embed mappings
	mappings embed.FS

	// Module is the carbonblack module.
	Module = &module{impl.NewModule("carbonblack", "Carbon Black Response process search", Dialect, "default", impl.MustLoad(mappings, "mappings"))}

	// Validate implementation of interfaces.
	_ shifter.Module    = Module
	_ shifter.Connector = &Connector{}
)

// Dialect for Carbon Black queries.
var Dialect = &compiler.Dialect{
	Name: "cb",
	Operators: map[pattern.Operator]string{
		pattern.EQ:   "%[1]s:%[2]s",
		pattern.NEQ:  "-%[1]s:%[2]s",
		pattern.GT:   "%[1]s:{%[2]s TO *}",
		pattern.GTE:  "%[1]s:[%[2]s TO *]",
		pattern.LT:   "%[1]s:{* TO %[2]s}",
		pattern.LTE:  "%[1]s:[* TO %[2]s]",
		pattern.IN:   "%[1]s:%[2]s",
		pattern.LIKE: "%[1]s:%[2]s",
	},
	Not:          "-(%[1]s)",
	And:          " and ",
	Or:           " or ",
	Literal:      literal,
	DefaultLimit: DefaultRows,
	Template: compiler.MustTemplate("cb",
		`{{$q := .Where}}{{if not .Start.IsZero}}`+
			`{{$q = printf "(%s) and start:[%s TO %s]" .Where (.Start.UTC.Format "`+timeFormat+`") (.Stop.UTC.Format "`+timeFormat+`")}}`+
			`{{end}}{{toJson (dict "q" $q "rows" .Limit)}}`),
}

// DefaultRows is the row limit of a query that does not give one.
const DefaultRows = 100

const timeFormat = "2006-01-02T15:04:05"

func literal(op pattern.Operator, v any) (string, error) {
	switch v := v.(type) {
	case string:
		if op == pattern.LIKE {
			return wildcard(v), nil
		}
		return quote(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case bool:
		return strconv.FormatBool(v), nil
	case time.Time:
		return v.UTC().Format(timeFormat), nil
	case []any:
		parts := make([]string, len(v))
		for i, e := range v {
			s, err := literal(op, e)
			if err != nil {
				return "", err
			}
			parts[i] = s
		}
		return "(" + strings.Join(parts, " or ") + ")", nil
	default:
		return "", fmt.Errorf("cannot render %T as a literal", v)
	}
}

// quote a term if it contains characters that are special in the query syntax.
func quote(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\"\\:()[]{}*?-") {
		return strconv.Quote(s)
	}
	return s
}

// wildcard converts a LIKE pattern to an unquoted wildcard term. Wildcards do not work in quoted terms.
var wildcardReplacer = strings.NewReplacer("%", "*", "_", "?", " ", `\ `, ":", `\:`, "(", `\(`, ")", `\)`)

func wildcard(s string) string { return wildcardReplacer.Replace(s) }

// Query is the native query for the carbonblack module.
type Query struct {
	Q string `json:"q"`
	// Rows is the maximum number of rows for the search, [DefaultRows] if zero.
	Rows int `json:"rows,omitempty"`
}

// ParseQuery parses a native query, a string that is not a JSON object is a plain query.
func ParseQuery(s string) (*Query, error) {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "{\"") {
		if s == "" {
			return nil, shifter.Errorf(shifter.InvalidQuery, "empty carbonblack query")
		}
		return &Query{Q: s}, nil
	}
	var q Query
	if err := json.Unmarshal([]byte(s), &q); err != nil {
		return nil, &shifter.Error{Kind: shifter.InvalidQuery, Msg: "invalid carbonblack query", Err: err}
	}
	if q.Q == "" {
		return nil, shifter.Errorf(shifter.InvalidQuery, "missing q in carbonblack query")
	}
	if q.Rows < 0 {
		return nil, shifter.Errorf(shifter.InvalidQuery, "negative rows in carbonblack query: %v", q.Rows)
	}
	return &q, nil
}

func (q *Query) limit() int {
	if q.Rows > 0 {
		return q.Rows
	}
	return DefaultRows
}

type module struct{ impl.Module }

func (m *module) Connector(conn shifter.Connection, creds shifter.Credentials) (shifter.Connector, error) {
	hc, err := httpclient.New(conn, creds, httpclient.TokenHeader{Name: "X-Auth-Token"})
	if err != nil {
		return nil, err
	}
	return NewConnector(conn.URL(), hc), nil
}

// Connector for the Carbon Black Response API.
type Connector struct {
	base *url.URL
	hc   *http.Client
}

// NewConnector returns a connector for the API at base.
func NewConnector(base *url.URL, hc *http.Client) *Connector { return &Connector{base: base, hc: hc} }

func (c *Connector) IsAsync() bool { return false }

const (
	infoPath    = "/api/info"
	processPath = "/api/v1/process"
)

// Ping succeeds if the server info is a non-empty JSON object.
func (c *Connector) Ping(ctx context.Context) error {
	var info map[string]any
	if err := impl.Get(ctx, c.hc, c.url(infoPath, nil), &info); err != nil {
		return fmt.Errorf("error when pinging data source: %w", err)
	}
	if len(info) == 0 {
		return shifter.Errorf(shifter.MalformedResponse, "error when pinging data source: empty server info")
	}
	return nil
}

// Query runs the search for up to the row limit, the search ID is the query.
func (c *Connector) Query(ctx context.Context, query string) (*shifter.QueryResult, error) {
	q, err := ParseQuery(query)
	if err != nil {
		return nil, err
	}
	rows, err := c.search(ctx, q.Q, 0, q.limit())
	if err != nil {
		return nil, err
	}
	return &shifter.QueryResult{SearchID: query, Rows: rows}, nil
}

// Results re-runs the search in searchID for one page. Offset and length are the start and rows parameters,
// truncated to the row limit. Length <= 0 returns all rows from offset up to the limit.
func (c *Connector) Results(ctx context.Context, searchID string, offset, length int) ([]shifter.Row, error) {
	q, err := ParseQuery(searchID)
	if err != nil {
		return nil, err
	}
	offset = max(offset, 0)
	remaining := q.limit() - offset
	if remaining <= 0 {
		return []shifter.Row{}, nil
	}
	if length <= 0 || length > remaining {
		length = remaining
	}
	return c.search(ctx, q.Q, offset, length)
}

type processResponse struct {
	Results      []shifter.Row `json:"results"`
	TotalResults int           `json:"total_results"`
}

func (c *Connector) search(ctx context.Context, query string, offset, length int) ([]shifter.Row, error) {
	v := url.Values{"q": {query}, "start": {strconv.Itoa(offset)}}
	if length > 0 {
		v.Set("rows", strconv.Itoa(length))
	}
	var resp processResponse
	if err := impl.Get(ctx, c.hc, c.url(processPath, v), &resp); err != nil {
		return nil, fmt.Errorf("error when creating search: %w", err)
	}
	log.V(3).Info("Process search", "query", query, "start", offset, "rows", len(resp.Results), "total", resp.TotalResults)
	if resp.Results == nil {
		resp.Results = []shifter.Row{}
	}
	return resp.Results, nil
}

func (c *Connector) url(p string, v url.Values) *url.URL {
	u := c.base.JoinPath(p)
	u.RawQuery = v.Encode()
	return u
}
