// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

// package qradar is the module for IBM QRadar, queried with AQL through the Ariel search API.
//
// # Query
//
// Patterns compile to AQL. The default data mapper queries the events table,
// the "flows" data mapper queries the flows table:
//
//	SELECT sourceip, destinationip FROM events WHERE sourceip = '10.0.0.1' LIMIT 100 LAST 5 MINUTES
//
// # Connector
//
// The connector is asynchronous: a query creates an Ariel search that is polled until it completes.
// Results are paged with the Range header, offset and length are item indices.
// Searches can be deleted.
//
// Credentials: the token is sent as the SEC header, or username and password with basic authentication.
//
// Connection options:
//   - api_version: the Version header sent with each request.
package qradar

import (
	"context"
	"embed"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/korrel8r/shifter/internal/pkg/httpclient"
	"github.com/korrel8r/shifter/internal/pkg/logging"
	"github.com/korrel8r/shifter/pkg/compiler"
	"github.com/korrel8r/shifter/pkg/pattern"
	"github.com/korrel8r/shifter/pkg/shifter"
	"github.com/korrel8r/shifter/pkg/shifter/impl"
)

var (
	log = logging.Log().WithName("qradar")

	//go:embed mappings
	mappings embed.FS

	// Module is the qradar module.
	Module = &module{
		Module: impl.NewModule("qradar", "IBM QRadar events and flows, queried with AQL", EventsDialect, "default", impl.MustLoad(mappings, "mappings")),
	}

	// Validate implementation of interfaces.
	_ shifter.Module          = Module
	_ shifter.MapperDialects  = Module
	_ shifter.Connector       = &Connector{}
	_ shifter.StatusConnector = &Connector{}
	_ shifter.Deleter         = &Connector{}
)

var (
	// EventsDialect queries the events table.
	EventsDialect = newDialect("events", []string{
		"QIDNAME(qid) as qidname", "qid", "starttime", "endtime", "sourceip", "destinationip",
		"sourceport", "destinationport", "protocolid", "username", "logsourceid", "magnitude", "eventcount",
	})
	// FlowsDialect queries the flows table.
	FlowsDialect = newDialect("flows", []string{
		"flowtype", "firstpackettime", "lastpackettime", "sourceip", "destinationip", "sourceport",
		"destinationport", "protocolid", "sourcebytes", "destinationbytes", "sourcepackets", "destinationpackets",
	})
)

func newDialect(table string, fields []string) *compiler.Dialect {
	operators := map[pattern.Operator]string{pattern.MATCHES: "%[1]s MATCHES %[2]s"}
	for op, f := range compiler.SQLOperators {
		operators[op] = f
	}
	return &compiler.Dialect{
		Name:             "aql",
		Operators:        operators,
		Not:              "NOT %[1]s",
		And:              " AND ",
		Or:               " OR ",
		DefaultFields:    fields,
		DefaultLimit:     10000,
		DefaultTimerange: 5,
		Template: compiler.MustTemplate("aql-"+table,
			`SELECT {{join ", " .Fields}} FROM `+table+` WHERE {{.Where}}{{with .Limit}} LIMIT {{.}}{{end}}`+
				`{{if .Minutes}} LAST {{.Minutes}} MINUTES{{else if not .Start.IsZero}} START {{.StartMillis}} STOP {{.StopMillis}}{{end}}`),
	}
}

type module struct{ impl.Module }

func (m *module) MapperDialect(dataMapper string) *compiler.Dialect {
	if dataMapper == "flows" {
		return FlowsDialect
	}
	return EventsDialect
}

func (m *module) Connector(conn shifter.Connection, creds shifter.Credentials) (shifter.Connector, error) {
	hc, err := httpclient.New(conn, creds, httpclient.TokenHeader{Name: "SEC"})
	if err != nil {
		return nil, err
	}
	return NewConnector(conn.URL(), hc, conn.Option("api_version", "")), nil
}

// Connector for the QRadar Ariel search API.
type Connector struct {
	base    *url.URL
	hc      *http.Client
	version string
}

// NewConnector returns a connector for the API at base. If version is not empty it is sent as the Version header.
func NewConnector(base *url.URL, hc *http.Client, version string) *Connector {
	return &Connector{base: base, hc: hc, version: version}
}

func (c *Connector) IsAsync() bool { return true }

const (
	aboutPath    = "/api/system/about"
	searchesPath = "/api/ariel/searches"
)

func (c *Connector) Ping(ctx context.Context) error {
	var about map[string]any
	return c.call(ctx, http.MethodGet, c.url(aboutPath), nil, &about)
}

type search struct {
	SearchID      string   `json:"search_id"`
	Status        string   `json:"status"`
	Progress      int      `json:"progress"`
	ErrorMessages []string `json:"error_messages,omitempty"`
}

// Query creates an Ariel search.
func (c *Connector) Query(ctx context.Context, query string) (*shifter.QueryResult, error) {
	u := c.url(searchesPath)
	u.RawQuery = url.Values{"query_expression": {query}}.Encode()
	var s search
	if err := c.call(ctx, http.MethodPost, u, nil, &s); err != nil {
		return nil, err
	}
	log.V(2).Info("Created search", "id", s.SearchID, "status", s.Status)
	return &shifter.QueryResult{SearchID: s.SearchID}, nil
}

// Ariel search states.
var statuses = map[string]shifter.SearchStatus{
	"WAIT":      shifter.Running,
	"EXECUTE":   shifter.Running,
	"SORTING":   shifter.Running,
	"COMPLETED": shifter.Completed,
	"CANCELED":  shifter.Cancelled,
	"ERROR":     shifter.Failed,
}

func (c *Connector) Status(ctx context.Context, searchID string) (shifter.Status, error) {
	var s search
	if err := c.call(ctx, http.MethodGet, c.url(searchesPath, searchID), nil, &s); err != nil {
		return shifter.Status{}, err
	}
	status, ok := statuses[s.Status]
	if !ok {
		return shifter.Status{}, shifter.Errorf(shifter.MalformedResponse, "unknown search status %q", s.Status)
	}
	return shifter.Status{Status: status, Progress: s.Progress, Message: strings.Join(s.ErrorMessages, "; ")}, nil
}

// Results returns items offset to offset+length-1. Length <= 0 returns all items from offset.
func (c *Connector) Results(ctx context.Context, searchID string, offset, length int) ([]shifter.Row, error) {
	req, err := impl.NewRequest(ctx, http.MethodGet, c.url(searchesPath, searchID, "results"), nil)
	if err != nil {
		return nil, err
	}
	if length > 0 {
		req.Header.Set("Range", fmt.Sprintf("items=%v-%v", offset, offset+length-1))
	} else if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("items=%v-", offset))
	}
	var result map[string][]shifter.Row
	if err := c.do(ctx, req, &result); err != nil {
		return nil, err
	}
	// The result has one key naming the table: "events" or "flows".
	for _, rows := range result {
		return rows, nil
	}
	return []shifter.Row{}, nil
}

// Delete an Ariel search.
func (c *Connector) Delete(ctx context.Context, searchID string) error {
	return c.call(ctx, http.MethodDelete, c.url(searchesPath, searchID), nil, nil)
}

func (c *Connector) url(elem ...string) *url.URL {
	for i := range elem {
		elem[i] = strings.TrimPrefix(elem[i], "/")
	}
	return c.base.JoinPath(elem...)
}

func (c *Connector) call(ctx context.Context, method string, u *url.URL, body, result any) error {
	req, err := impl.NewRequest(ctx, method, u, body)
	if err != nil {
		return err
	}
	return c.do(ctx, req, result)
}

func (c *Connector) do(ctx context.Context, req *http.Request, result any) error {
	if c.version != "" {
		req.Header.Set("Version", c.version)
	}
	resp, err := impl.Do(ctx, c.hc, req)
	if err != nil {
		return err
	}
	if err := resp.Err(); err != nil {
		return err
	}
	if result == nil || len(resp.Body) == 0 {
		return nil
	}
	return resp.JSON(result)
}
