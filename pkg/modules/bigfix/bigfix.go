// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

// package bigfix is the module for HCL BigFix client queries.
//
// # Query
//
// Translation is pass-through: the native query is the pattern itself in canonical form.
// The mapping is the identity mapping, every object path is its own native field.
//
// # Connector
//
// The connector is asynchronous. A query creates a client query that is answered by BigFix agents,
// the status is complete when all targeted agents have reported.
// Results are paged with start and count, each agent answer is a row keyed by object paths:
//
//	{"x-bigfix-computer:computer_id": 12, "x-bigfix-computer:name": "host1", "x-bigfix-relevance:result": "..."}
//
// Client queries cannot be deleted.
//
// Credentials: username and password with basic authentication, or a bearer token.
package bigfix

import (
	"bytes"
	"context"
	"encoding/xml"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/korrel8r/shifter/internal/pkg/httpclient"
	"github.com/korrel8r/shifter/internal/pkg/logging"
	"github.com/korrel8r/shifter/pkg/compiler"
	"github.com/korrel8r/shifter/pkg/mapping"
	"github.com/korrel8r/shifter/pkg/pattern"
	"github.com/korrel8r/shifter/pkg/shifter"
	"github.com/korrel8r/shifter/pkg/shifter/impl"
)

var (
	log = logging.Log().WithName("bigfix")

	// Module is the bigfix module.
	Module = &module{impl.NewModule("bigfix", "HCL BigFix client queries, pass-through translation", Dialect, mapper,
		map[string]*mapping.Table{mapper: mapping.Identity(mapper)})}

	// Validate implementation of interfaces.
	_ shifter.Module          = Module
	_ shifter.Connector       = &Connector{}
	_ shifter.StatusConnector = &Connector{}
)

const mapper = "identity"

// Dialect renders the canonical pattern. Every operator and qualifier is passed through.
var Dialect = &compiler.Dialect{
	Name:       "stix",
	Operators:  stixOperators(),
	Not:        "NOT %[1]s",
	And:        " AND ",
	Or:         " OR ",
	FollowedBy: compiler.FollowedByNative,
	Then:       " FOLLOWEDBY ",
	Repeats:    true,
	Template:   compiler.MustTemplate("stix", `{{.Pattern}}`),
}

func stixOperators() map[pattern.Operator]string {
	ops := map[pattern.Operator]string{}
	for _, op := range pattern.Operators {
		ops[op] = "%[1]s " + op.String() + " %[2]s"
	}
	return ops
}

type module struct{ impl.Module }

func (m *module) Connector(conn shifter.Connection, creds shifter.Credentials) (shifter.Connector, error) {
	hc, err := httpclient.New(conn, creds, httpclient.Bearer)
	if err != nil {
		return nil, err
	}
	return NewConnector(conn.URL(), hc), nil
}

// Connector for the BigFix REST API.
type Connector struct {
	base *url.URL
	hc   *http.Client
}

func NewConnector(base *url.URL, hc *http.Client) *Connector { return &Connector{base: base, hc: hc} }

func (c *Connector) IsAsync() bool { return true }

const (
	loginPath   = "/api/login"
	queryPath   = "/api/clientquery"
	resultsPath = "/api/clientqueryresults"
)

// Ping checks the credentials with a login.
func (c *Connector) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, c.base.JoinPath(loginPath), nil)
	if err != nil {
		return err
	}
	return resp.Err()
}

type clientQuery struct {
	XMLName xml.Name `xml:"BESAPI"`
	Query   struct {
		Resource               string `xml:"Resource,attr,omitempty"`
		ApplicabilityRelevance bool   `xml:"ApplicabilityRelevance"`
		QueryText              string `xml:"QueryText"`
		CustomRelevance        bool   `xml:"Target>CustomRelevance"`
		ID                     string `xml:"ID,omitempty"`
	} `xml:"ClientQuery"`
}

// Query creates a client query targeting all computers.
func (c *Connector) Query(ctx context.Context, query string) (*shifter.QueryResult, error) {
	var q clientQuery
	q.Query.ApplicabilityRelevance = true
	q.Query.QueryText = query
	q.Query.CustomRelevance = true
	body, err := xml.Marshal(q)
	if err != nil {
		return nil, err
	}
	resp, err := c.do(ctx, http.MethodPost, c.base.JoinPath(queryPath), body)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	var created clientQuery
	if err := xml.Unmarshal(resp.Body, &created); err != nil {
		return nil, &shifter.Error{Kind: shifter.MalformedResponse, Code: resp.Code, Msg: "malformed response", Err: err}
	}
	id := created.Query.ID
	if id == "" {
		id = trimID(created.Query.Resource)
	}
	if id == "" {
		return nil, shifter.Errorf(shifter.MalformedResponse, "client query response has no ID")
	}
	log.V(2).Info("Created client query", "id", id)
	return &shifter.QueryResult{SearchID: id}, nil
}

// answer is one agent answer to a client query.
type answer struct {
	ComputerID   float64 `json:"computerID"`
	ComputerName string  `json:"computerName"`
	SubQueryID   float64 `json:"subQueryID"`
	IsFailure    bool    `json:"isFailure"`
	Result       string  `json:"result"`
	ResponseTime float64 `json:"ResponseTime"`
}

type answers struct {
	TotalResults    int      `json:"totalResults"`
	ReportingAgents int      `json:"reportingAgents"`
	TotalAgents     int      `json:"totalAgents"`
	Results         []answer `json:"results"`
}

// Status is completed when all targeted agents have reported.
func (c *Connector) Status(ctx context.Context, searchID string) (shifter.Status, error) {
	a, err := c.answers(ctx, searchID, 0, 1)
	if err != nil {
		return shifter.Status{}, err
	}
	if a.TotalAgents <= 0 || a.ReportingAgents >= a.TotalAgents {
		return shifter.Status{Status: shifter.Completed, Progress: 100}, nil
	}
	return shifter.Status{Status: shifter.Running, Progress: a.ReportingAgents * 100 / a.TotalAgents}, nil
}

// Results returns count answers from offset. Length <= 0 returns all answers from offset.
func (c *Connector) Results(ctx context.Context, searchID string, offset, length int) ([]shifter.Row, error) {
	a, err := c.answers(ctx, searchID, offset, length)
	if err != nil {
		return nil, err
	}
	rows := make([]shifter.Row, len(a.Results))
	for i, r := range a.Results {
		rows[i] = shifter.Row{
			"x-bigfix-computer:computer_id":    r.ComputerID,
			"x-bigfix-computer:name":           r.ComputerName,
			"x-bigfix-relevance:sub_query_id":  r.SubQueryID,
			"x-bigfix-relevance:is_failure":    r.IsFailure,
			"x-bigfix-relevance:result":        r.Result,
			"x-bigfix-relevance:response_time": r.ResponseTime,
		}
	}
	return rows, nil
}

func (c *Connector) answers(ctx context.Context, id string, offset, length int) (*answers, error) {
	u := c.base.JoinPath(resultsPath, id)
	v := url.Values{"output": {"json"}, "start": {strconv.Itoa(max(offset, 0))}}
	if length > 0 {
		v.Set("count", strconv.Itoa(length))
	}
	u.RawQuery = v.Encode()
	var a answers
	if err := impl.Get(ctx, c.hc, u, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (c *Connector) do(ctx context.Context, method string, u *url.URL, body []byte) (*impl.Response, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), r)
	if err != nil {
		return nil, shifter.Wrap(shifter.InvalidParameter, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/xml")
	}
	return impl.Do(ctx, c.hc, req)
}

// trimID returns the last path element of a client query resource URL.
func trimID(resource string) string {
	return resource[strings.LastIndex(resource, "/")+1:]
}
