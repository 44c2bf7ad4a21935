// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

// package mcp provides an MCP server and argument structures for MCP client calls.
package mcp

import (
	"context"
	"net/http"
	"time"

	"github.com/korrel8r/shifter/pkg/api"
	"github.com/korrel8r/shifter/pkg/build"
	"github.com/korrel8r/shifter/pkg/results"
	"github.com/korrel8r/shifter/pkg/shifter"
	"github.com/korrel8r/shifter/pkg/translate"
	"github.com/korrel8r/shifter/pkg/transmit"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const StreamablePath = "/mcp"

// Tool names.
const (
	ListModules      = "list_modules"
	TranslateQuery   = "translate_query"
	TranslateResults = "translate_results"
	Transmit         = "transmit"
	Execute          = "execute"
)

type ModulesResult struct {
	Modules []shifter.ModuleInfo `json:"modules"`
}

type QueryParams struct {
	Module  string          `json:"module" jsonschema:"Name of the module that translates the pattern"`
	Pattern string          `json:"pattern" jsonschema:"STIX pattern, for example [ipv4-addr:value = '1.2.3.4']"`
	Options shifter.Options `json:"options,omitzero" jsonschema:"Translation options"`
}

type QueryResult struct {
	Queries []string `json:"queries" jsonschema:"Native queries"`
	Start   string   `json:"start,omitempty" jsonschema:"Start of the time range, RFC3339"`
	Stop    string   `json:"stop,omitempty" jsonschema:"Stop of the time range, RFC3339"`
	Limit   int      `json:"limit,omitempty"`
	Notes   []string `json:"notes,omitempty" jsonschema:"Notes about approximations in the translation"`
}

type ResultsParams struct {
	Module     string          `json:"module" jsonschema:"Name of the module that produced the results"`
	Rows       []shifter.Row   `json:"rows" jsonschema:"Native result rows, JSON objects"`
	DataSource map[string]any  `json:"data_source,omitempty" jsonschema:"STIX identity object for the data source"`
	Options    shifter.Options `json:"options,omitzero" jsonschema:"Translation options"`
}

type ResultsResult struct {
	Bundle     translate.Bundle          `json:"bundle" jsonschema:"STIX bundle of the data source identity and observed-data objects"`
	Warnings   []string                  `json:"warnings,omitempty"`
	Validation *results.ValidationReport `json:"validation,omitempty"`
}

type TransmitParams struct {
	Module    string             `json:"module" jsonschema:"Name of the module"`
	Operation transmit.Operation `json:"operation" jsonschema:"One of ping, is_async, query, status, results, delete"`
	Request   api.TransmitRequest `json:"request" jsonschema:"Connection, credentials and operation arguments"`
}

type ExecuteParams = api.ExecuteRequest
type ExecuteResult = api.ExecuteResponse

type Server struct {
	*mcp.Server
	API *api.API
}

// NewServer returns an MCP server for an API instance.
func NewServer(a *api.API) *Server {
	s := mcp.NewServer(&mcp.Implementation{Name: "shifter", Title: "Shifter MCP Server", Version: build.Version}, nil)
	addTools(a, s)
	return &Server{Server: s, API: a}
}

func addTools(a *api.API, s *mcp.Server) {
	mcp.AddTool(s, &mcp.Tool{
		Name: ListModules,
		Description: `
Returns the list of shifter modules.
A module translates STIX patterns to the query language of one data source product,
and translates results from that product back to STIX observations.
`,
	},
		func(ctx context.Context, req *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, ModulesResult, error) {
			return nil, ModulesResult{Modules: a.Translator.Modules().Infos()}, nil
		})

	mcp.AddTool(s, &mcp.Tool{
		Name: TranslateQuery,
		Description: `
Translates a STIX pattern to native queries for a module.
The pattern is a boolean expression of comparisons on object paths, like [ipv4-addr:value = '1.2.3.4'].
`,
	},
		func(ctx context.Context, req *mcp.CallToolRequest, p QueryParams) (*mcp.CallToolResult, QueryResult, error) {
			q, err := a.Translator.Query(ctx, p.Module, p.Pattern, p.Options)
			if err != nil {
				return nil, QueryResult{}, err
			}
			return nil, QueryResult{
				Queries: q.Queries,
				Start:   timeString(q.Start),
				Stop:    timeString(q.Stop),
				Limit:   q.Limit,
				Notes:   q.Notes,
			}, nil
		})

	mcp.AddTool(s, &mcp.Tool{
		Name: TranslateResults,
		Description: `
Translates native result rows from a data source to a STIX bundle of observed-data objects.
Fields that have no mapping are reported as warnings.
`,
	},
		func(ctx context.Context, req *mcp.CallToolRequest, p ResultsParams) (*mcp.CallToolResult, ResultsResult, error) {
			r, err := a.Translator.Results(ctx, p.Module, p.DataSource, p.Rows, p.Options)
			if err != nil {
				return nil, ResultsResult{}, err
			}
			return nil, ResultsResult{Bundle: r.Bundle, Warnings: r.Warnings, Validation: r.Validation}, nil
		})

	mcp.AddTool(s, &mcp.Tool{
		Name: Transmit,
		Description: `
Runs an operation against a data source and returns a result envelope.
Operations: ping, is_async, query (submit a native query), status, results (page of rows), delete.
An asynchronous search must have status completed before results can be fetched.
`,
	},
		func(ctx context.Context, req *mcp.CallToolRequest, p TransmitParams) (*mcp.CallToolResult, shifter.Envelope, error) {
			e, err := a.RunTransmit(ctx, p.Module, p.Operation, p.Request)
			if err == nil && e.Code == shifter.UnknownOperation {
				// A bad tool call, not a data source failure.
				return nil, shifter.Envelope{}, e.Err()
			}
			return nil, e, err
		})

	if len(a.Sources) > 0 {
		mcp.AddTool(s, &mcp.Tool{
			Name: Execute,
			Description: `
Searches configured data sources for a STIX pattern.
Translates, runs and waits for the search on each source, returns a STIX bundle per source.
`,
		},
			func(ctx context.Context, req *mcp.CallToolRequest, p ExecuteParams) (*mcp.CallToolResult, ExecuteResult, error) {
				sources, err := a.SourcesNamed(p.Sources)
				if err != nil {
					return nil, ExecuteResult{}, err
				}
				results, err := a.Executor.Execute(ctx, p.Pattern, sources)
				r := ExecuteResult{Results: results}
				if err != nil {
					r.Error = err.Error()
				}
				return nil, r, nil
			})
	}
}

// ServeStdio runs an MCP server, it returns when the client disconnects or the context is canceled.
func (s *Server) ServeStdio(ctx context.Context) error {
	return s.Run(ctx, &mcp.StdioTransport{})
}

// HTTPHandler a handler for the Streaming MCP protocol.
func (s *Server) HTTPHandler() http.Handler {
	// Use the same server for all requests. Server and API are concurrent-safe.
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.Server }, nil)
}

func timeString(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
