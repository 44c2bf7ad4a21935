// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

// package api implements a REST API for shifter.
//
// Endpoints expect JSON bodies and return JSON values.
// Errors are returned as a failed [shifter.Envelope] with an HTTP error status.
//
// # API Base path
//
// REST API paths are prefixed with
//
//	/api/v1
//
// # GET /modules
//
// List of modules.
//   - Response: []shifter.ModuleInfo
//
// # POST /translate/MODULE/query
//
// Translate a STIX pattern to native queries.
//   - Request: [TranslateRequest] with Pattern set.
//   - Response: translate.QueryResponse
//
// # POST /translate/MODULE/results
//
// Translate native result rows to a STIX bundle.
//   - Request: [TranslateRequest] with Rows set.
//   - Response: translate.ResultsResponse
//
// # POST /transmit/MODULE/OPERATION
//
// Run a transmission operation: ping, is_async, query, status, results or delete.
// Connector failures are reported in the envelope with status 200.
// If the request has no credentials, a bearer token in the Authorization header is used.
//   - Request: [TransmitRequest]
//   - Response: shifter.Envelope
//
// # POST /execute
//
// Search configured data sources for a STIX pattern.
//   - Request: [ExecuteRequest]
//   - Response: [ExecuteResponse]
//
// # GET /metrics
//
// Prometheus metrics, not under the base path.
package api

import (
	"github.com/korrel8r/shifter/pkg/execute"
	"github.com/korrel8r/shifter/pkg/shifter"
)

// BasePath is the versioned base path for the current version of the REST API.
const BasePath = "/api/v1"

// TranslateRequest body.
type TranslateRequest struct {
	// Pattern is the STIX pattern for a query translation.
	Pattern string `json:"pattern,omitempty"`
	// Rows are native results for a results translation.
	Rows []shifter.Row `json:"rows,omitempty"`
	// DataSource is the STIX identity of the data source for a results translation, generated if absent.
	DataSource map[string]any `json:"data_source,omitempty"`
	// Options for translation.
	Options shifter.Options `json:"options,omitzero"`
}

// TransmitRequest body.
type TransmitRequest struct {
	Connection    shifter.Connection    `json:"connection"`
	Configuration shifter.Configuration `json:"configuration,omitzero"`
	// Query is the native query for the query operation.
	Query string `json:"query,omitempty"`
	// SearchID for the status, results and delete operations.
	SearchID string `json:"search_id,omitempty"`
	// Offset and Length select a page for the results operation.
	Offset int `json:"offset,omitempty"`
	Length int `json:"length,omitempty"`
}

// ExecuteRequest body.
type ExecuteRequest struct {
	// Pattern is the STIX pattern to search for.
	Pattern string `json:"pattern"`
	// Sources lists the names of configured sources to search. All sources are searched if empty.
	Sources []string `json:"sources,omitempty"`
}

// ExecuteResponse has one result per source.
type ExecuteResponse struct {
	Results []*execute.Result `json:"results"`
	// Error is set if some sources failed.
	Error string `json:"error,omitempty"`
}
