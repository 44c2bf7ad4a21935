// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

// package shifter contains the interfaces implemented by data source modules.
//
// A 'module' is a package that implements [Module] and [Connector] for one data source product.
// A module provides:
//   - a query [compiler.Dialect] and [mapping.Table] to translate STIX patterns to native queries.
//   - the same mapping tables to translate native results to STIX observations.
//   - a [Connector] to run native queries against the data source.
//
// There are some optional interfaces that a connector implements if they are relevant to the data source:
// [StatusConnector] for asynchronous searches, [Deleter] to cancel searches.
//
// The transmission driver in [github.com/korrel8r/shifter/pkg/transmit] is written once against these
// interfaces, new modules are pure additions.
package shifter

import (
	"context"

	"github.com/korrel8r/shifter/pkg/compiler"
	"github.com/korrel8r/shifter/pkg/mapping"
)

// Module is a named bundle of a query dialect, mapping tables and a connector factory.
//
// Must be implemented by a shifter module.
type Module interface {
	Name() string        // Name of the module, used to select it.
	Description() string // Description for human-readable documentation.
	// Dialect for compiling queries.
	Dialect() *compiler.Dialect
	// Mapping returns the mapping table for a data mapper name, "" is the default mapping.
	Mapping(dataMapper string) (*mapping.Table, error)
	// Connector creates a connector for a data source.
	Connector(Connection, Credentials) (Connector, error)
}

// Connector runs native queries against a data source.
//
// Must be implemented by a shifter module.
type Connector interface {
	// Ping checks that the data source is reachable and the credentials are accepted.
	Ping(ctx context.Context) error
	// Query submits a native query.
	// An asynchronous connector returns a SearchID, a synchronous connector returns the result Rows,
	// and optionally a SearchID.
	Query(ctx context.Context, query string) (*QueryResult, error)
	// Results returns a page of results for a search. Offset and length are passed through
	// unchanged, their exact meaning is connector-defined.
	Results(ctx context.Context, searchID string, offset, length int) ([]Row, error)
	// IsAsync is a static declaration: true if queries run asynchronously and need status polling.
	IsAsync() bool
}

// StatusConnector is implemented by asynchronous connectors.
type StatusConnector interface {
	// Status returns the status of a search.
	Status(ctx context.Context, searchID string) (Status, error)
}

// Deleter is optionally implemented by connectors that can cancel or delete a search.
type Deleter interface {
	Delete(ctx context.Context, searchID string) error
}

// Mappers is optionally implemented by modules that have alternate mapping tables.
type Mappers interface {
	// Mappers returns the names of the available data mappers.
	Mappers() []string
}

// MapperDialects is optionally implemented by modules where the query dialect depends on the data mapper,
// for example when each mapper queries a different native table.
type MapperDialects interface {
	// MapperDialect returns the dialect for a data mapper name, "" is the default mapping.
	MapperDialect(dataMapper string) *compiler.Dialect
}

// DialectFor returns the dialect of m for a data mapper.
func DialectFor(m Module, dataMapper string) *compiler.Dialect {
	if md, ok := m.(MapperDialects); ok {
		if d := md.MapperDialect(dataMapper); d != nil {
			return d
		}
	}
	return m.Dialect()
}

// Row is a native result record. Values are JSON-compatible: string, float64, bool, nil, []any, map[string]any.
type Row = map[string]any

// QueryResult is returned by [Connector.Query].
type QueryResult struct {
	SearchID string `json:"search_id,omitempty"`
	Rows     []Row  `json:"rows,omitempty"`
}

// SearchStatus is the state of a search reported by a connector.
type SearchStatus string

const (
	Running   SearchStatus = "running"
	Completed SearchStatus = "completed"
	Failed    SearchStatus = "error"
	TimedOut  SearchStatus = "timeout"
	Cancelled SearchStatus = "cancelled"
)

// Status of an asynchronous search.
type Status struct {
	Status SearchStatus `json:"status"`
	// Progress percentage, 0-100.
	Progress int    `json:"progress"`
	Message  string `json:"message,omitempty"`
}
