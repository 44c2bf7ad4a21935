// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

// package mock is an in-memory shifter module for testing.
//
// The mock [Connector] serves a fixed set of rows. It can be synchronous or asynchronous,
// follows a script of statuses, and can be told to fail or panic on any operation.
package mock

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/korrel8r/shifter/pkg/compiler"
	"github.com/korrel8r/shifter/pkg/mapping"
	"github.com/korrel8r/shifter/pkg/shifter"
	"github.com/korrel8r/shifter/pkg/shifter/impl"
)

var (
	// Validate implementation of interfaces.
	_ shifter.Module          = &Module{}
	_ shifter.Connector       = &Connector{}
	_ shifter.StatusConnector = &Connector{}
	_ shifter.Deleter         = &DeleteConnector{}
)

// Operation names used as keys for [Connector.Errors] and [Connector.Panics].
const (
	Ping    = "ping"
	Query   = "query"
	Status  = "status"
	Results = "results"
	Delete  = "delete"
)

// Connector is a mock connector, it does not implement [shifter.Deleter].
// Modify fields before use, not concurrently with calls.
type Connector struct {
	Async bool
	// Rows returned by Results, or by Query if not Async.
	Rows []shifter.Row
	// SearchID returned by Query, may be empty for a synchronous connector.
	SearchID string
	// Statuses returned by successive Status calls, the last one repeats. Default is Completed.
	Statuses []shifter.Status
	// Errors to return from operations.
	Errors map[string]error
	// Panics lists operations that panic.
	Panics []string

	mu     sync.Mutex
	calls  []string
	status int
}

// DeleteConnector is a mock connector that can delete searches.
type DeleteConnector struct{ *Connector }

func (c *DeleteConnector) Delete(_ context.Context, searchID string) error {
	return c.call(Delete, searchID)
}

func (c *Connector) call(op, arg string) error {
	c.mu.Lock()
	c.calls = append(c.calls, fmt.Sprintf("%v(%v)", op, arg))
	c.mu.Unlock()
	if slices.Contains(c.Panics, op) {
		panic(fmt.Sprintf("mock %v panic", op))
	}
	return c.Errors[op]
}

// Calls returns the operations called so far, formatted as "op(arg)".
func (c *Connector) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.calls)
}

func (c *Connector) IsAsync() bool { return c.Async }

func (c *Connector) Ping(context.Context) error { return c.call(Ping, "") }

func (c *Connector) Query(_ context.Context, query string) (*shifter.QueryResult, error) {
	if err := c.call(Query, query); err != nil {
		return nil, err
	}
	if c.Async {
		return &shifter.QueryResult{SearchID: c.SearchID}, nil
	}
	return &shifter.QueryResult{SearchID: c.SearchID, Rows: c.Rows}, nil
}

func (c *Connector) Status(_ context.Context, searchID string) (shifter.Status, error) {
	if err := c.call(Status, searchID); err != nil {
		return shifter.Status{}, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.Statuses) == 0 {
		return shifter.Status{Status: shifter.Completed, Progress: 100}, nil
	}
	s := c.Statuses[min(c.status, len(c.Statuses)-1)]
	c.status++
	return s, nil
}

// Results returns Rows[offset:offset+length], clipped to the available rows.
func (c *Connector) Results(_ context.Context, searchID string, offset, length int) ([]shifter.Row, error) {
	if err := c.call(Results, fmt.Sprintf("%v,%v,%v", searchID, offset, length)); err != nil {
		return nil, err
	}
	start := min(max(offset, 0), len(c.Rows))
	end := min(start+max(length, 0), len(c.Rows))
	return c.Rows[start:end], nil
}

// Module is a mock module with a SQL-like dialect and a small mapping table.
type Module struct {
	impl.Module
	// Conn is returned by the Connector method.
	Conn shifter.Connector
}

// Table is the default mock mapping table.
var Table = func() *mapping.Table {
	t, err := mapping.New("default",
		mapping.Entry{Path: "ipv4-addr:value", Fields: []mapping.Field{{Name: "src_ip", Object: "src"}, {Name: "dst_ip", Object: "dst"}}},
		mapping.Entry{Path: "network-traffic:src_port", Fields: []mapping.Field{{Name: "src_port", Object: "nt"}}},
		mapping.Entry{Path: "network-traffic:dst_port", Fields: []mapping.Field{{Name: "dst_port", Object: "nt"}}},
		mapping.Entry{Path: "network-traffic:src_ref", Fields: []mapping.Field{{Name: "src_ip", Object: "nt", Ref: "src", Direction: mapping.Results}}},
		mapping.Entry{Path: "user-account:user_id", Fields: []mapping.Field{{Name: "user"}}},
		mapping.Entry{Path: "observed-data:first_observed", Transform: "EpochToTimestamp", Fields: []mapping.Field{{Name: "start", Direction: mapping.Results}}},
	)
	if err != nil {
		panic(err)
	}
	return t
}()

// Dialect is the mock query dialect.
var Dialect = &compiler.Dialect{
	Name:      "mock",
	Operators: compiler.SQLOperators,
	Not:       "NOT %[1]s",
	And:       " AND ",
	Or:        " OR ",
	Template:  compiler.MustTemplate("mock", `{{.Where}}{{with .Limit}} LIMIT {{.}}{{end}}`),
}

// NewModule returns a mock module that returns c from its Connector method.
func NewModule(name string, c shifter.Connector) *Module {
	return &Module{
		Module: impl.NewModule(name, "mock module "+name, Dialect, "default", map[string]*mapping.Table{
			"default":  Table,
			"identity": mapping.Identity("identity"),
		}),
		Conn: c,
	}
}

func (m *Module) Connector(shifter.Connection, shifter.Credentials) (shifter.Connector, error) {
	if m.Conn == nil {
		return nil, fmt.Errorf("mock module %v has no connector", m.Name())
	}
	return m.Conn, nil
}
