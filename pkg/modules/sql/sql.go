// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

// package sql is the module for security events stored in a SQL database table.
//
// # Query
//
// Patterns compile to a SELECT on the events table, for example:
//
//	SELECT event_time, src_ip FROM events WHERE (src_ip = '10.0.0.1' OR dst_ip = '10.0.0.1')
//	AND event_time >= '2024-05-06T07:03:09.000Z' AND event_time <= '2024-05-06T07:08:09.000Z' LIMIT 1000
//
// The default data mapper produces PostgreSQL, the "sqlite" data mapper produces SQLite.
// The two differ only in the MATCHES operator: `~` for PostgreSQL, `REGEXP` for SQLite.
// Event times are compared as text in [mapping.TimestampFormat].
//
// # Connector
//
// The connector is synchronous. The search ID is the native query, every results call re-runs the
// query for the requested page.
//
// Connection options:
//   - driver: "postgres" (default) or "sqlite3".
//   - database: the database name for postgres, the database file or URI for sqlite3.
//   - sslmode: postgres SSL mode, default "verify-full", or "require" if selfSignedCert is set.
//
// Credentials: username and password for postgres.
package sql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"embed"
	"errors"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/korrel8r/shifter/internal/pkg/logging"
	"github.com/korrel8r/shifter/pkg/compiler"
	"github.com/korrel8r/shifter/pkg/mapping"
	"github.com/korrel8r/shifter/pkg/pattern"
	"github.com/korrel8r/shifter/pkg/shifter"
	"github.com/korrel8r/shifter/pkg/shifter/impl"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

var (
	log = logging.Log().WithName("sql")

	//go:embed mappings
	mappings embed.FS

	// Module is the sql module.
	Module = newModule()

	// Validate implementation of interfaces.
	_ shifter.Module         = Module
	_ shifter.MapperDialects = Module
	_ shifter.Connector      = &Connector{}
	_ io.Closer              = &Connector{}
)

const (
	// Table queried by the dialects.
	Table = "events"
	// SQLite is the data mapper name for the SQLite dialect.
	SQLite = "sqlite"
	// DefaultLimit is the result limit used when none is given.
	DefaultLimit = 1000
	// SQLiteDriver is the database/sql driver name for SQLite with a REGEXP function.
	SQLiteDriver = "sqlite3_regexp"
)

var (
	// PostgresDialect for PostgreSQL.
	PostgresDialect = newDialect("postgres", "%[1]s ~ %[2]s")
	// SQLiteDialect for SQLite.
	SQLiteDialect = newDialect("sqlite", "%[1]s REGEXP %[2]s")

	// DefaultFields is the default projection.
	DefaultFields = []string{
		"event_time", "action", "src_ip", "dst_ip", "src_port", "dst_port", "protocol",
		"user_name", "process_name", "process_pid", "file_name", "file_hash", "host_name",
	}
)

func init() {
	sql.Register(SQLiteDriver, &sqlite3.SQLiteDriver{
		ConnectHook: func(c *sqlite3.SQLiteConn) error {
			return c.RegisterFunc("regexp", regexp.MatchString, true)
		},
	})
}

func newDialect(name, matches string) *compiler.Dialect {
	operators := map[pattern.Operator]string{pattern.MATCHES: matches}
	for op, f := range compiler.SQLOperators {
		operators[op] = f
	}
	return &compiler.Dialect{
		Name:             name,
		Operators:        operators,
		Not:              "NOT %[1]s",
		And:              " AND ",
		Or:               " OR ",
		DefaultFields:    DefaultFields,
		DefaultLimit:     DefaultLimit,
		DefaultTimerange: 5,
		Template: compiler.MustTemplate(name,
			`SELECT {{join ", " .Fields}} FROM `+Table+` WHERE `+
				`{{if .Start.IsZero}}{{.Where}}{{else}}({{.Where}})`+
				` AND event_time >= '{{.Start.UTC.Format "`+mapping.TimestampFormat+`"}}'`+
				` AND event_time <= '{{.Stop.UTC.Format "`+mapping.TimestampFormat+`"}}'{{end}}`+
				`{{with .Limit}} LIMIT {{.}}{{end}}`),
	}
}

type module struct{ impl.Module }

func newModule() *module {
	tables := impl.MustLoad(mappings, "mappings")
	sqlite, err := mapping.New(SQLite, tables["default"].Entries()...)
	if err != nil {
		panic(err)
	}
	tables[SQLite] = sqlite
	return &module{impl.NewModule("sql", "Security events in a PostgreSQL or SQLite table", PostgresDialect, "default", tables)}
}

func (m *module) MapperDialect(dataMapper string) *compiler.Dialect {
	if dataMapper == SQLite {
		return SQLiteDialect
	}
	return PostgresDialect
}

func (m *module) Connector(conn shifter.Connection, creds shifter.Credentials) (shifter.Connector, error) {
	driverName, dsn, err := dataSource(conn, creds)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, shifter.OptionsError{Option: "connection", Msg: err.Error()}
	}
	return NewConnector(db, driverName), nil
}

// dataSource returns the driver name and data source name for a connection.
func dataSource(conn shifter.Connection, creds shifter.Credentials) (driverName, dsn string, err error) {
	switch conn.Option("driver", "postgres") {
	case "postgres":
		u := url.URL{Scheme: "postgres", Host: conn.Host, Path: "/" + conn.Option("database", "")}
		if conn.Port != 0 {
			u.Host = conn.Host + ":" + strconv.Itoa(conn.Port)
		}
		if creds.Username != "" {
			u.User = url.UserPassword(creds.Username, creds.Password)
		}
		sslmode := "verify-full"
		if conn.SelfSignedCert {
			sslmode = "require"
		}
		q := url.Values{"sslmode": {conn.Option("sslmode", sslmode)}}
		if conn.Timeout > 0 {
			q.Set("connect_timeout", strconv.Itoa(conn.Timeout))
		}
		u.RawQuery = q.Encode()
		return "postgres", u.String(), nil
	case "sqlite3":
		db := conn.Option("database", "")
		if db == "" {
			return "", "", shifter.OptionsError{Option: "database", Msg: "sqlite3 requires a database file"}
		}
		return SQLiteDriver, db, nil
	default:
		return "", "", shifter.OptionsError{Option: "driver", Msg: fmt.Sprintf("unknown SQL driver %q, expected postgres or sqlite3", conn.Option("driver", ""))}
	}
}

// Connector runs queries with database/sql.
type Connector struct {
	db         *sql.DB
	driverName string
}

// NewConnector returns a connector for db, driverName is the name db was opened with.
func NewConnector(db *sql.DB, driverName string) *Connector {
	return &Connector{db: db, driverName: driverName}
}

func (c *Connector) IsAsync() bool { return false }

// Close the database.
func (c *Connector) Close() error { return c.db.Close() }

func (c *Connector) Ping(ctx context.Context) error { return convertError(c.db.PingContext(ctx)) }

func (c *Connector) Query(ctx context.Context, query string) (*shifter.QueryResult, error) {
	rows, err := c.query(ctx, trimQuery(query))
	if err != nil {
		return nil, err
	}
	return &shifter.QueryResult{SearchID: query, Rows: rows}, nil
}

// Results re-runs the query for rows offset to offset+length. Length <= 0 returns all rows from offset.
func (c *Connector) Results(ctx context.Context, searchID string, offset, length int) ([]shifter.Row, error) {
	return c.query(ctx, c.page(trimQuery(searchID), max(offset, 0), length))
}

// page wraps a query to return one page of its rows.
func (c *Connector) page(query string, offset, length int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT * FROM (%v) AS page", query)
	switch {
	case length > 0:
		fmt.Fprintf(&b, " LIMIT %v", length)
	case c.driverName != "postgres":
		b.WriteString(" LIMIT -1") // SQLite requires LIMIT with OFFSET.
	}
	if offset > 0 || c.driverName != "postgres" {
		fmt.Fprintf(&b, " OFFSET %v", offset)
	}
	return b.String()
}

func (c *Connector) query(ctx context.Context, query string) ([]shifter.Row, error) {
	log.V(3).Info("Query", "query", query)
	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, convertError(err)
	}
	defer func() { _ = rows.Close() }()
	columns, err := rows.Columns()
	if err != nil {
		return nil, convertError(err)
	}
	result := []shifter.Row{}
	values := make([]any, len(columns))
	pointers := make([]any, len(columns))
	for i := range values {
		pointers[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(pointers...); err != nil {
			return nil, convertError(err)
		}
		row := shifter.Row{}
		for i, name := range columns {
			if values[i] != nil {
				row[name] = jsonValue(values[i])
			}
		}
		result = append(result, row)
	}
	return result, convertError(rows.Err())
}

// jsonValue converts a scanned value to a JSON-compatible value.
func jsonValue(v any) any {
	switch v := v.(type) {
	case []byte:
		return string(v)
	case int64:
		return float64(v)
	case float32:
		return float64(v)
	case time.Time:
		return v.UTC().Format(mapping.TimestampFormat)
	default:
		return v
	}
}

// trimQuery removes white space and a trailing semicolon so the query can be nested.
func trimQuery(q string) string {
	return strings.TrimSuffix(strings.TrimSpace(q), ";")
}

// convertError classifies database errors.
func convertError(err error) error {
	if err == nil {
		return nil
	}
	var (
		pe *pq.Error
		se sqlite3.Error
	)
	kind := shifter.KindOf(err)
	switch {
	case errors.As(err, &pe):
		switch pe.Code.Class() {
		case "42", "22": // Syntax error or access rule violation, data exception.
			kind = shifter.InvalidQuery
		case "28": // Invalid authorization.
			kind = shifter.Auth
		case "08": // Connection exception.
			kind = shifter.Network
		case "57":
			if pe.Code == "57014" { // query_canceled
				kind = shifter.Timeout
			}
		}
	case errors.As(err, &se):
		switch se.Code {
		case sqlite3.ErrError, sqlite3.ErrRange, sqlite3.ErrMismatch:
			kind = shifter.InvalidQuery
		case sqlite3.ErrAuth, sqlite3.ErrPerm:
			kind = shifter.Auth
		case sqlite3.ErrCantOpen, sqlite3.ErrNotADB:
			kind = shifter.NotFound
		case sqlite3.ErrBusy, sqlite3.ErrLocked, sqlite3.ErrInterrupt:
			kind = shifter.Timeout
		}
	case errors.Is(err, driver.ErrBadConn):
		kind = shifter.Network
	}
	return &shifter.Error{Kind: kind, Msg: "sql", Err: err}
}
