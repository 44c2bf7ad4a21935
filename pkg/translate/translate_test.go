// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

package translate

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/korrel8r/shifter/internal/pkg/test/mock"
	"github.com/korrel8r/shifter/pkg/compiler"
	sqlmodule "github.com/korrel8r/shifter/pkg/modules/sql"
	"github.com/korrel8r/shifter/pkg/results"
	"github.com/korrel8r/shifter/pkg/shifter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTranslator(t *testing.T) *Translator {
	t.Helper()
	modules, err := shifter.NewModules(mock.NewModule("mock", nil))
	require.NoError(t, err)
	tr, err := New(modules, 0)
	require.NoError(t, err)
	n := 0
	tr.newID = func() string { n++; return fmt.Sprintf("00000000-0000-4000-8000-%012d", n) }
	tr.now = func() time.Time { return time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC) }
	return tr
}

func TestTranslator_Query(t *testing.T) {
	tr := newTranslator(t)
	ctx := context.Background()
	got, err := tr.Translate(ctx, Request{
		Module: "mock", Operation: Query,
		Data:    "[user-account:user_id = 'alice'] AND [network-traffic:src_port > 1024]",
		Options: shifter.Options{ResultLimit: 10},
	})
	require.NoError(t, err)
	assert.Equal(t, &QueryResponse{Queries: []string{"user = 'alice' AND src_port > 1024 LIMIT 10"}, Limit: 10}, got)

	// Parsed patterns are cached.
	assert.Equal(t, 1, tr.patterns.Len())
	_, err = tr.Query(ctx, "mock", "[user-account:user_id = 'alice'] AND [network-traffic:src_port > 1024]", shifter.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, tr.patterns.Len())
}

func TestTranslator_QueryErrors(t *testing.T) {
	tr := newTranslator(t)
	ctx := context.Background()
	for _, x := range []struct {
		r    Request
		kind shifter.ErrorKind
	}{
		{Request{Module: "nope", Operation: Query, Data: "[a:b = 1]"}, shifter.UnknownModule},
		{Request{Module: "mock", Operation: "explain"}, shifter.UnknownOperation},
		{Request{Module: "mock", Operation: Query, Data: "[a:b = 1"}, shifter.Parse},
		{Request{Module: "mock", Operation: Query, Data: "[file:name = 'x']"}, shifter.Compile},
		{Request{Module: "mock", Operation: Query, Data: "[user-account:user_id MATCHES 'x']"}, shifter.Compile},
		{Request{Module: "mock", Operation: Query, Data: "[user-account:user_id = 'x']", Options: shifter.Options{DataMapper: "nope"}}, shifter.InvalidOptions},
		{Request{Module: "mock", Operation: Query, Data: "[user-account:user_id = 'x']", Options: shifter.Options{ResultLimit: -1}}, shifter.InvalidOptions},
		{Request{Module: "mock", Operation: Results, Data: "{}"}, shifter.InvalidParameter},
		{Request{Module: "mock", Operation: Results, Data: "[]", DataSource: "not json"}, shifter.InvalidParameter},
		{Request{Module: "mock", Operation: Results, Data: "[]", DataSource: `{"type":"identity"}`}, shifter.InvalidParameter},
	} {
		t.Run(fmt.Sprintf("%v %v", x.r.Operation, x.r.Data), func(t *testing.T) {
			_, err := tr.Translate(ctx, x.r)
			require.Error(t, err)
			assert.Equal(t, x.kind, shifter.KindOf(err), err.Error())
		})
	}
	// An unmapped field is always an error, never a dropped filter.
	_, err := tr.Query(ctx, "mock", "[user-account:user_id = 'x' AND file:name = 'y']", shifter.Options{})
	assert.ErrorIs(t, err, &compiler.CompileError{Kind: compiler.UnmappedField})
}

func TestTranslator_Results(t *testing.T) {
	tr := newTranslator(t)
	identity := `{"type":"identity","id":"identity--f431f809-377b-45e0-aa1c-6a4751cae5ff","name":"mock","identity_class":"events"}`
	got, err := tr.Translate(context.Background(), Request{
		Module: "mock", Operation: Results, DataSource: identity,
		Data:    `[{"user":"alice","src_port":8080,"extra":"x"}]`,
		Options: shifter.Options{StixValidator: true},
	})
	require.NoError(t, err)
	r := got.(*ResultsResponse)
	assert.Equal(t, "bundle", r.Type)
	assert.Equal(t, "bundle--00000000-0000-4000-8000-000000000002", r.ID)
	require.Len(t, r.Objects, 2)
	assert.Equal(t, "identity--f431f809-377b-45e0-aa1c-6a4751cae5ff", r.Objects[0].(map[string]any)["id"])
	obs := r.Objects[1].(results.Observation)
	assert.Equal(t, "identity--f431f809-377b-45e0-aa1c-6a4751cae5ff", obs["created_by_ref"])
	assert.Equal(t, []string{"unmapped field: extra"}, r.Warnings)
	require.NotNil(t, r.Validation)
	assert.True(t, r.Validation.Valid, "%+v", r.Validation.Failures)

	b, err := json.Marshal(r)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"type":"bundle"`)
	assert.Contains(t, string(b), `"warnings":["unmapped field: extra"]`)

	// Generated identity when there is no data source.
	r, err = tr.Results(context.Background(), "mock", nil, nil, shifter.Options{})
	require.NoError(t, err)
	require.Len(t, r.Objects, 1)
	assert.Equal(t, "mock", r.Objects[0].(map[string]any)["name"])
	assert.Nil(t, r.Validation)
}

// Compiling a pattern and mapping a matching native row back keeps the type class of values.
func TestRoundTrip_TypeClass(t *testing.T) {
	tr := newTranslator(t)
	ctx := context.Background()
	for _, x := range []struct {
		pattern, query string
		row            string
		object, prop   string
		want           any
	}{
		{"[user-account:user_id = 'alice']", "user = 'alice'", `{"user":"alice"}`, "user-account", "user_id", "alice"},
		{"[network-traffic:src_port = 80]", "src_port = 80", `{"src_port":80}`, "network-traffic", "src_port", 80.0},
		{"[user-account:user_id = 'true']", "user = 'true'", `{"user":"true"}`, "user-account", "user_id", "true"},
	} {
		t.Run(x.pattern, func(t *testing.T) {
			q, err := tr.Query(ctx, "mock", x.pattern, shifter.Options{})
			require.NoError(t, err)
			assert.Equal(t, []string{x.query}, q.Queries)

			r, err := tr.Translate(ctx, Request{Module: "mock", Operation: Results, Data: "[" + x.row + "]"})
			require.NoError(t, err)
			obs := r.(*ResultsResponse).Objects[1].(results.Observation)
			objects := obs["objects"].(map[string]any)
			require.Len(t, objects, 1)
			o := objects["0"].(map[string]any)
			assert.Equal(t, x.object, o["type"])
			assert.IsType(t, x.want, o[x.prop])
			assert.Equal(t, x.want, o[x.prop])
		})
	}
}

// A pattern compiled for the sql module and run on a database maps back to values of the pattern's type class.
func TestRoundTrip_SQL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.db")
	db, err := sql.Open(sqlmodule.SQLiteDriver, path)
	require.NoError(t, err)
	for _, stmt := range []string{
		`CREATE TABLE events (event_time TEXT, user_name TEXT, dst_port INTEGER, process_name TEXT, process_pid INTEGER)`,
		`INSERT INTO events VALUES
			('2024-01-01T10:00:00.000Z', 'alice', 22, 'sshd', 101),
			('2024-01-01T11:00:00.000Z', 'bob', 443, 'nginx', 102)`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	modules, err := shifter.NewModules(sqlmodule.Module)
	require.NoError(t, err)
	tr, err := New(modules, 0)
	require.NoError(t, err)
	c, err := sqlmodule.Module.Connector(shifter.Connection{Options: map[string]any{"driver": "sqlite3", "database": path}}, shifter.Credentials{})
	require.NoError(t, err)
	defer func() { _ = c.(io.Closer).Close() }()

	ctx := context.Background()
	options := shifter.Options{DataMapper: sqlmodule.SQLite, SelectFields: []string{"event_time", "user_name", "dst_port", "process_pid"}}
	const during = ` START t'2024-01-01T00:00:00Z' STOP t'2024-01-02T00:00:00Z'`
	for _, x := range []struct {
		pattern      string
		object, prop string
		want         any
	}{
		{`[user-account:user_id = 'alice']`, "user-account", "user_id", "alice"},
		{`[network-traffic:dst_port = 22]`, "network-traffic", "dst_port", int64(22)},
		{`[process:pid = 101]`, "process", "pid", int64(101)},
	} {
		t.Run(x.pattern, func(t *testing.T) {
			q, err := tr.Query(ctx, "sql", x.pattern+during, options)
			require.NoError(t, err)
			require.Len(t, q.Queries, 1)
			qr, err := c.Query(ctx, q.Queries[0])
			require.NoError(t, err)
			require.Len(t, qr.Rows, 1, q.Queries[0])

			r, err := tr.Results(ctx, "sql", nil, qr.Rows, options)
			require.NoError(t, err)
			assert.Empty(t, r.Warnings)
			require.Len(t, r.Objects, 2)
			var got map[string]any
			for _, o := range r.Objects[1].(results.Observation)["objects"].(map[string]any) {
				if m := o.(map[string]any); m["type"] == x.object {
					got = m
				}
			}
			require.NotNil(t, got, "no %v object", x.object)
			assert.IsType(t, x.want, got[x.prop])
			assert.Equal(t, x.want, got[x.prop])
		})
	}
}
