// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

package loki

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/korrel8r/shifter/pkg/compiler"
	"github.com/korrel8r/shifter/pkg/pattern"
	"github.com/korrel8r/shifter/pkg/results"
	"github.com/korrel8r/shifter/pkg/shifter"
	"github.com/korrel8r/shifter/pkg/transmit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

func translate(t *testing.T, s string) (*Query, error) {
	t.Helper()
	p, err := pattern.Parse(s)
	require.NoError(t, err)
	table, err := Module.Mapping("")
	require.NoError(t, err)
	d := *Dialect
	d.Now = func() time.Time { return now }
	n, err := compiler.Compile(p, table, &d, compiler.Options{})
	if err != nil {
		return nil, err
	}
	return ParseQuery(n.Query)
}

func TestDialect(t *testing.T) {
	for _, x := range []struct {
		pattern, want string
	}{
		{`[x-oca-event:severity = 'error']`, `level = "error"`},
		{`[ipv4-addr:value = '10.0.0.1' AND network-traffic:dst_port > 1024]`,
			`(src_ip = "10.0.0.1" or dst_ip = "10.0.0.1") and dst_port > 1024`},
		{`[x-oca-asset:namespace IN ('a', 'b.c')]`, `kubernetes_namespace_name =~ "a|b\\.c"`},
		{`[user-account:user_id LIKE 'adm%']`, `user =~ "adm.*"`},
		{`[x-oca-asset:hostname MATCHES '^web-[0-9]+$']`, `hostname =~ "^web-[0-9]+$"`},
		{`[x-oca-event:module = 'a' OR x-oca-event:module = 'b']`, `job = "a" or job = "b"`},
	} {
		t.Run(x.pattern, func(t *testing.T) {
			q, err := translate(t, x.pattern)
			require.NoError(t, err)
			assert.Equal(t, Selector+" | json | "+x.want, q.LogQL)
			assert.Equal(t, 100, q.Limit)
			assert.True(t, now.Equal(q.End))
			assert.True(t, now.Add(-time.Hour).Equal(q.Start))
		})
	}

	_, err := translate(t, `[x-oca-event:severity NOT = 'error']`)
	assert.ErrorIs(t, err, &compiler.CompileError{Kind: compiler.UnsupportedOperator})
	_, err = translate(t, `[x-oca-event:original = 'x']`)
	assert.ErrorIs(t, err, &compiler.CompileError{Kind: compiler.UnmappedField})
	_, err = translate(t, `[x-oca-asset:hostname MATCHES '(']`)
	assert.ErrorIs(t, err, &compiler.CompileError{Kind: compiler.InvalidValue})
}

func TestParseQuery(t *testing.T) {
	q, err := ParseQuery(`{app="x"} |= "error"`)
	require.NoError(t, err)
	assert.Equal(t, &Query{LogQL: `{app="x"} |= "error"`}, q)

	q, err = ParseQuery(`{"logql":"{app=\"x\"}","start":"2024-01-01T00:00:00Z","limit":5}`)
	require.NoError(t, err)
	assert.Equal(t, &Query{LogQL: `{app="x"}`, Start: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Limit: 5}, q)

	for _, s := range []string{``, `{"logql":""}`, `{"logql":`} {
		_, err = ParseQuery(s)
		assert.Equal(t, shifter.InvalidQuery, shifter.KindOf(err), "%q", s)
	}
}

const streams = `{"status":"success","data":{"resultType":"streams","result":[
	{"stream":{"job":"web","level":"error","src_ip":"10.0.0.1","dst_port":"443","user":"alice"},
	 "values":[["1714979289000000000","first"],["1714979291000000000","third"]]},
	{"stream":{"job":"db","level":"info"},"values":[["1714979290000000000","second"]]}]}}`

type fakeLoki struct {
	*httptest.Server
	params []url.Values
}

func newFakeLoki(t *testing.T) *fakeLoki {
	f := &fakeLoki{}
	mux := http.NewServeMux()
	mux.HandleFunc("/loki/api/v1/query_range", func(w http.ResponseWriter, r *http.Request) {
		f.params = append(f.params, r.URL.Query())
		_, _ = w.Write([]byte(streams))
	})
	mux.HandleFunc("/loki/api/v1/labels", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"success","data":["job"]}`))
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeLoki) driver(t *testing.T) *transmit.Driver {
	t.Helper()
	u, err := url.Parse(f.URL)
	require.NoError(t, err)
	port, _ := strconv.Atoi(u.Port())
	c, err := Module.Connector(shifter.Connection{Host: u.Hostname(), Port: port, Scheme: "http"}, shifter.Credentials{})
	require.NoError(t, err)
	return transmit.New(Module.Name(), c, nil)
}

func TestConnector(t *testing.T) {
	ctx := context.Background()
	f := newFakeLoki(t)
	d := f.driver(t)

	e := d.Ping(ctx)
	require.True(t, e.Success, e.Error)

	const q = `{"logql":"{job=~\".+\"} | json","start":"2024-05-06T06:08:09Z","end":"2024-05-06T07:08:09Z","limit":100}`
	s, e := d.Submit(ctx, q)
	require.True(t, e.Success, e.Error)
	assert.Equal(t, transmit.Completed, s.State)
	qr := e.Data.(*shifter.QueryResult)
	assert.Equal(t, q, qr.SearchID)
	require.Len(t, qr.Rows, 3)
	assert.Equal(t, []any{"first", "second", "third"}, []any{qr.Rows[0]["message"], qr.Rows[1]["message"], qr.Rows[2]["message"]})
	assert.Equal(t, "2024-05-06T07:08:09.000Z", qr.Rows[0]["timestamp"])
	assert.Equal(t, "100", f.params[0].Get("limit"))
	assert.Equal(t, `{job=~".+"} | json`, f.params[0].Get("query"))
	assert.Equal(t, "1714975689000000000", f.params[0].Get("start"))

	// The fake ignores the limit, the connector skips the offset.
	e = d.Results(ctx, s, 2, 2)
	require.True(t, e.Success, e.Error)
	assert.Len(t, e.Data, 1)
	assert.Equal(t, transmit.Exhausted, s.State)
	assert.Equal(t, "4", f.params[1].Get("limit"))

	// Plain LogQL.
	_, e = d.Submit(ctx, `{job="web"}`)
	require.True(t, e.Success, e.Error)
	assert.Empty(t, f.params[2].Get("start"))

	// Pages do not extend past the query limit.
	s, e = d.Submit(ctx, `{"logql":"{job=\"web\"}","limit":3}`)
	require.True(t, e.Success, e.Error)
	e = d.Results(ctx, s, 2, 5)
	require.True(t, e.Success, e.Error)
	assert.Equal(t, "3", f.params[4].Get("limit"))
}

func TestResults(t *testing.T) {
	table, err := Module.Mapping("")
	require.NoError(t, err)
	row := shifter.Row{
		"timestamp": "2024-05-06T07:08:09.000Z",
		"message":   "connection refused",
		"labels":    map[string]any{"level": "error", "src_ip": "10.0.0.1", "dst_port": "443", "stream": "stdout"},
	}
	obs, warnings, _ := results.Map([]shifter.Row{row}, table, results.Options{}).Collect()
	require.Len(t, obs, 1)
	assert.Equal(t, []string{"unmapped field: labels.stream"}, warnings)
	assert.Equal(t, "2024-05-06T07:08:09.000Z", obs[0]["first_observed"])
	assert.Equal(t, "2024-05-06T07:08:09.000Z", obs[0]["last_observed"])

	byType := map[string]map[string]any{}
	for _, o := range obs[0]["objects"].(map[string]any) {
		m := o.(map[string]any)
		byType[m["type"].(string)] = m
	}
	assert.Equal(t, map[string]any{"type": "x-oca-event", "original": "connection refused", "severity": "error"}, byType["x-oca-event"])
	assert.Equal(t, "10.0.0.1", byType["ipv4-addr"]["value"])
	nt := byType["network-traffic"]
	assert.Equal(t, int64(443), nt["dst_port"])
	assert.NotEmpty(t, nt["src_ref"])
}
