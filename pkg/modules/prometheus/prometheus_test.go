// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

package prometheus

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
	return translateOptions(t, s, compiler.Options{})
}

func translateOptions(t *testing.T, s string, o compiler.Options) (*Query, error) {
	t.Helper()
	p, err := pattern.Parse(s)
	require.NoError(t, err)
	table, err := Module.Mapping("")
	require.NoError(t, err)
	d := *Dialect
	d.Now = func() time.Time { return now }
	n, err := compiler.Compile(p, table, &d, o)
	if err != nil {
		return nil, err
	}
	return ParseQuery(n.Query)
}

func TestDialect(t *testing.T) {
	for _, x := range []struct {
		pattern, want string
	}{
		{`[x-oca-event:module = 'api']`, `{job="api"}`},
		{`[x-oca-event:module = 'api' AND x-oca-asset:hostname LIKE 'web-%']`, `{job="api",instance=~"web-.*"}`},
		{`[x-oca-asset:namespace IN ('a', 'b.c')]`, `{namespace=~"a|b\\.c"}`},
		{`[x-prometheus-metric:name = 'up' AND x-oca-asset:pod MATCHES 'api-[0-9]+']`, `{__name__="up",pod=~"api-[0-9]+"}`},
		{`[x-oca-event:module = 'api'] AND [x-oca-asset:pod = 'p']`, `{job="api",pod="p"}`},
	} {
		t.Run(x.pattern, func(t *testing.T) {
			q, err := translate(t, x.pattern)
			require.NoError(t, err)
			assert.Equal(t, x.want, q.PromQL)
			assert.True(t, now.Equal(q.Time), "%v", q.Time)
			assert.True(t, now.Add(-5*time.Minute).Equal(q.Start), "%v", q.Start)
			assert.Zero(t, q.Limit)
		})
	}

	for _, x := range []struct {
		pattern string
		kind    compiler.ErrorKind
	}{
		{`[x-oca-event:module = 'a' OR x-oca-event:module = 'b']`, compiler.UnsupportedOperator},
		{`[x-oca-event:module NOT = 'a']`, compiler.UnsupportedOperator},
		{`[x-oca-event:module > 'a']`, compiler.UnsupportedOperator},
		{`[x-prometheus-metric:value = 1]`, compiler.UnmappedField},
		// Every matcher matches the empty string, not a valid selector.
		{`[x-oca-event:module != 'api']`, compiler.InvalidQuery},
	} {
		t.Run(x.pattern, func(t *testing.T) {
			_, err := translate(t, x.pattern)
			assert.ErrorIs(t, err, &compiler.CompileError{Kind: x.kind})
		})
	}
}

func TestDialect_RangeAndLimit(t *testing.T) {
	q, err := translateOptions(t, `[x-oca-event:module = 'api'] START t'2024-01-01T00:00:00Z' STOP t'2024-01-02T00:00:00Z'`,
		compiler.Options{ResultLimit: 1})
	require.NoError(t, err)
	assert.Equal(t, `{job="api"}`, q.PromQL)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), q.Start.UTC())
	assert.Equal(t, time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC), q.Time.UTC())
	assert.Equal(t, 1, q.Limit)

	q, err = translateOptions(t, `[x-oca-event:module = 'api']`, compiler.Options{Timerange: 60})
	require.NoError(t, err)
	assert.Equal(t, time.Hour, q.Time.Sub(q.Start))
}

func TestParseQuery(t *testing.T) {
	q, err := ParseQuery(`up`)
	require.NoError(t, err)
	assert.Equal(t, &Query{PromQL: "up"}, q)
	for _, s := range []string{
		``,
		`{"time":"2024-01-01T00:00:00Z"}`,
		`{"promql":"up","limit":-1}`,
		`{"promql":"up","start":"2024-01-02T00:00:00Z","time":"2024-01-01T00:00:00Z"}`,
	} {
		_, err := ParseQuery(s)
		assert.Equal(t, shifter.InvalidQuery, shifter.KindOf(err), "%q", s)
	}
}

func TestStep(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, 345*time.Second, Step(start, start.Add(24*time.Hour)))
	assert.Equal(t, time.Second, Step(start, start.Add(time.Minute)))
	assert.Equal(t, time.Second, Step(start, start))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, validate(`sum by (job) (rate(http_requests_total{job="api"}[5m]))`))
	assert.Error(t, validate(`sum(`))
	assert.Error(t, validate(`1 + 1`))
	assert.Error(t, validate(``))
}

const vector = `{"status":"success","data":{"resultType":"vector","result":[
	{"metric":{"__name__":"up","job":"api","instance":"web-1"},"value":[1714979289,"1"]},
	{"metric":{"__name__":"up","job":"api","instance":"web-2"},"value":[1714979289,"0"]},
	{"metric":{"__name__":"up","job":"api","instance":"web-3"},"value":[1714979289,"1"]}]}}`

type fakeProm struct {
	*httptest.Server
	code      int
	body      string
	query, ts []string
	// Range query parameters: start, end, step.
	ranges [][3]string
}

func newFakeProm(t *testing.T) *fakeProm {
	f := &fakeProm{code: http.StatusOK, body: vector}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/query", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		f.query = append(f.query, r.Form.Get("query"))
		f.ts = append(f.ts, r.Form.Get("time"))
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.code)
		_, _ = w.Write([]byte(f.body))
	})
	mux.HandleFunc("/api/v1/query_range", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		f.query = append(f.query, r.Form.Get("query"))
		f.ranges = append(f.ranges, [3]string{r.Form.Get("start"), r.Form.Get("end"), r.Form.Get("step")})
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.code)
		_, _ = w.Write([]byte(f.body))
	})
	mux.HandleFunc("/api/v1/status/buildinfo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(f.code)
		_, _ = w.Write([]byte(`{"status":"success","data":{"version":"2.50.0","revision":"x","branch":"main","buildUser":"u","buildDate":"d","goVersion":"go1.25"}}`))
	})
	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Close)
	return f
}

func (f *fakeProm) driver(t *testing.T) *transmit.Driver {
	t.Helper()
	u, err := url.Parse(f.URL)
	require.NoError(t, err)
	port, _ := strconv.Atoi(u.Port())
	c, err := Module.Connector(shifter.Connection{Host: u.Hostname(), Port: port, Scheme: "http"}, shifter.Credentials{Token: "t"})
	require.NoError(t, err)
	c.(*Connector).now = func() time.Time { return now }
	return transmit.New(Module.Name(), c, nil)
}

func TestConnector(t *testing.T) {
	ctx := context.Background()
	f := newFakeProm(t)
	d := f.driver(t)

	e := d.Ping(ctx)
	require.True(t, e.Success, e.Error)

	const q = `{"promql":"{job=\"api\"}","time":"2024-05-06T07:08:09Z"}`
	s, e := d.Submit(ctx, q)
	require.True(t, e.Success, e.Error)
	rows := e.Data.(*shifter.QueryResult).Rows
	require.Len(t, rows, 3)
	assert.Equal(t, shifter.Row{
		"metric":    map[string]any{"__name__": "up", "job": "api", "instance": "web-1"},
		"value":     1.0,
		"timestamp": "2024-05-06T07:08:09.000Z",
	}, rows[0])
	assert.Equal(t, `{job="api"}`, f.query[0])
	assert.Equal(t, "1714979289", f.ts[0])

	e = d.Results(ctx, s, 1, 5)
	require.True(t, e.Success, e.Error)
	assert.Equal(t, rows[1:], e.Data)
	assert.Equal(t, transmit.Exhausted, s.State)

	// Plain PromQL is evaluated now.
	_, e = d.Submit(ctx, `up`)
	require.True(t, e.Success, e.Error)
	assert.Equal(t, "1714979289", f.ts[2])
}

func TestConnector_RangeAndLimit(t *testing.T) {
	ctx := context.Background()
	f := newFakeProm(t)
	f.body = `{"status":"success","data":{"resultType":"matrix","result":[
		{"metric":{"job":"api","instance":"web-1"},"values":[[1704067200,"1"],[1704067545,"2"]]},
		{"metric":{"job":"api","instance":"web-2"},"values":[[1704067200,"3"]]}]}}`
	d := f.driver(t)

	const q = `{"promql":"{job=\"api\"}","start":"2024-01-01T00:00:00Z","time":"2024-01-02T00:00:00Z","limit":2}`
	s, e := d.Submit(ctx, q)
	require.True(t, e.Success, e.Error)
	rows := e.Data.(*shifter.QueryResult).Rows
	require.Len(t, rows, 2)
	assert.Equal(t, []any{1.0, 2.0}, []any{rows[0]["value"], rows[1]["value"]})
	assert.Equal(t, [][3]string{{"1704067200", "1704153600", "345"}}, f.ranges)
	assert.Empty(t, f.ts, "no instant query")

	e = d.Results(ctx, s, 1, 5)
	require.True(t, e.Success, e.Error)
	assert.Equal(t, rows[1:], e.Data)
	assert.Equal(t, transmit.Exhausted, s.State)
}

func TestConnector_Errors(t *testing.T) {
	for _, x := range []struct {
		name string
		code int
		body string
		kind shifter.ErrorKind
	}{
		{"bad data", 400, `{"status":"error","errorType":"bad_data","error":"parse error"}`, shifter.InvalidQuery},
		{"unauthorized", 401, `denied`, shifter.Auth},
		{"server error", 500, `oops`, shifter.Unknown},
		{"malformed", 200, `<html>`, shifter.MalformedResponse},
	} {
		t.Run(x.name, func(t *testing.T) {
			f := newFakeProm(t)
			f.code, f.body = x.code, x.body
			_, e := f.driver(t).Submit(context.Background(), `up`)
			assert.False(t, e.Success)
			assert.Equal(t, x.kind, e.Code, e.Error)
		})
	}
}

func TestRows_Matrix(t *testing.T) {
	f := newFakeProm(t)
	f.body = `{"status":"success","data":{"resultType":"matrix","result":[
		{"metric":{"job":"a"},"values":[[1714979289,"1"],[1714979290,"2"]]}]}}`
	_, e := f.driver(t).Submit(context.Background(), `up[1m]`)
	require.True(t, e.Success, e.Error)
	rows := e.Data.(*shifter.QueryResult).Rows
	require.Len(t, rows, 2)
	assert.Equal(t, 2.0, rows[1]["value"])
}

func TestResults(t *testing.T) {
	table, err := Module.Mapping("")
	require.NoError(t, err)
	row := shifter.Row{
		"metric":    map[string]any{"__name__": "up", "job": "api", "instance": "web-1"},
		"value":     1.0,
		"timestamp": "2024-05-06T07:08:09.000Z",
	}
	obs, warnings, report := results.Map([]shifter.Row{row}, table, results.Options{Validate: true}).Collect()
	require.Len(t, obs, 1)
	assert.Empty(t, warnings)
	assert.True(t, report.Valid, "%+v", report)
	byType := map[string]map[string]any{}
	for _, o := range obs[0]["objects"].(map[string]any) {
		m := o.(map[string]any)
		byType[m["type"].(string)] = m
	}
	assert.Equal(t, map[string]any{"type": "x-prometheus-metric", "name": "up", "value": 1.0}, byType["x-prometheus-metric"])
	assert.Equal(t, "web-1", byType["x-oca-asset"]["hostname"])
	assert.Equal(t, "api", byType["x-oca-event"]["module"])
}
