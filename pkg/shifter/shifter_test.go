// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

package shifter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/korrel8r/shifter/pkg/compiler"
	"github.com/korrel8r/shifter/pkg/mapping"
	"github.com/korrel8r/shifter/pkg/pattern"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseOptions(t *testing.T) {
	for _, x := range []struct {
		data string
		want Options
		err  string
	}{
		{data: ``, want: Options{}},
		{data: `{}`, want: Options{}},
		{
			data: `{"select_fields":["a","b"],"result_limit":10,"timerange":5,"stix_validator":true,"data_mapper":"flows","unknown":1}`,
			want: Options{SelectFields: []string{"a", "b"}, ResultLimit: 10, Timerange: 5, StixValidator: true, DataMapper: "flows"},
		},
		{data: "result_limit: 3\ntimerange: 1", want: Options{ResultLimit: 3, Timerange: 1}},
		{data: `{"result_limit":0}`, err: "invalid option result_limit: must be positive: 0"},
		{data: `{"timerange":-5}`, err: "invalid option timerange: must be positive: -5"},
		{data: `{"result_limit":"x"}`, err: "invalid option options:"},
	} {
		t.Run(x.data, func(t *testing.T) {
			got, err := ParseOptions([]byte(x.data))
			if x.err != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), x.err)
				assert.Equal(t, InvalidOptions, KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, x.want, got)
		})
	}
}

func TestOptions_Compiler(t *testing.T) {
	o := Options{SelectFields: []string{"x"}, ResultLimit: 10, Timerange: 5, DataMapper: "m"}
	assert.Equal(t, compiler.Options{SelectFields: []string{"x"}, ResultLimit: 10, Timerange: 5}, o.Compiler())
	assert.NoError(t, o.Validate())
	assert.Error(t, Options{ResultLimit: -1}.Validate())
}

func TestConnection(t *testing.T) {
	var c Connection
	require.NoError(t, json.Unmarshal([]byte(`{"host":"example.com","port":8443,"selfSignedCert":true,"options":{"version":3}}`), &c))
	assert.Equal(t, "https://example.com:8443", c.URL().String())
	assert.True(t, c.SelfSignedCert)
	assert.Equal(t, "3", c.Option("version", "1"))
	assert.Equal(t, "x", c.Option("missing", "x"))
	assert.Equal(t, "http://h/api", Connection{Host: "h", Scheme: "http", Path: "/api"}.URL().String())

	var cfg Configuration
	require.NoError(t, json.Unmarshal([]byte(`{"auth":{"token":"secret","username":"u"}}`), &cfg))
	assert.Equal(t, Credentials{Token: "secret", Username: "u"}, cfg.Auth)
}

func TestKindOf(t *testing.T) {
	_, parseErr := pattern.Parse("[x")
	require.Error(t, parseErr)
	for _, x := range []struct {
		err  error
		want ErrorKind
	}{
		{nil, ""},
		{errors.New("x"), Unknown},
		{Errorf(Auth, "denied"), Auth},
		{fmt.Errorf("wrapped: %w", &Error{Kind: NotFound}), NotFound},
		{ModuleNotFoundError{Name: "x"}, UnknownModule},
		{OptionsError{Option: "x"}, InvalidOptions},
		{parseErr, Parse},
		{&compiler.CompileError{Kind: compiler.UnmappedField}, Compile},
		{context.DeadlineExceeded, Timeout},
		{&net.OpError{Op: "dial", Err: errors.New("refused")}, Network},
		{&net.DNSError{Name: "nowhere"}, Network},
	} {
		t.Run(fmt.Sprintf("%v", x.err), func(t *testing.T) {
			assert.Equal(t, x.want, KindOf(x.err))
		})
	}
}

func TestError(t *testing.T) {
	cause := errors.New("cause")
	assert.EqualError(t, &Error{Kind: Network}, "network")
	assert.EqualError(t, Wrap(Network, cause), "cause")
	assert.EqualError(t, &Error{Kind: Network, Msg: "failed", Err: cause}, "failed: cause")
	assert.ErrorIs(t, Wrap(Network, cause), cause)
	assert.True(t, IsErrorType[*Error](fmt.Errorf("x: %w", Wrap(Auth, cause))))
	assert.False(t, IsErrorType[*Error](cause))
}

func TestEnvelope(t *testing.T) {
	b, err := json.Marshal(OK([]Row{{"a": 1.0}}))
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":true,"data":[{"a":1}]}`, string(b))

	e := Fail(Errorf(Auth, "bad token"))
	b, err = json.Marshal(e)
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"error":"bad token","code":"authentication"}`, string(b))
	assert.Equal(t, Auth, KindOf(e.Err()))
	assert.NoError(t, OK(true).Err())
}

type testModule string

func (m testModule) Name() string                                         { return string(m) }
func (m testModule) Description() string                                  { return "test " + string(m) }
func (m testModule) Dialect() *compiler.Dialect                           { return &compiler.Dialect{} }
func (m testModule) Mapping(string) (*mapping.Table, error)               { return mapping.Identity(string(m)), nil }
func (m testModule) Connector(Connection, Credentials) (Connector, error) { return nil, nil }

func TestModules(t *testing.T) {
	r, err := NewModules(testModule("b"), testModule("a"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, r.Names())
	m, err := r.Get("b")
	require.NoError(t, err)
	assert.Equal(t, "b", m.Name())
	assert.Len(t, r.List(), 2)

	_, err = r.Get("nope")
	assert.EqualError(t, err, `module not found: "nope"`)
	assert.Equal(t, UnknownModule, KindOf(err))

	_, err = NewModules(testModule("a"), testModule("a"))
	assert.EqualError(t, err, "duplicate module name: a")
}

func (flowsModule) Mappers() []string { return []string{"default", "flows"} }

func TestModules_Infos(t *testing.T) {
	r, err := NewModules(flowsModule{testModule("q")}, testModule("a"))
	require.NoError(t, err)
	assert.Equal(t, []ModuleInfo{
		{Name: "a", Description: "test a"},
		{Name: "q", Description: "test q", Mappers: []string{"default", "flows"}},
	}, r.Infos())
}

type flowsModule struct{ testModule }

var flowsDialect = &compiler.Dialect{Name: "flows"}

func (flowsModule) MapperDialect(dataMapper string) *compiler.Dialect {
	if dataMapper == "flows" {
		return flowsDialect
	}
	return nil
}

func TestDialectFor(t *testing.T) {
	m := flowsModule{testModule("q")}
	assert.Same(t, flowsDialect, DialectFor(m, "flows"))
	assert.NotSame(t, flowsDialect, DialectFor(m, ""))
	assert.NotNil(t, DialectFor(testModule("x"), "flows"))
}
