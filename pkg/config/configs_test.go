// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

package config

import (
	"testing"
	"time"

	"github.com/korrel8r/shifter/internal/pkg/test/mock"
	"github.com/korrel8r/shifter/pkg/shifter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigs_Sources(t *testing.T) {
	t.Setenv("SHIFTER_TEST_TOKEN", "secret")
	c, err := Load("testdata/shifter.yaml")
	require.NoError(t, err)
	sources, err := c.Sources()
	require.NoError(t, err)
	assert.Equal(t, []Source{
		{
			Name:          "cb",
			Module:        "carbonblack",
			Connection:    shifter.Connection{Host: "cb.example.com"},
			Configuration: shifter.Configuration{Auth: shifter.Credentials{Token: "literal$token"}},
		},
		{
			Name:   "qradar-prod",
			Module: "qradar",
			Connection: shifter.Connection{Host: "qradar.example.com", Port: 443,
				Options: map[string]any{"api_version": "12.0"}},
			Configuration: shifter.Configuration{Auth: shifter.Credentials{Token: "secret"}},
			Options:       shifter.Options{ResultLimit: 100, Timerange: 60},
		},
		{
			Name:   "events",
			Module: "sql",
			Connection: shifter.Connection{
				Options: map[string]any{"driver": "sqlite3", "database": "/var/lib/shifter/events.db"}},
			Options: shifter.Options{DataMapper: "sqlite"},
		},
	}, sources)
}

func TestConfigs_SourcesError(t *testing.T) {
	c, err := Load("testdata/duplicate.yaml")
	require.NoError(t, err)
	_, err = c.Sources()
	assert.ErrorContains(t, err, `source "cb": duplicate name`)

	for _, x := range []struct {
		source Source
		want   string
	}{
		{Source{Module: "sql"}, "source has no name"},
		{Source{Name: "x"}, `source "x": no module`},
		{Source{Name: "x", Module: "sql", Options: shifter.Options{ResultLimit: -1}}, "invalid option result_limit"},
	} {
		t.Run(x.want, func(t *testing.T) {
			_, err := Configs{"test": {Sources: []Source{x.source}}}.Sources()
			assert.ErrorContains(t, err, x.want)
		})
	}
}

func TestConfigs_Check(t *testing.T) {
	modules, err := shifter.NewModules(mock.NewModule("a", nil))
	require.NoError(t, err)
	c := Configs{"test": {Sources: []Source{{Name: "x", Module: "a"}, {Name: "y", Module: "b"}}}}
	err = c.Check(modules)
	assert.ErrorContains(t, err, `source "y"`)
	assert.True(t, shifter.IsErrorType[shifter.ModuleNotFoundError](err))
	assert.NoError(t, Configs{"test": {Sources: []Source{{Name: "x", Module: "a"}}}}.Check(modules))
}

func TestConfigs_Execute(t *testing.T) {
	c, err := Load("testdata/shifter.yaml")
	require.NoError(t, err)
	assert.Equal(t, Execute{
		PollInterval: Duration{10 * time.Second},
		Timeout:      Duration{time.Minute},
		PageSize:     50,
	}, c.Execute())
	assert.Equal(t, Execute{
		PollInterval: Duration{DefaultPollInterval},
		Timeout:      Duration{DefaultTimeout},
		PageSize:     DefaultPageSize,
	}, Configs{}.Execute())
}
