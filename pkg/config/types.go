// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

package config

import "github.com/korrel8r/shifter/pkg/shifter"

// Config defines the configuration for an instance of shifter.
// Configuration files may be JSON or YAML.
type Config struct {
	// Sources are the data sources that can be searched.
	Sources []Source `json:"sources,omitempty"`

	// Execute configures polling and paging for searches across sources.
	Execute *Execute `json:"execute,omitempty"`

	// Include lists additional configuration files or URLs to include.
	Include []string `json:"include,omitempty"`
}

// Source is a named data source: a module with connection details and credentials.
type Source struct {
	// Name identifies the source, must be unique.
	Name string `json:"name"`

	// Module is the name of the module that translates and transmits for this source.
	Module string `json:"module"`

	// Connection to the data source.
	Connection shifter.Connection `json:"connection"`

	// Configuration holds the credentials.
	// String values of the form $VAR or ${VAR} are replaced by environment variables.
	Configuration shifter.Configuration `json:"configuration,omitzero"`

	// Options for translation of queries and results.
	Options shifter.Options `json:"options,omitzero"`

	// Identity is the STIX identity object for this source, generated if absent.
	Identity map[string]any `json:"identity,omitempty"`
}

// Execute configures searches across sources.
type Execute struct {
	// PollInterval is the time between status checks of an asynchronous search.
	PollInterval Duration `json:"pollInterval,omitzero"`

	// Timeout is the longest time to wait for a search to complete.
	Timeout Duration `json:"timeout,omitzero"`

	// PageSize is the number of rows fetched by each results call.
	PageSize int `json:"pageSize,omitempty"`

	// MaxResults limits the total number of rows fetched from each source.
	MaxResults int `json:"maxResults,omitempty"`
}
