// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

package shifter

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/korrel8r/shifter/pkg/compiler"
	"sigs.k8s.io/yaml"
)

// Options for translation. Unrecognized options are ignored.
type Options struct {
	// SelectFields restricts the projection to these native fields, in order.
	SelectFields []string `json:"select_fields,omitempty"`
	// ResultLimit caps the number of returned rows, must be positive if set.
	ResultLimit int `json:"result_limit,omitempty"`
	// Timerange in minutes, used when the pattern has no time qualifier. Must be positive if set.
	Timerange int `json:"timerange,omitempty"`
	// StixValidator validates mapped observations against the STIX schema.
	StixValidator bool `json:"stix_validator,omitempty"`
	// DataMapper selects an alternate mapping table.
	DataMapper string `json:"data_mapper,omitempty"`
}

// ParseOptions parses JSON or YAML options. Empty data is the zero Options.
func ParseOptions(data []byte) (Options, error) {
	// Decode limits via pointers to distinguish "absent" from "zero".
	var raw struct {
		SelectFields  []string `json:"select_fields"`
		ResultLimit   *int     `json:"result_limit"`
		Timerange     *int     `json:"timerange"`
		StixValidator bool     `json:"stix_validator"`
		DataMapper    string   `json:"data_mapper"`
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return Options{}, OptionsError{Option: "options", Msg: err.Error()}
		}
	}
	o := Options{SelectFields: raw.SelectFields, StixValidator: raw.StixValidator, DataMapper: raw.DataMapper}
	if raw.ResultLimit != nil {
		if *raw.ResultLimit <= 0 {
			return Options{}, OptionsError{Option: "result_limit", Msg: fmt.Sprintf("must be positive: %v", *raw.ResultLimit)}
		}
		o.ResultLimit = *raw.ResultLimit
	}
	if raw.Timerange != nil {
		if *raw.Timerange <= 0 {
			return Options{}, OptionsError{Option: "timerange", Msg: fmt.Sprintf("must be positive: %v", *raw.Timerange)}
		}
		o.Timerange = *raw.Timerange
	}
	return o, nil
}

// Validate returns an [OptionsError] if an option is out of range.
func (o Options) Validate() error {
	if o.ResultLimit < 0 {
		return OptionsError{Option: "result_limit", Msg: fmt.Sprintf("must be positive: %v", o.ResultLimit)}
	}
	if o.Timerange < 0 {
		return OptionsError{Option: "timerange", Msg: fmt.Sprintf("must be positive: %v", o.Timerange)}
	}
	return nil
}

// Compiler returns the options used by the query compiler.
func (o Options) Compiler() compiler.Options {
	return compiler.Options{SelectFields: o.SelectFields, ResultLimit: o.ResultLimit, Timerange: o.Timerange}
}

// Connection describes how to reach a data source.
type Connection struct {
	Host string `json:"host"`
	Port int    `json:"port,omitempty"`
	// Scheme is the URL scheme, default "https".
	Scheme string `json:"scheme,omitempty"`
	// Path is a base path prefix for API requests.
	Path string `json:"path,omitempty"`
	// Cert is a PEM encoded CA certificate used to verify the data source.
	Cert string `json:"cert,omitempty"`
	// SelfSignedCert skips server certificate verification.
	SelfSignedCert bool `json:"selfSignedCert,omitempty"`
	// Timeout for each request in seconds, 0 means no timeout.
	Timeout int `json:"timeout,omitempty"`
	// Options are module-specific settings.
	Options map[string]any `json:"options,omitempty"`
}

// URL returns the base URL of the data source.
func (c Connection) URL() *url.URL {
	scheme := c.Scheme
	if scheme == "" {
		scheme = "https"
	}
	host := c.Host
	if c.Port != 0 {
		host = host + ":" + strconv.Itoa(c.Port)
	}
	return &url.URL{Scheme: scheme, Host: host, Path: c.Path}
}

// Option returns a string module option, or def if it is not set.
func (c Connection) Option(name, def string) string {
	if v, ok := c.Options[name]; ok {
		return fmt.Sprint(v)
	}
	return def
}

// Credentials authenticate to a data source. Which fields are used depends on the module.
type Credentials struct {
	// Token is a bearer token or API key.
	Token    string `json:"token,omitempty"`
	Username string `json:"username,omitempty"`
	Password string `json:"password,omitempty"`
	// ClientID, ClientSecret and TokenURL use the OAuth2 client credentials flow.
	ClientID     string   `json:"client_id,omitempty"`
	ClientSecret string   `json:"client_secret,omitempty"`
	TokenURL     string   `json:"token_url,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
}

// Configuration is the credential document accepted by the transmit operation: {"auth": {...}}.
type Configuration struct {
	Auth Credentials `json:"auth"`
}
