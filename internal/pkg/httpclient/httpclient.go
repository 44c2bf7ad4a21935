// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

// Package httpclient builds [http.Client] values for connectors from a connection and credentials.
//
// Credentials are applied in this order of preference:
//   - OAuth2 client credentials if ClientID and TokenURL are set.
//   - A token, as a bearer token or in a module-specific header.
//   - Basic authentication with Username and Password.
//
// TLS settings come from the connection: a CA certificate, self-signed mode, and the
// "tls_min_version" and "tls_cipher_suites" connection options.
package httpclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/korrel8r/shifter/internal/pkg/logging"
	"github.com/korrel8r/shifter/pkg/shifter"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

var log = logging.Log().WithName("httpclient")

// TokenHeader is the header used to send a token and a prefix for its value.
type TokenHeader struct {
	Name, Prefix string
}

// Bearer is the default token header.
var Bearer = TokenHeader{Name: "Authorization", Prefix: "Bearer "}

// New returns a client for a data source. th is used to send Credentials.Token.
func New(conn shifter.Connection, creds shifter.Credentials, th TokenHeader) (*http.Client, error) {
	tlsConfig, err := TLSConfig(conn)
	if err != nil {
		return nil, shifter.OptionsError{Option: "connection", Msg: err.Error()}
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig
	hc := &http.Client{Transport: transport, Timeout: time.Duration(conn.Timeout) * time.Second}

	switch {
	case creds.ClientID != "" && creds.TokenURL != "":
		cc := clientcredentials.Config{
			ClientID:     creds.ClientID,
			ClientSecret: creds.ClientSecret,
			TokenURL:     creds.TokenURL,
			Scopes:       creds.Scopes,
		}
		// The token request uses the same TLS settings as the data source.
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Transport: transport, Timeout: hc.Timeout})
		oc := cc.Client(ctx)
		oc.Timeout = hc.Timeout
		log.V(3).Info("Using OAuth2 client credentials", "host", conn.Host, "tokenURL", creds.TokenURL)
		return oc, nil
	case creds.Token != "":
		hc.Transport = &headerTripper{next: transport, name: th.Name, value: th.Prefix + creds.Token}
	case creds.Username != "":
		hc.Transport = &basicTripper{next: transport, user: creds.Username, password: creds.Password}
	}
	return hc, nil
}

// TLSConfig returns the TLS configuration for a connection, nil if there are no TLS settings.
func TLSConfig(conn shifter.Connection) (*tls.Config, error) {
	var suites []string
	if s := conn.Option("tls_cipher_suites", ""); s != "" {
		suites = strings.Split(s, ",")
	}
	cfg, err := newTLSConfig(conn.Option("tls_min_version", ""), suites)
	if err != nil {
		return nil, err
	}
	if conn.Cert == "" && !conn.SelfSignedCert {
		return cfg, nil
	}
	if cfg == nil {
		cfg = &tls.Config{}
	}
	if conn.Cert != "" {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM([]byte(conn.Cert)) {
			return nil, fmt.Errorf("no valid PEM certificate in cert")
		}
		cfg.RootCAs = pool
	}
	if conn.SelfSignedCert {
		cfg.InsecureSkipVerify = true
	}
	return cfg, nil
}

type headerTripper struct {
	next        http.RoundTripper
	name, value string
}

func (rt *headerTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set(rt.name, rt.value)
	return rt.next.RoundTrip(req)
}

type basicTripper struct {
	next           http.RoundTripper
	user, password string
}

func (rt *basicTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.SetBasicAuth(rt.user, rt.password)
	return rt.next.RoundTrip(req)
}
