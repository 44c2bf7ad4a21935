// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

package httpclient

import (
	"crypto/tls"
	"encoding/pem"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/korrel8r/shifter/pkg/shifter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connection(t *testing.T, s *httptest.Server) shifter.Connection {
	t.Helper()
	u, err := url.Parse(s.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return shifter.Connection{Host: u.Hostname(), Port: port, Scheme: u.Scheme}
}

// echoAuth serves the request's auth headers as the body.
func echoAuth(w http.ResponseWriter, r *http.Request) {
	_, _ = io.WriteString(w, r.Header.Get("Authorization")+"|"+r.Header.Get("X-Auth-Token"))
}

func get(t *testing.T, hc *http.Client, conn shifter.Connection) (string, error) {
	t.Helper()
	resp, err := hc.Get(conn.URL().String())
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	return string(b), err
}

func TestNew_Auth(t *testing.T) {
	s := httptest.NewServer(http.HandlerFunc(echoAuth))
	defer s.Close()
	conn := connection(t, s)
	for _, x := range []struct {
		name  string
		creds shifter.Credentials
		th    TokenHeader
		want  string
	}{
		{"none", shifter.Credentials{}, Bearer, "|"},
		{"bearer", shifter.Credentials{Token: "secret"}, Bearer, "Bearer secret|"},
		{"custom header", shifter.Credentials{Token: "secret"}, TokenHeader{Name: "X-Auth-Token"}, "|secret"},
		{"basic", shifter.Credentials{Username: "u", Password: "p"}, Bearer, "Basic dTpw|"},
	} {
		t.Run(x.name, func(t *testing.T) {
			hc, err := New(conn, x.creds, x.th)
			require.NoError(t, err)
			got, err := get(t, hc, conn)
			require.NoError(t, err)
			assert.Equal(t, x.want, got)
		})
	}
}

func TestNew_OAuth2(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "client_credentials", r.Form.Get("grant_type"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"access_token":"issued","token_type":"bearer","expires_in":3600}`)
	})
	mux.HandleFunc("/", echoAuth)
	s := httptest.NewServer(mux)
	defer s.Close()
	conn := connection(t, s)

	hc, err := New(conn, shifter.Credentials{ClientID: "id", ClientSecret: "s", TokenURL: s.URL + "/token"}, Bearer)
	require.NoError(t, err)
	got, err := get(t, hc, conn)
	require.NoError(t, err)
	assert.Equal(t, "Bearer issued|", got)
}

func TestNew_TLS(t *testing.T) {
	s := httptest.NewTLSServer(http.HandlerFunc(echoAuth))
	defer s.Close()
	conn := connection(t, s)

	hc, err := New(conn, shifter.Credentials{}, Bearer)
	require.NoError(t, err)
	_, err = get(t, hc, conn)
	assert.Error(t, err, "unknown certificate authority")

	conn.SelfSignedCert = true
	hc, err = New(conn, shifter.Credentials{}, Bearer)
	require.NoError(t, err)
	_, err = get(t, hc, conn)
	assert.NoError(t, err)

	conn.SelfSignedCert = false
	conn.Cert = string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: s.Certificate().Raw}))
	hc, err = New(conn, shifter.Credentials{}, Bearer)
	require.NoError(t, err)
	_, err = get(t, hc, conn)
	assert.NoError(t, err)

	conn.Cert = "not a certificate"
	_, err = New(conn, shifter.Credentials{}, Bearer)
	assert.Equal(t, shifter.InvalidOptions, shifter.KindOf(err))
}

func TestTLSConfig_Options(t *testing.T) {
	conn := shifter.Connection{Options: map[string]any{
		"tls_min_version":   "VersionTLS12",
		"tls_cipher_suites": "TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256, TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384",
	}}
	cfg, err := TLSConfig(conn)
	require.NoError(t, err)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)
	assert.Equal(t, []uint16{tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256, tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384}, cfg.CipherSuites)

	cfg, err = TLSConfig(shifter.Connection{})
	require.NoError(t, err)
	assert.Nil(t, cfg)

	for _, x := range []struct {
		option, value, err string
	}{
		{"tls_min_version", "VersionTLS99", "unknown TLS version"},
		{"tls_cipher_suites", "INVALID_CIPHER", "unknown cipher suite"},
	} {
		t.Run(x.value, func(t *testing.T) {
			_, err := TLSConfig(shifter.Connection{Options: map[string]any{x.option: x.value}})
			assert.ErrorContains(t, err, x.err)
		})
	}
}
