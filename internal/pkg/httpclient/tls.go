// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

package httpclient

import (
	"crypto/tls"
	"fmt"
	"slices"
	"strings"
)

// TLS version names, using Kubernetes-style names so cluster TLS profiles can be passed through.
var tlsVersions = map[string]uint16{
	"VersionTLS10": tls.VersionTLS10,
	"VersionTLS11": tls.VersionTLS11,
	"VersionTLS12": tls.VersionTLS12,
	"VersionTLS13": tls.VersionTLS13,
}

var cipherSuitesByName = func() map[string]uint16 {
	m := map[string]uint16{}
	for _, cs := range tls.CipherSuites() {
		m[cs.Name] = cs.ID
	}
	for _, cs := range tls.InsecureCipherSuites() {
		m[cs.Name] = cs.ID
	}
	return m
}()

func parseTLSVersion(name string) (uint16, error) {
	v, ok := tlsVersions[name]
	if !ok {
		valid := make([]string, 0, len(tlsVersions))
		for k := range tlsVersions {
			valid = append(valid, k)
		}
		slices.Sort(valid)
		return 0, fmt.Errorf("unknown TLS version %q, valid values: %s", name, strings.Join(valid, ", "))
	}
	return v, nil
}

func parseCipherSuites(names []string) ([]uint16, error) {
	suites := make([]uint16, 0, len(names))
	for _, name := range names {
		id, ok := cipherSuitesByName[strings.TrimSpace(name)]
		if !ok {
			return nil, fmt.Errorf("unknown cipher suite %q", name)
		}
		suites = append(suites, id)
	}
	return suites, nil
}

// newTLSConfig returns nil if both settings are empty.
func newTLSConfig(minVersion string, cipherSuiteNames []string) (*tls.Config, error) {
	if minVersion == "" && len(cipherSuiteNames) == 0 {
		return nil, nil
	}
	cfg := &tls.Config{}
	if minVersion != "" {
		v, err := parseTLSVersion(minVersion)
		if err != nil {
			return nil, err
		}
		cfg.MinVersion = v
	}
	if len(cipherSuiteNames) > 0 {
		suites, err := parseCipherSuites(cipherSuiteNames)
		if err != nil {
			return nil, err
		}
		cfg.CipherSuites = suites
	}
	return cfg, nil
}
