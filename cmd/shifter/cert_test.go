// Copyright: This file is part of shifter, released under https://github.com/korrel8r/shifter/blob/main/LICENSE

package main_test

import (
	"bytes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/korrel8r/shifter/internal/pkg/test"
)

// certSetup writes a server certificate and key signed by a new CA to dir as tls.crt and tls.key.
// Returns a client TLS configuration that trusts the CA.
func certSetup(dir string) (clientTLSConf *tls.Config) {
	ca := &x509.Certificate{
		SerialNumber:          big.NewInt(1234567890),
		Subject:               pkix.Name{Organization: []string{"Shifter Project"}},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().AddDate(10, 0, 0),
		IsCA:                  true,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		BasicConstraintsValid: true,
	}
	caPrivKey := test.Must(rsa.GenerateKey(rand.Reader, 2048))
	caBytes := test.Must(x509.CreateCertificate(rand.Reader, ca, ca, &caPrivKey.PublicKey, caPrivKey))
	caPEM := new(bytes.Buffer)
	test.PanicErr(pem.Encode(caPEM, &pem.Block{Type: "CERTIFICATE", Bytes: caBytes}))

	cert := &x509.Certificate{
		SerialNumber: big.NewInt(2019),
		Subject:      pkix.Name{Organization: []string{"Shifter Project"}},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().AddDate(10, 0, 0),
		SubjectKeyId: []byte{1, 2, 3, 4, 6},
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	certPrivKey := test.Must(rsa.GenerateKey(rand.Reader, 2048))
	certBytes := test.Must(x509.CreateCertificate(rand.Reader, cert, ca, &certPrivKey.PublicKey, caPrivKey))
	certPEM := new(bytes.Buffer)
	test.PanicErr(pem.Encode(certPEM, &pem.Block{Type: "CERTIFICATE", Bytes: certBytes}))
	certPrivKeyPEM := new(bytes.Buffer)
	test.PanicErr(pem.Encode(certPrivKeyPEM, &pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(certPrivKey)}))

	test.PanicErr(os.WriteFile(filepath.Join(dir, "tls.crt"), certPEM.Bytes(), 0444))
	test.PanicErr(os.WriteFile(filepath.Join(dir, "tls.key"), certPrivKeyPEM.Bytes(), 0444))

	certpool := x509.NewCertPool()
	certpool.AppendCertsFromPEM(caPEM.Bytes())
	return &tls.Config{RootCAs: certpool}
}
