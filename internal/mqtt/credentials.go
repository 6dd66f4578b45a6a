package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// Credentials are opaque references to the device's mutual-TLS
// material. The client never interprets the contents beyond handing
// them to crypto/tls.
type Credentials struct {
	// CertFile is the PEM device certificate.
	CertFile string
	// KeyFile is the PEM device private key.
	KeyFile string
	// RootCAFile is the PEM root CA used to verify the broker's chain
	// (e.g. AmazonRootCA1.pem for AWS IoT Core).
	RootCAFile string
}

// TLSConfig builds the mutual-TLS client configuration. serverName is
// the broker hostname used for SNI and chain verification. Errors here
// are configuration faults (missing or unparsable files), classified
// [KindTLSHandshake] so callers pause rather than hot-loop.
func (c Credentials) TLSConfig(serverName string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, &Error{Kind: KindTLSHandshake, Op: "load keypair",
			Err: fmt.Errorf("%s / %s: %w", c.CertFile, c.KeyFile, err)}
	}

	pool := x509.NewCertPool()
	caPEM, err := os.ReadFile(c.RootCAFile)
	if err != nil {
		return nil, &Error{Kind: KindTLSHandshake, Op: "load root CA", Err: err}
	}
	if !pool.AppendCertsFromPEM(caPEM) {
		return nil, &Error{Kind: KindTLSHandshake, Op: "load root CA",
			Err: fmt.Errorf("no certificates found in %s", c.RootCAFile)}
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		RootCAs:      pool,
		ServerName:   serverName,
		MinVersion:   tls.VersionTLS12,
	}, nil
}
