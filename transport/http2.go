// Package transport builds the HTTP client used to reach the lighting service.
// The local service speaks HTTP/1.1; remote bridges use HTTP/2 with mTLS 1.3,
// or h2c behind a trusted proxy.
package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"golang.org/x/net/http2"
)

// Config selects the client flavour. Cert paths are all-or-nothing.
type Config struct {
	CertPath string
	KeyPath  string
	CAPath   string
	H2C      bool
	Timeout  time.Duration
}

// TLS reports whether mTLS is configured.
func (c Config) TLS() bool {
	return c.CertPath != "" || c.KeyPath != "" || c.CAPath != ""
}

// Validate checks the cert paths are complete and not mixed with h2c.
func (c Config) Validate() error {
	if !c.TLS() {
		return nil
	}
	if c.H2C {
		return errors.New("h2c and mTLS are mutually exclusive")
	}
	if c.CertPath == "" {
		return fmt.Errorf("certPath required")
	}
	if c.KeyPath == "" {
		return fmt.Errorf("keyPath required")
	}
	if c.CAPath == "" {
		return fmt.Errorf("caPath required")
	}
	return nil
}

// BuildClient returns the client matching cfg.
func BuildClient(cfg Config) (*http.Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch {
	case cfg.TLS():
		return BuildHTTP2Client(cfg.CertPath, cfg.KeyPath, cfg.CAPath, cfg.Timeout)
	case cfg.H2C:
		return BuildH2CClient(cfg.Timeout), nil
	default:
		return &http.Client{
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
			Timeout: cfg.Timeout,
		}, nil
	}
}

// BuildHTTP2Client creates an HTTP/2 client with mTLS 1.3.
func BuildHTTP2Client(certPath, keyPath, caPath string, timeout time.Duration) (*http.Client, error) {
	clientCert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load client certificate: %w", err)
	}

	caCert, err := os.ReadFile(caPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to parse CA certificate")
	}

	tlsConfig := &tls.Config{
		Certificates: []tls.Certificate{clientCert},
		RootCAs:      caCertPool,
		MinVersion:   tls.VersionTLS13,
		MaxVersion:   tls.VersionTLS13,
	}

	return &http.Client{
		Transport: &http2.Transport{
			TLSClientConfig: tlsConfig,
		},
		Timeout: timeout,
	}, nil
}

// BuildH2CClient creates a cleartext HTTP/2 client.
func BuildH2CClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Transport: &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, addr)
			},
		},
		Timeout: timeout,
	}
}
