package net

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net/http"
	"time"
)

// DefaultTimeout bounds every provider call when Options.Timeout is zero.
const DefaultTimeout = 30 * time.Second

// Doer executes HTTP requests. *http.Client satisfies it; tests swap in
// httptest clients.
type Doer interface {
	Do(*http.Request) (*http.Response, error)
}

// Options configures the client used for the provider endpoints.
type Options struct {
	// Certificate is presented during the TLS handshake. It is required by
	// the mTLS endpoints (PAR, token, signDoc).
	Certificate *tls.Certificate
	// RootCAs overrides the system roots, mostly for tests and staging.
	RootCAs *x509.CertPool
	Timeout time.Duration
	// Transport, when set, is used as is and Certificate/RootCAs are ignored.
	Transport http.RoundTripper
}

// NewMTLSClient returns an *http.Client that authenticates with the client
// certificate from opts.
func NewMTLSClient(opts Options) (*http.Client, error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if opts.Transport != nil {
		return &http.Client{Timeout: timeout, Transport: opts.Transport}, nil
	}
	if opts.Certificate == nil || len(opts.Certificate.Certificate) == 0 {
		return nil, errors.New("mTLS client requires a client certificate")
	}

	base, ok := http.DefaultTransport.(*http.Transport)
	if !ok {
		return nil, errors.New("unexpected default transport type")
	}
	tr := base.Clone()
	tr.TLSClientConfig = &tls.Config{
		MinVersion:   tls.VersionTLS12,
		Certificates: []tls.Certificate{*opts.Certificate},
		RootCAs:      opts.RootCAs,
	}
	return &http.Client{Timeout: timeout, Transport: tr}, nil
}
