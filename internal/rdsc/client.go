// Package rdsc talks to an ETSI TS 119 432 remote signing provider behind an
// OIDC broker: pushed authorization request, code exchange and signDoc.
package rdsc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vocdoni/gofirma/qessign/internal/metrics"
	qnet "github.com/vocdoni/gofirma/qessign/internal/net"
	"github.com/vocdoni/gofirma/qessign/internal/signerr"
)

// Provider endpoint paths, relative to the configured base URLs.
const (
	PARPath   = "/auth/realms/broker/protocol/openid-connect/ext/par/request"
	AuthPath  = "/auth/realms/broker/protocol/openid-connect/auth"
	TokenPath = "/api/auth/realms/broker/protocol/openid-connect/token"
	SignPath  = "/AIS-Server/etsi/standard/rdsc/v1/signatures/signDoc"
	// CertsPath publishes the broker's id_token signing keys.
	CertsPath = "/auth/realms/broker/protocol/openid-connect/certs"
)

const (
	// CreationProfile is the ETSI signature creation profile sent with signDoc.
	CreationProfile = "http://uri.etsi.org/19432/v1.1.1#/creationprofile#"

	// Scope requested in the pushed authorization request.
	Scope = "sign ident"

	mediaJSON = "application/json"
	mediaForm = "application/x-www-form-urlencoded"
)

// Operation names used in errors, logs and metrics.
const (
	OpPAR   = "par"
	OpToken = "token"
	OpSign  = "sign"
)

// Endpoints are the provider base URLs. They are fixed for the lifetime of a
// Client.
type Endpoints struct {
	AuthURL     string `yaml:"auth_url"`
	AuthMTLSURL string `yaml:"auth_mtls_url"`
	SignURL     string `yaml:"sign_url"`
	// PARMethod is the HTTP method of the PAR call. Empty means POST.
	PARMethod string `yaml:"par_method"`
}

// DefaultEndpoints returns the Swisscom Trust Services production bases.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		AuthURL:     "https://auth.trustservices.swisscom.com",
		AuthMTLSURL: "https://auth-trustservices.mtls-scapp.swisscom.com",
		SignURL:     "https://ais.swisscom.com",
		PARMethod:   http.MethodPost,
	}
}

// Config is the immutable client configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	Endpoints    Endpoints
}

// Client is safe for concurrent use. It keeps no per-attempt state and never
// retries.
type Client struct {
	cfg     Config
	doer    qnet.Doer
	logger  *zap.Logger
	metrics *metrics.Service
	now     func() time.Time
}

// Option customises a Client.
type Option func(*Client)

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithMetrics(m *metrics.Service) Option {
	return func(c *Client) { c.metrics = m }
}

// WithClock overrides the clock used to stamp token grants.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

// New validates cfg and returns a Client sending requests through doer.
func New(cfg Config, doer qnet.Doer, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, signerr.Configf("client_id", "client id is required")
	}
	if strings.TrimSpace(cfg.ClientSecret) == "" {
		return nil, signerr.Configf("client_secret", "client secret is required")
	}
	if doer == nil {
		return nil, signerr.Configf("http_client", "no HTTP client configured")
	}

	ep := cfg.Endpoints
	for _, e := range []struct {
		setting string
		value   *string
	}{
		{"endpoints.auth_url", &ep.AuthURL},
		{"endpoints.auth_mtls_url", &ep.AuthMTLSURL},
		{"endpoints.sign_url", &ep.SignURL},
	} {
		u, err := url.Parse(*e.value)
		if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			return nil, signerr.Configf(e.setting, "invalid endpoint URL %q", *e.value)
		}
		*e.value = strings.TrimRight(*e.value, "/")
	}
	switch strings.ToUpper(ep.PARMethod) {
	case "", http.MethodPost:
		ep.PARMethod = http.MethodPost
	case http.MethodGet:
		ep.PARMethod = http.MethodGet
	default:
		return nil, signerr.Configf("endpoints.par_method", "unsupported PAR method %q", ep.PARMethod)
	}
	cfg.Endpoints = ep

	c := &Client{cfg: cfg, doer: doer, logger: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Endpoints returns the normalized endpoints in use.
func (c *Client) Endpoints() Endpoints {
	return c.cfg.Endpoints
}

// NewRequestID returns a fresh identifier for one sign intent.
func NewRequestID() string {
	return uuid.NewString()
}

// call sends one request and enforces the expected status and a JSON media
// type before anything is decoded. The status check comes first.
func (c *Client) call(ctx context.Context, op, method, target, contentType string, body []byte, wantStatus int) (*qnet.Response, error) {
	start := time.Now()
	c.logger.Debug("provider call", zap.String("op", op), zap.String("method", method), zap.String("url", target))

	resp, err := qnet.Send(ctx, c.doer, method, target, contentType, mediaJSON, body)
	if err != nil {
		c.metrics.RecordProviderCall(op, "transport", time.Since(start))
		c.logger.Debug("provider call failed", zap.String("op", op), zap.Error(err))
		return nil, &signerr.TransportError{Op: op, Err: err}
	}

	c.logger.Debug("provider response",
		zap.String("op", op),
		zap.Int("status", resp.StatusCode),
		zap.String("content_type", resp.ContentType()),
		zap.Int("bytes", len(resp.Body)),
		zap.Duration("elapsed", time.Since(start)),
	)
	if resp.StatusCode != wantStatus || !resp.IsJSON() {
		c.metrics.RecordProviderCall(op, "protocol", time.Since(start))
		return nil, protocolError(op, resp)
	}
	c.metrics.RecordProviderCall(op, "ok", time.Since(start))
	return resp, nil
}

func protocolError(op string, resp *qnet.Response) error {
	return &signerr.ProtocolError{
		Op:          op,
		StatusCode:  resp.StatusCode,
		ContentType: resp.ContentType(),
		Body:        resp.Body,
	}
}

// decode unmarshals a JSON body that already passed the status and media
// type checks. Malformed JSON is reported as a protocol error.
func decode(op string, resp *qnet.Response, out any) error {
	if err := json.Unmarshal(resp.Body, out); err != nil {
		pe := protocolError(op, resp)
		return fmt.Errorf("%w: %v", pe, err)
	}
	return nil
}

// IsProtocolError reports whether err is a provider protocol failure for op.
func IsProtocolError(err error, op string) bool {
	var pe *signerr.ProtocolError
	return errors.As(err, &pe) && (op == "" || pe.Op == op)
}
