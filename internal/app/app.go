// Package app wires configuration, identity, provider client, stores and the
// HTTP server into a runnable service.
package app

import (
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vocdoni/gofirma/qessign/internal/config"
	"github.com/vocdoni/gofirma/qessign/internal/crypto/clientcert"
	"github.com/vocdoni/gofirma/qessign/internal/crypto/jwsverify"
	"github.com/vocdoni/gofirma/qessign/internal/digest"
	"github.com/vocdoni/gofirma/qessign/internal/engine"
	"github.com/vocdoni/gofirma/qessign/internal/flow"
	"github.com/vocdoni/gofirma/qessign/internal/metrics"
	"github.com/vocdoni/gofirma/qessign/internal/model"
	qnet "github.com/vocdoni/gofirma/qessign/internal/net"
	"github.com/vocdoni/gofirma/qessign/internal/rdsc"
	"github.com/vocdoni/gofirma/qessign/internal/server"
	"github.com/vocdoni/gofirma/qessign/internal/session"
	"github.com/vocdoni/gofirma/qessign/internal/signerr"
	"github.com/vocdoni/gofirma/qessign/internal/storage"
)

const shutdownTimeout = 15 * time.Second

// App holds the long-lived services of one process.
type App struct {
	Config   *config.Config
	Logger   *zap.Logger
	Identity *clientcert.Identity
	Metrics  *metrics.Service
	Sessions session.Store
	Flow     *flow.Orchestrator
	Server   *server.Server
}

// LoadIdentity opens the client identity selected by cfg.
func LoadIdentity(cfg config.IdentityConfig) (*clientcert.Identity, error) {
	var (
		id  *clientcert.Identity
		err error
	)
	switch cfg.Type {
	case config.IdentityPEM:
		id, err = clientcert.LoadPEM(cfg.CertFile, cfg.KeyFile)
	case config.IdentityPKCS12:
		id, err = clientcert.LoadPKCS12(cfg.PKCS12File, cfg.PKCS12Password)
	case config.IdentityPKCS11:
		id, err = clientcert.LoadPKCS11(cfg.PKCS11)
	case config.IdentityOS:
		id, err = clientcert.LoadOSIdentity(cfg.Fingerprint)
	default:
		return nil, signerr.Configf("identity.type", "unknown identity type %q", cfg.Type)
	}
	if err != nil {
		return nil, &signerr.ConfigurationError{Setting: "identity", Err: err}
	}
	if err := id.Validate(time.Now()); err != nil {
		return nil, &signerr.ConfigurationError{Setting: "identity", Err: err}
	}
	return id, nil
}

// HTTPClient builds the mTLS client for the provider endpoints.
func HTTPClient(cfg config.HTTPConfig, id *clientcert.Identity) (*http.Client, error) {
	tlsCert, err := id.TLSCertificate()
	if err != nil {
		return nil, &signerr.ConfigurationError{Setting: "identity", Err: err}
	}
	opts := qnet.Options{Certificate: tlsCert, Timeout: cfg.Timeout}
	if cfg.CAFile != "" {
		pem, err := os.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, &signerr.ConfigurationError{Setting: "http.ca_file", Err: err}
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, signerr.Configf("http.ca_file", "no certificates found in %s", cfg.CAFile)
		}
		opts.RootCAs = pool
	}
	return qnet.NewMTLSClient(opts)
}

// OpenSessions opens the session backend named in cfg.
func OpenSessions(ctx context.Context, cfg config.SessionConfig) (session.Store, error) {
	var secret []byte
	if cfg.Secret != "" {
		secret = []byte(cfg.Secret)
	}
	switch cfg.Backend {
	case config.SessionMemory, "":
		return session.NewMemoryStore(secret), nil
	case config.SessionBolt:
		if err := os.MkdirAll(filepath.Dir(cfg.BoltPath), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create session directory: %w", err)
		}
		return session.OpenBoltStore(cfg.BoltPath, secret)
	case config.SessionRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("failed to reach redis at %s: %w", cfg.RedisAddr, err)
		}
		return session.NewRedisStore(client, secret), nil
	}
	return nil, signerr.Configf("session.backend", "unknown session backend %q", cfg.Backend)
}

// New builds the service from a validated configuration.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Server.Document == "" {
		return nil, signerr.Configf("server.document", "document to sign is required")
	}
	content, err := os.ReadFile(cfg.Server.Document)
	if err != nil {
		return nil, &signerr.ConfigurationError{Setting: "server.document", Err: err}
	}

	id, err := LoadIdentity(cfg.Identity)
	if err != nil {
		return nil, err
	}
	logger.Info("client identity loaded",
		zap.String("source", id.Source),
		zap.String("subject", id.Certificate.Subject.String()),
		zap.String("fingerprint", clientcert.FingerprintHex(id.Certificate)),
	)
	httpClient, err := HTTPClient(cfg.HTTP, id)
	if err != nil {
		return nil, err
	}

	m := metrics.NewService()
	provider, err := rdsc.New(rdsc.Config{
		ClientID:     cfg.Provider.ClientID,
		ClientSecret: cfg.Provider.ClientSecret,
		Endpoints:    cfg.Provider.Endpoints,
	}, httpClient, rdsc.WithLogger(logger), rdsc.WithMetrics(m))
	if err != nil {
		return nil, err
	}

	docs, err := engine.NewDirStore(cfg.Storage.DocumentDir)
	if err != nil {
		return nil, err
	}

	opts := []flow.Option{flow.WithLogger(logger), flow.WithMetrics(m)}
	if cfg.Storage.AuditDir != "" {
		audit, err := storage.NewAuditLogger(cfg.Storage.AuditDir, logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, flow.WithAudit(audit))
	}
	if cfg.Provider.JWKSURL != "" {
		opts = append(opts, flow.WithIDTokenVerifier(&jwsverify.Verifier{
			JWKSURL:  cfg.Provider.JWKSURL,
			ClientID: cfg.Provider.ClientID,
			Doer:     httpClient,
			Logger:   logger,
			Leeway:   time.Minute,
		}))
	}

	alg, err := digest.Lookup(cfg.Provider.DigestAlgorithm)
	if err != nil {
		return nil, err
	}
	level, err := model.ParseConformanceLevel(cfg.Provider.ConformanceLevel)
	if err != nil {
		return nil, &signerr.ConfigurationError{Setting: "provider.conformance_level", Err: err}
	}
	format, err := model.ParseSignatureFormat(cfg.Provider.SignatureFormat)
	if err != nil {
		return nil, &signerr.ConfigurationError{Setting: "provider.signature_format", Err: err}
	}

	sessions, err := OpenSessions(ctx, cfg.Session)
	if err != nil {
		return nil, err
	}
	orch, err := flow.New(flow.Config{
		CredentialID:     cfg.Provider.CredentialID,
		ConformanceLevel: level,
		SignatureFormat:  format,
		Algorithm:        alg,
		RedirectURI:      cfg.CallbackURL(),
		FieldName:        cfg.Server.FieldName,
		TTL:              cfg.Session.TTL,
		AdditionalClaims: cfg.Provider.AdditionalClaims,
	}, provider, sessions, docs, opts...)
	if err != nil {
		_ = sessions.Close()
		return nil, err
	}

	srv, err := server.New(server.Config{
		Document: server.Document{
			Name:    filepath.Base(cfg.Server.Document),
			Label:   cfg.Server.DocumentLabel,
			Content: content,
		},
		SecureCookies: cfg.Server.SecureCookies,
	}, orch, m, logger)
	if err != nil {
		_ = sessions.Close()
		return nil, err
	}

	return &App{
		Config:   cfg,
		Logger:   logger,
		Identity: id,
		Metrics:  m,
		Sessions: sessions,
		Flow:     orch,
		Server:   srv,
	}, nil
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              a.Config.Server.Listen,
		Handler:           a.Server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("listening",
			zap.String("addr", a.Config.Server.Listen),
			zap.String("public_url", a.Config.Server.PublicURL),
		)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	a.Logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (a *App) Close() error {
	if a.Sessions == nil {
		return nil
	}
	return a.Sessions.Close()
}
