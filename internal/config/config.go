// Package config loads the service configuration from a YAML file and the
// environment.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/vocdoni/gofirma/qessign/internal/crypto/clientcert"
	"github.com/vocdoni/gofirma/qessign/internal/digest"
	"github.com/vocdoni/gofirma/qessign/internal/model"
	"github.com/vocdoni/gofirma/qessign/internal/rdsc"
	"github.com/vocdoni/gofirma/qessign/internal/signerr"
)

// Identity types.
const (
	IdentityPEM    = "pem"
	IdentityPKCS12 = "pkcs12"
	IdentityPKCS11 = "pkcs11"
	IdentityOS     = "os"
)

// Session backends.
const (
	SessionMemory = "memory"
	SessionBolt   = "bolt"
	SessionRedis  = "redis"
)

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Provider ProviderConfig `yaml:"provider"`
	Identity IdentityConfig `yaml:"identity"`
	HTTP     HTTPConfig     `yaml:"http"`
	Server   ServerConfig   `yaml:"server"`
	Session  SessionConfig  `yaml:"session"`
	Storage  StorageConfig  `yaml:"storage"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ProviderConfig struct {
	ClientID         string         `yaml:"client_id"`
	ClientSecret     string         `yaml:"client_secret"`
	CredentialID     string         `yaml:"credential_id"`
	ConformanceLevel string         `yaml:"conformance_level"`
	SignatureFormat  string         `yaml:"signature_format"`
	DigestAlgorithm  string         `yaml:"digest_algorithm"`
	Endpoints        rdsc.Endpoints `yaml:"endpoints"`
	// AdditionalClaims are sent with every authorization request, for
	// example login_hint.
	AdditionalClaims map[string]any `yaml:"additional_claims"`
	// JWKSURL enables id_token verification when set.
	JWKSURL string `yaml:"jwks_url"`
}

// IdentityConfig selects the mTLS client identity.
type IdentityConfig struct {
	Type           string                  `yaml:"type"`
	CertFile       string                  `yaml:"cert_file"`
	KeyFile        string                  `yaml:"key_file"`
	PKCS12File     string                  `yaml:"pkcs12_file"`
	PKCS12Password string                  `yaml:"pkcs12_password"`
	PKCS11         clientcert.PKCS11Config `yaml:"pkcs11"`
	// Fingerprint is the hex SHA-256 of the certificate in the OS store.
	Fingerprint string `yaml:"fingerprint"`
}

type HTTPConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	// CAFile replaces the system roots for provider connections.
	CAFile string `yaml:"ca_file"`
}

type ServerConfig struct {
	Listen string `yaml:"listen"`
	// PublicURL is the externally visible base URL; the provider redirects
	// to PublicURL + /sign/callback.
	PublicURL     string `yaml:"public_url"`
	Document      string `yaml:"document"`
	DocumentLabel string `yaml:"document_label"`
	FieldName     string `yaml:"field_name"`
	SecureCookies bool   `yaml:"secure_cookies"`
}

type SessionConfig struct {
	Backend string        `yaml:"backend"`
	TTL     time.Duration `yaml:"ttl"`
	// Secret seals session records at rest when set.
	Secret        string `yaml:"secret"`
	BoltPath      string `yaml:"bolt_path"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
}

type StorageConfig struct {
	DocumentDir string `yaml:"document_dir"`
	AuditDir    string `yaml:"audit_dir"`
}

// Default returns the configuration used for unset values.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "json"},
		Provider: ProviderConfig{
			CredentialID:     "OnDemand-Advanced4.1-EU",
			ConformanceLevel: string(model.LevelBLT),
			SignatureFormat:  string(model.FormatPAdES),
			DigestAlgorithm:  digest.SHA256.Name,
			Endpoints:        rdsc.DefaultEndpoints(),
		},
		Identity: IdentityConfig{Type: IdentityPEM},
		HTTP:     HTTPConfig{Timeout: 30 * time.Second},
		Server: ServerConfig{
			Listen:    ":8080",
			PublicURL: "http://localhost:8080",
			FieldName: "Signature1",
		},
		Session: SessionConfig{Backend: SessionMemory, TTL: 10 * time.Minute},
		Storage: StorageConfig{DocumentDir: "data/documents", AuditDir: "data/audit"},
	}
}

// Load reads path over the defaults, applies QESSIGN_* environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	cfg.ApplyEnv(os.Getenv)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides settings from the environment. Secrets are usually
// provided this way rather than in the file.
func (c *Config) ApplyEnv(getenv func(string) string) {
	set := func(dst *string, name string) {
		if v := getenv(name); v != "" {
			*dst = v
		}
	}
	set(&c.Log.Level, "QESSIGN_LOG_LEVEL")
	set(&c.Log.Format, "QESSIGN_LOG_FORMAT")
	set(&c.Provider.ClientID, "QESSIGN_CLIENT_ID")
	set(&c.Provider.ClientSecret, "QESSIGN_CLIENT_SECRET")
	set(&c.Provider.CredentialID, "QESSIGN_CREDENTIAL_ID")
	set(&c.Provider.ConformanceLevel, "QESSIGN_CONFORMANCE_LEVEL")
	set(&c.Provider.SignatureFormat, "QESSIGN_SIGNATURE_FORMAT")
	set(&c.Provider.DigestAlgorithm, "QESSIGN_DIGEST_ALGORITHM")
	set(&c.Provider.Endpoints.PARMethod, "QESSIGN_PAR_METHOD")
	set(&c.Identity.CertFile, "QESSIGN_CLIENT_CERT")
	set(&c.Identity.KeyFile, "QESSIGN_CLIENT_KEY")
	set(&c.Identity.PKCS12Password, "QESSIGN_PKCS12_PASSWORD")
	set(&c.Identity.PKCS11.PIN, "QESSIGN_PKCS11_PIN")
	set(&c.Server.Listen, "QESSIGN_LISTEN")
	set(&c.Server.PublicURL, "QESSIGN_PUBLIC_URL")
	set(&c.Session.Backend, "QESSIGN_SESSION_BACKEND")
	set(&c.Session.Secret, "QESSIGN_SESSION_SECRET")
	set(&c.Session.RedisAddr, "QESSIGN_REDIS_ADDR")
	set(&c.Session.RedisPassword, "QESSIGN_REDIS_PASSWORD")
	if v := getenv("QESSIGN_HTTP_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.HTTP.Timeout = d
		}
	}
	if v := getenv("QESSIGN_REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Session.RedisDB = n
		}
	}
}

// Validate reports the first unusable setting as a ConfigurationError.
func (c *Config) Validate() error {
	p := c.Provider
	if strings.TrimSpace(p.ClientID) == "" {
		return signerr.Configf("provider.client_id", "client id is required")
	}
	if strings.TrimSpace(p.ClientSecret) == "" {
		return signerr.Configf("provider.client_secret", "client secret is required")
	}
	if strings.TrimSpace(p.CredentialID) == "" {
		return signerr.Configf("provider.credential_id", "credential id is required")
	}
	if _, err := model.ParseConformanceLevel(p.ConformanceLevel); err != nil {
		return &signerr.ConfigurationError{Setting: "provider.conformance_level", Err: err}
	}
	if _, err := model.ParseSignatureFormat(p.SignatureFormat); err != nil {
		return &signerr.ConfigurationError{Setting: "provider.signature_format", Err: err}
	}
	if _, err := digest.Lookup(p.DigestAlgorithm); err != nil {
		return err
	}
	if p.JWKSURL != "" {
		if err := absoluteURL("provider.jwks_url", p.JWKSURL); err != nil {
			return err
		}
	}

	if err := c.Identity.validate(); err != nil {
		return err
	}
	if c.HTTP.Timeout <= 0 {
		return signerr.Configf("http.timeout", "timeout must be positive")
	}

	if err := absoluteURL("server.public_url", c.Server.PublicURL); err != nil {
		return err
	}
	if c.Server.Listen == "" {
		return signerr.Configf("server.listen", "listen address is required")
	}

	switch c.Session.Backend {
	case SessionMemory:
	case SessionBolt:
		if c.Session.BoltPath == "" {
			return signerr.Configf("session.bolt_path", "bolt backend requires a path")
		}
	case SessionRedis:
		if c.Session.RedisAddr == "" {
			return signerr.Configf("session.redis_addr", "redis backend requires an address")
		}
	default:
		return signerr.Configf("session.backend", "unknown session backend %q", c.Session.Backend)
	}
	if c.Session.TTL <= 0 {
		return signerr.Configf("session.ttl", "ttl must be positive")
	}

	if c.Storage.DocumentDir == "" {
		return signerr.Configf("storage.document_dir", "document directory is required")
	}
	return nil
}

func (i IdentityConfig) validate() error {
	switch i.Type {
	case IdentityPEM:
		if i.CertFile == "" {
			return signerr.Configf("identity.cert_file", "client certificate path is required")
		}
		if i.KeyFile == "" {
			return signerr.Configf("identity.key_file", "client private key path is required")
		}
	case IdentityPKCS12:
		if i.PKCS12File == "" {
			return signerr.Configf("identity.pkcs12_file", "PKCS#12 file is required")
		}
	case IdentityPKCS11:
		if i.PKCS11.LibPath == "" {
			return signerr.Configf("identity.pkcs11.lib_path", "PKCS#11 library path is required")
		}
		if i.PKCS11.KeyID == "" {
			return signerr.Configf("identity.pkcs11.key_id", "PKCS#11 key id is required")
		}
	case IdentityOS:
		if i.Fingerprint == "" {
			return signerr.Configf("identity.fingerprint", "certificate fingerprint is required")
		}
	default:
		return signerr.Configf("identity.type", "unknown identity type %q", i.Type)
	}
	return nil
}

func absoluteURL(setting, raw string) error {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return signerr.Configf(setting, "%q is not an absolute URL", raw)
	}
	return nil
}

// CallbackURL is the redirect URI registered with the provider.
func (c *Config) CallbackURL() string {
	return strings.TrimSuffix(c.Server.PublicURL, "/") + "/sign/callback"
}
